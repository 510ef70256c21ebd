package room

import "github.com/irdkwmnsb/webrtc-meeting/internal/call"

// Listener receives tracker events. Calls are made from the tracker's loop, one at a time,
// and must not block.
type Listener interface {
	RemoteStreamAdded(peerID string, stream *call.RemoteStream)
	RemoteStreamRemoved(peerID string)
	ChatItemReceived(item ChatItem)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnStreamAdded   func(peerID string, stream *call.RemoteStream)
	OnStreamRemoved func(peerID string)
	OnChatItem      func(item ChatItem)
}

func (f ListenerFuncs) RemoteStreamAdded(peerID string, stream *call.RemoteStream) {
	if f.OnStreamAdded != nil {
		f.OnStreamAdded(peerID, stream)
	}
}

func (f ListenerFuncs) RemoteStreamRemoved(peerID string) {
	if f.OnStreamRemoved != nil {
		f.OnStreamRemoved(peerID)
	}
}

func (f ListenerFuncs) ChatItemReceived(item ChatItem) {
	if f.OnChatItem != nil {
		f.OnChatItem(item)
	}
}
