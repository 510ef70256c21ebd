package call

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// BufferSize is the size of RTCP read buffers in bytes.
const BufferSize = 1500

// PacketSink receives every RTP packet of a remote stream, tagged with the track codec.
type PacketSink interface {
	WriteRTP(codec webrtc.RTPCodecParameters, pkt *rtp.Packet) error
}

// RemoteStream groups the tracks a peer sends under one stream id.
type RemoteStream struct {
	peerID string
	id     string

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
	sink   PacketSink

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewRemoteStream(peerID, id string) *RemoteStream {
	return &RemoteStream{peerID: peerID, id: id}
}

func (s *RemoteStream) ID() string {
	return s.id
}

func (s *RemoteStream) PeerID() string {
	return s.peerID
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

// HasKind reports whether a track of kind has arrived.
func (s *RemoteStream) HasKind(kind webrtc.RTPCodecType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// Stats returns the RTP packets and bytes received so far.
func (s *RemoteStream) Stats() (packets, bytes uint64) {
	return s.packets.Load(), s.bytes.Load()
}

// SetSink forwards packets of every track, including tracks that arrive later, to sink.
// A nil sink stops forwarding. The previous sink is returned.
func (s *RemoteStream) SetSink(sink PacketSink) PacketSink {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.sink
	s.sink = sink
	return previous
}

func (s *RemoteStream) currentSink() PacketSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

func (s *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	go s.drain(track)
}

// drain reads the track until the transport is closed.
func (s *RemoteStream) drain(track *webrtc.TrackRemote) {
	codec := track.Codec()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(pkt.MarshalSize()))

		if sink := s.currentSink(); sink != nil {
			// a failing sink only loses its own copy of the stream
			_ = sink.WriteRTP(codec, pkt)
		}
	}
}
