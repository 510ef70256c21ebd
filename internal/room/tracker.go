// Package room keeps one negotiator per remote participant of a room in sync with the
// room's presence set, and relays the room chat.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/call"
	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
	"github.com/irdkwmnsb/webrtc-meeting/internal/media"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
	"github.com/irdkwmnsb/webrtc-meeting/internal/signalling"
	"github.com/irdkwmnsb/webrtc-meeting/internal/utils"
	"github.com/pion/webrtc/v4"
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = 3 * time.Second
)

var (
	ErrAlreadyJoined = errors.New("room already joined")
	ErrNotJoined     = errors.New("room not joined")
	ErrTrackerClosed = errors.New("room tracker is closed")
)

type Config struct {
	SessionID   string
	RoomID      string
	DisplayName string
	LocalStream *media.LocalStream // nil joins without sending media
	Backend     backend.Backend
	API         *call.API
}

type peer struct {
	id         string
	channel    *signalling.Channel
	negotiator *call.Negotiator
	connection atomic.Int32 // webrtc.PeerConnectionState
}

// Tracker is one session's view of a room. Backend notifications and connection callbacks
// are handled on a single loop; backend writes that nobody waits for go through a second one.
type Tracker struct {
	cfg      Config
	listener Listener

	loop   *eventloop.Loop
	writes *eventloop.Loop

	peers   *utils.SyncMapWrapper[string, *peer]
	members map[string]struct{} // loop only
	local   *media.LocalStream  // loop only

	mu     sync.Mutex
	subs   []backend.Subscription
	joined bool
	closed bool

	cleaned atomic.Bool
}

func New(cfg Config, listener Listener) (*Tracker, error) {
	if cfg.Backend == nil || cfg.API == nil {
		return nil, errors.New("room tracker needs a backend and a webrtc api")
	}
	if err := backend.ValidateKey(cfg.RoomID); err != nil {
		return nil, fmt.Errorf("room id: %w", err)
	}
	if err := backend.ValidateKey(cfg.SessionID); err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	return &Tracker{
		cfg:      cfg,
		listener: listener,
		loop:     eventloop.New("room-" + cfg.RoomID),
		writes:   eventloop.New("room-writes-" + cfg.RoomID),
		peers:    utils.NewSyncMapWrapper[string, *peer](),
		members:  make(map[string]struct{}),
		local:    cfg.LocalStream,
	}, nil
}

func (t *Tracker) SessionID() string {
	return t.cfg.SessionID
}

// Join announces the session in the room and starts following presence and chat. The
// presence entry is removed by the backend if this client goes away without Leave.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTrackerClosed
	}
	if t.joined {
		return ErrAlreadyJoined
	}

	self := backend.MemberPath(t.cfg.RoomID, t.cfg.SessionID)
	if err := t.cfg.Backend.Set(ctx, self, t.cfg.SessionID); err != nil {
		return fmt.Errorf("failed to register presence: %w", err)
	}
	if err := t.cfg.Backend.OnDisconnectRemove(ctx, self); err != nil {
		return fmt.Errorf("failed to register presence removal: %w", err)
	}

	presence, err := t.cfg.Backend.Subscribe(ctx, backend.PresencePath(t.cfg.RoomID),
		func(ev backend.Event) { t.loop.Post(func() { t.memberAdded(ev.Key) }) },
		func(ev backend.Event) { t.loop.Post(func() { t.memberRemoved(ev.Key) }) },
	)
	if err != nil {
		return fmt.Errorf("failed to follow presence: %w", err)
	}
	t.subs = append(t.subs, presence)

	chat, err := t.cfg.Backend.Subscribe(ctx, backend.ChatPath(t.cfg.RoomID),
		func(ev backend.Event) { t.loop.Post(func() { t.chatItemAdded(ev) }) },
		nil,
	)
	if err != nil {
		t.unsubscribeLocked()
		return fmt.Errorf("failed to follow chat: %w", err)
	}
	t.subs = append(t.subs, chat)

	rooms, err := t.cfg.Backend.Subscribe(ctx, backend.RoomsRoot, nil,
		func(ev backend.Event) { t.loop.Post(func() { t.roomRemoved(ev.Key) }) },
	)
	if err != nil {
		t.unsubscribeLocked()
		return fmt.Errorf("failed to follow rooms: %w", err)
	}
	t.subs = append(t.subs, rooms)

	t.joined = true
	slog.Info("joined room", "room", t.cfg.RoomID, "session", t.cfg.SessionID)
	return nil
}

func (t *Tracker) memberAdded(id string) {
	t.members[id] = struct{}{}

	if id == t.cfg.SessionID {
		return
	}
	if _, ok := t.peers.Load(id); ok {
		return
	}

	channel := signalling.NewChannel(t.cfg.Backend, t.cfg.RoomID, t.cfg.SessionID, id, t.writes)
	p := &peer{id: id, channel: channel}
	p.connection.Store(int32(webrtc.PeerConnectionStateNew))

	negotiator, err := t.cfg.API.NewNegotiator(call.NegotiatorConfig{
		PeerID:     id,
		Signals:    channel,
		Local:      t.local,
		Dispatcher: t.loop,
		OnRemoteStream: func(stream *call.RemoteStream) {
			t.listener.RemoteStreamAdded(id, stream)
		},
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			t.connectionChanged(p, s)
		},
	})
	if err != nil {
		slog.Error("failed to create negotiator", "peer", id, "error", err)
		channel.Close()
		return
	}

	p.negotiator = negotiator
	t.peers.Store(id, p)

	t.writes.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		err := channel.Open(ctx, func(sig signalling.Signal) {
			t.loop.Post(func() { t.signalReceived(p, sig) })
		})
		if err != nil && !errors.Is(err, backend.ErrClosed) {
			slog.Warn("failed to open signalling channel", "peer", id, "pair", channel.Key(), "error", err)
		}
	})

	if signalling.IsCaller(t.cfg.SessionID, id) {
		if err := negotiator.InitiateCall(); err != nil {
			slog.Error("failed to start call", "peer", id, "error", err)
		}
	}

	slog.Info("peer joined", "peer", id, "caller", signalling.IsCaller(t.cfg.SessionID, id))
}

func (t *Tracker) connectionChanged(p *peer, s webrtc.PeerConnectionState) {
	previous := webrtc.PeerConnectionState(p.connection.Swap(int32(s)))
	if previous == s {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		slog.Info("call connected", "room", t.cfg.RoomID, "peer", p.id)
	case webrtc.PeerConnectionStateFailed:
		// the negotiator is kept until presence says the peer is gone
		slog.Info("call lost, waiting for the peer to rejoin", "room", t.cfg.RoomID, "peer", p.id)
	}
}

func (t *Tracker) signalReceived(p *peer, sig signalling.Signal) {
	if current, ok := t.peers.Load(p.id); !ok || current != p {
		return
	}
	if err := p.negotiator.HandleSignal(sig); err != nil {
		slog.Warn("failed to handle signal", "peer", p.id, "kind", sig.Kind, "error", err)
	}
}

func (t *Tracker) memberRemoved(id string) {
	delete(t.members, id)

	if id == t.cfg.SessionID {
		return
	}

	p, ok := t.peers.LoadAndDelete(id)
	if !ok {
		return
	}
	t.dropPeer(p)

	slog.Info("peer left", "peer", id)
	t.listener.RemoteStreamRemoved(id)
}

func (t *Tracker) dropPeer(p *peer) {
	p.channel.Close()
	if err := p.negotiator.Close(); err != nil {
		slog.Warn("failed to close negotiator", "peer", p.id, "error", err)
	}
}

func (t *Tracker) chatItemAdded(ev backend.Event) {
	var item ChatItem
	if err := json.Unmarshal(ev.Value, &item); err != nil {
		slog.Warn("skipping undecodable chat item", "room", t.cfg.RoomID, "key", ev.Key, "error", err)
		return
	}
	metrics.ChatMessagesTotal.WithLabelValues("in").Inc()
	t.listener.ChatItemReceived(item)
}

// roomRemoved runs for the first room seen disappearing. Its signalling and chat logs are
// deleted; later removals are left to other clients or to the relay.
func (t *Tracker) roomRemoved(roomID string) {
	if !t.cleaned.CompareAndSwap(false, true) {
		return
	}
	t.writes.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		t.deleteRoomData(ctx, roomID)
	})
}

func (t *Tracker) deleteRoomData(ctx context.Context, roomID string) {
	failed := false
	for _, path := range []string{backend.ChannelsPath(roomID), backend.ChatPath(roomID)} {
		if err := t.cfg.Backend.Remove(ctx, path); err != nil {
			failed = true
			metrics.BackendWriteFailuresTotal.WithLabelValues("cleanup").Inc()
			slog.Warn("failed to delete room data", "path", path, "error", err)
		}
	}
	if !failed {
		metrics.RoomsCleanedTotal.WithLabelValues("client").Inc()
		slog.Debug("room data deleted", "room", roomID)
	}
}

// SendChatMessage appends a chat item without waiting for the backend. Blank text is ignored.
func (t *Tracker) SendChatMessage(text, sessionID string) {
	if isBlank(text) {
		return
	}

	item := newChatItem(sessionID, t.cfg.DisplayName, text, time.Now())
	posted := t.writes.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if _, err := t.cfg.Backend.Append(ctx, backend.ChatPath(t.cfg.RoomID), item); err != nil {
			metrics.BackendWriteFailuresTotal.WithLabelValues("chat").Inc()
			slog.Warn("failed to send chat message", "room", t.cfg.RoomID, "error", err)
			return
		}
		metrics.ChatMessagesTotal.WithLabelValues("out").Inc()
	})
	if !posted {
		slog.Debug("chat message dropped, tracker is closed", "room", t.cfg.RoomID)
	}
}

// IsMyMessage reports whether item was sent by this session under its display name.
func (t *Tracker) IsMyMessage(item ChatItem) bool {
	return item.SessionID == t.cfg.SessionID && item.Sender == t.cfg.DisplayName
}

// ReplaceVideoTrack sends track as video to every connected peer and to peers joining later.
// The previous local video track is returned and keeps running.
func (t *Tracker) ReplaceVideoTrack(ctx context.Context, track *media.Track) (*media.Track, error) {
	var previous *media.Track
	var errs []error

	err := t.loop.Do(ctx, func() {
		t.peers.Range(func(id string, p *peer) bool {
			if err := p.negotiator.ReplaceVideoTrack(track); err != nil {
				errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			}
			return true
		})

		if t.local == nil {
			t.local = media.NewLocalStream(t.cfg.SessionID, nil, track)
			return
		}
		previous = t.local.SetVideoTrack(track)
	})
	if err != nil {
		return nil, err
	}
	return previous, errors.Join(errs...)
}

// Peers returns the ids of the peers with a live negotiator, sorted.
func (t *Tracker) Peers() []string {
	ids := t.peers.Keys()
	slices.Sort(ids)
	return ids
}

// Negotiator exposes the negotiator of a peer for inspection.
func (t *Tracker) Negotiator(peerID string) (*call.Negotiator, bool) {
	p, ok := t.peers.Load(peerID)
	if !ok {
		return nil, false
	}
	return p.negotiator, true
}

// ConnectionState reports the transport state of the call to a peer.
func (t *Tracker) ConnectionState(peerID string) (webrtc.PeerConnectionState, bool) {
	p, ok := t.peers.Load(peerID)
	if !ok {
		return webrtc.PeerConnectionStateUnknown, false
	}
	return webrtc.PeerConnectionState(p.connection.Load()), true
}

// Leave removes the presence entry, stops following the room and drops every negotiator.
// When no other member is left the room's signalling and chat logs are deleted too. Local
// media is not stopped.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return ErrNotJoined
	}
	t.joined = false
	t.unsubscribeLocked()
	t.mu.Unlock()

	removeErr := t.cfg.Backend.Remove(ctx, backend.MemberPath(t.cfg.RoomID, t.cfg.SessionID))
	if removeErr != nil {
		slog.Warn("failed to remove presence", "room", t.cfg.RoomID, "error", removeErr)
	}

	alone := false
	err := t.loop.Do(ctx, func() {
		for _, p := range t.peers.Drain() {
			t.dropPeer(p)
		}
		delete(t.members, t.cfg.SessionID)
		alone = len(t.members) == 0
	})
	if err != nil {
		return errors.Join(removeErr, err)
	}

	if alone && t.cleaned.CompareAndSwap(false, true) {
		t.deleteRoomData(ctx, t.cfg.RoomID)
	}

	slog.Info("left room", "room", t.cfg.RoomID, "session", t.cfg.SessionID)
	return removeErr
}

// Close stops following the room and releases every negotiator. Queued writes get a short
// grace period. Close must not be called from a Listener callback.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.unsubscribeLocked()
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	err := t.loop.Do(ctx, func() {
		for _, p := range t.peers.Drain() {
			t.dropPeer(p)
		}
	})
	if flushErr := t.writes.Flush(ctx); flushErr != nil {
		slog.Warn("pending room writes dropped", "room", t.cfg.RoomID, "error", flushErr)
	}

	t.loop.Close()
	t.writes.Close()
	return err
}

func (t *Tracker) unsubscribeLocked() {
	for _, sub := range t.subs {
		sub.Unsubscribe()
	}
	t.subs = nil
}
