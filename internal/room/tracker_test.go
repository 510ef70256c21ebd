package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/call"
	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/irdkwmnsb/webrtc-meeting/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectTimeout = 20 * time.Second

type events struct {
	mu      sync.Mutex
	added   map[string]int
	removed map[string]int
	chat    []ChatItem
}

func newEvents() *events {
	return &events{added: make(map[string]int), removed: make(map[string]int)}
}

func (e *events) listener() Listener {
	return ListenerFuncs{
		OnStreamAdded: func(peerID string, _ *call.RemoteStream) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.added[peerID]++
		},
		OnStreamRemoved: func(peerID string) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.removed[peerID]++
		},
		OnChatItem: func(item ChatItem) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.chat = append(e.chat, item)
		},
	}
}

func (e *events) addedCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.added[id]
}

func (e *events) removedCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed[id]
}

func (e *events) chatTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	texts := make([]string, 0, len(e.chat))
	for _, item := range e.chat {
		texts = append(texts, item.Text)
	}
	return texts
}

type participant struct {
	tracker *Tracker
	conn    *memory.Conn
	events  *events
	stream  *media.LocalStream
}

func testAPI(t *testing.T) *call.API {
	t.Helper()
	api, err := call.NewAPI(config.WebRTCConfig{
		Codecs:          config.DefaultCodecs(),
		IncludeLoopback: true,
		MulticastDNS:    config.MulticastDNSDisabled,
	})
	require.NoError(t, err)
	return api
}

func join(t *testing.T, store *memory.Store, api *call.API, roomID, sessionID string, withMedia bool) *participant {
	t.Helper()

	var stream *media.LocalStream
	if withMedia {
		var err error
		stream, err = media.Open(context.Background(), media.Constraints{Audio: true, Video: true}, sessionID)
		require.NoError(t, err)
		t.Cleanup(stream.Stop)
	}

	conn := store.Connect()
	ev := newEvents()
	tracker, err := New(Config{
		SessionID:   sessionID,
		RoomID:      roomID,
		DisplayName: "user-" + sessionID,
		LocalStream: stream,
		Backend:     conn,
		API:         api,
	}, ev.listener())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tracker.Close()
		_ = conn.Close()
	})

	require.NoError(t, tracker.Join(context.Background()))
	return &participant{tracker: tracker, conn: conn, events: ev, stream: stream}
}

func TestTwoPeersSeeEachOthersStream(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)

	s1 := join(t, store, api, "r1", "s1", true)
	s2 := join(t, store, api, "r1", "s2", true)

	require.Eventually(t, func() bool {
		return s1.events.addedCount("s2") > 0 && s2.events.addedCount("s1") > 0
	}, connectTimeout, 50*time.Millisecond)

	assert.Equal(t, []string{"s2"}, s1.tracker.Peers())
	assert.Equal(t, []string{"s1"}, s2.tracker.Peers())

	caller, ok := s1.tracker.Negotiator("s2")
	require.True(t, ok)
	assert.Equal(t, call.StateConnected, caller.State())

	require.Eventually(t, func() bool {
		state, ok := s2.tracker.ConnectionState("s1")
		return ok && state == webrtc.PeerConnectionStateConnected
	}, connectTimeout, 50*time.Millisecond)

	_, ok = s1.tracker.ConnectionState("nobody")
	assert.False(t, ok)
}

func TestUngracefulDisconnectRemovesPeerOnce(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)

	s1 := join(t, store, api, "r1", "s1", true)
	s2 := join(t, store, api, "r1", "s2", true)
	s3 := join(t, store, api, "r1", "s3", false)

	require.Eventually(t, func() bool {
		return len(s1.tracker.Peers()) == 2 && len(s3.tracker.Peers()) == 2
	}, connectTimeout, 50*time.Millisecond)

	require.NoError(t, s2.conn.Close())

	require.Eventually(t, func() bool {
		return s1.events.removedCount("s2") == 1 && s3.events.removedCount("s2") == 1
	}, connectTimeout, 50*time.Millisecond)

	// unrelated room traffic after the removal
	_, err := s3.conn.Append(context.Background(), backend.ChatPath("r1"), ChatItem{SessionID: "s3", Text: "still here"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(s1.events.chatTexts()) == 1
	}, connectTimeout, 20*time.Millisecond)

	assert.Equal(t, 1, s1.events.removedCount("s2"))
	assert.Equal(t, 0, s1.events.removedCount("s3"))
	assert.Equal(t, []string{"s3"}, s1.tracker.Peers())

	keys, err := store.Keys(backend.PresencePath("r1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s3"}, keys)
}

func TestChatIsDeliveredInOrder(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)

	s1 := join(t, store, api, "r1", "s1", false)
	for _, text := range []string{"one", "two", "   ", "three"} {
		s1.tracker.SendChatMessage(text, "s1")
	}

	s2 := join(t, store, api, "r1", "s2", false)
	s1.tracker.SendChatMessage("four", "s1")

	want := []string{"one", "two", "three", "four"}
	require.Eventually(t, func() bool {
		return len(s2.events.chatTexts()) == len(want) && len(s1.events.chatTexts()) == len(want)
	}, connectTimeout, 20*time.Millisecond)

	assert.Equal(t, want, s1.events.chatTexts())
	assert.Equal(t, want, s2.events.chatTexts())

	s2.events.mu.Lock()
	item := s2.events.chat[0]
	s2.events.mu.Unlock()
	assert.Equal(t, "s1", item.SessionID)
	assert.Equal(t, "user-s1", item.Sender)
	assert.WithinDuration(t, time.Now(), item.Date, time.Minute)
	assert.True(t, s1.tracker.IsMyMessage(item))
	assert.False(t, s2.tracker.IsMyMessage(item))
}

func TestChatItemWireFormat(t *testing.T) {
	item := newChatItem("s1", "alice", "hi", time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC))
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"s1","sender":"alice","date":"2024-05-01T12:30:00.123Z","text":"hi"}`, string(data))
}

func TestReplaceVideoTrackRaisesNoNewStreams(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)

	s1 := join(t, store, api, "r1", "s1", true)
	s2 := join(t, store, api, "r1", "s2", true)

	require.Eventually(t, func() bool {
		return s1.events.addedCount("s2") >= 2 && s2.events.addedCount("s1") >= 2
	}, connectTimeout, 50*time.Millisecond)
	before := s2.events.addedCount("s1")

	screen, err := media.OpenVideo("", "s1")
	require.NoError(t, err)
	t.Cleanup(screen.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	previous, err := s1.tracker.ReplaceVideoTrack(ctx, screen)
	require.NoError(t, err)
	assert.Same(t, s1.stream.VideoTrack(), screen)
	require.NotNil(t, previous)
	t.Cleanup(previous.Stop)

	negotiator, ok := s1.tracker.Negotiator("s2")
	require.True(t, ok)
	var current any
	require.NoError(t, s1.tracker.loop.Do(ctx, func() { current = negotiator.VideoTrack() }))
	assert.Equal(t, any(screen), current)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, before, s2.events.addedCount("s1"))
}

func TestLeaveAloneDeletesRoomData(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)

	s1 := join(t, store, api, "r1", "s1", false)
	s1.tracker.SendChatMessage("hello", "s1")
	require.Eventually(t, func() bool {
		return len(s1.events.chatTexts()) == 1
	}, connectTimeout, 20*time.Millisecond)

	ctx := context.Background()
	_, err := s1.conn.Append(ctx, "channels/r1/s0/s1", "stale")
	require.NoError(t, err)

	require.NoError(t, s1.tracker.Leave(ctx))

	for _, path := range []string{"room/r1", "chat/r1", "channels/r1"} {
		_, ok, err := store.Get(path)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}
	assert.ErrorIs(t, s1.tracker.Leave(ctx), ErrNotJoined)
}

func TestLeaveWithOthersKeepsRoomData(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)

	s1 := join(t, store, api, "r1", "s1", false)
	s2 := join(t, store, api, "r1", "s2", false)
	s1.tracker.SendChatMessage("hello", "s1")

	require.Eventually(t, func() bool {
		return len(s1.tracker.Peers()) == 1 && len(s2.events.chatTexts()) == 1
	}, connectTimeout, 20*time.Millisecond)

	require.NoError(t, s1.tracker.Leave(context.Background()))
	assert.Empty(t, s1.tracker.Peers())

	require.Eventually(t, func() bool {
		return s2.events.removedCount("s1") == 1
	}, connectTimeout, 20*time.Millisecond)

	_, ok, err := store.Get("chat/r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptiedRoomIsCleanedByObserver(t *testing.T) {
	store := memory.NewStore()
	api := testAPI(t)
	ctx := context.Background()

	join(t, store, api, "r1", "s1", false)

	other := store.Connect()
	require.NoError(t, other.Set(ctx, "room/r2/x", "x"))
	_, err := other.Append(ctx, "chat/r2", ChatItem{SessionID: "x", Text: "bye"})
	require.NoError(t, err)
	_, err = other.Append(ctx, "channels/r2/x/y", "signal")
	require.NoError(t, err)

	require.NoError(t, other.Remove(ctx, "room/r2/x"))

	require.Eventually(t, func() bool {
		_, chatLeft, _ := store.Get("chat/r2")
		_, channelsLeft, _ := store.Get("channels/r2")
		return !chatLeft && !channelsLeft
	}, connectTimeout, 20*time.Millisecond)
}

func TestJoinValidatesIDs(t *testing.T) {
	api := testAPI(t)
	conn := memory.NewStore().Connect()

	_, err := New(Config{SessionID: "s1", RoomID: "bad.room", Backend: conn, API: api}, nil)
	assert.ErrorIs(t, err, backend.ErrInvalidPath)

	tracker, err := New(Config{SessionID: "s1", RoomID: "r1", Backend: conn, API: api}, nil)
	require.NoError(t, err)
	defer tracker.Close()

	require.NoError(t, tracker.Join(context.Background()))
	assert.ErrorIs(t, tracker.Join(context.Background()), ErrAlreadyJoined)
	assert.Empty(t, tracker.Peers())
}
