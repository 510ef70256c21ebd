package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
)

const operationTimeout = 5 * time.Second

// session serves one backend client on top of its own store connection.
type session struct {
	conn *memory.Conn
	out  *ConnectionLoop

	mu   sync.Mutex
	subs map[uint64]backend.Subscription
}

func newSession(conn *memory.Conn, out *ConnectionLoop) *session {
	return &session{
		conn: conn,
		out:  out,
		subs: make(map[uint64]backend.Subscription),
	}
}

func (s *session) handle(msg api.ClientMessage) {
	if msg.Event == api.ClientMessageEventPong {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	var key string
	var err error

	switch msg.Event {
	case api.ClientMessageEventSubscribe:
		err = s.subscribe(ctx, msg.RequestID, msg.Path)
	case api.ClientMessageEventUnsubscribe:
		s.unsubscribe(msg.SubscriptionID)
	case api.ClientMessageEventAppend:
		key, err = s.conn.Append(ctx, msg.Path, msg.Value)
	case api.ClientMessageEventSet:
		err = s.conn.Set(ctx, msg.Path, msg.Value)
	case api.ClientMessageEventRemove:
		err = s.conn.Remove(ctx, msg.Path)
	case api.ClientMessageEventOnDisconnectRemove:
		err = s.conn.OnDisconnectRemove(ctx, msg.Path)
	default:
		err = errors.New("unknown event")
	}

	result := "ok"
	ack := &api.AckMessage{RequestID: msg.RequestID, Key: key}
	if err != nil {
		result = "error"
		ack.Error = err.Error()
		slog.Debug("backend operation failed", "event", msg.Event, "path", msg.Path, "error", err)
	}
	metrics.BackendOperationsTotal.WithLabelValues(string(msg.Event), result).Inc()

	s.out.SendMessage(api.ServerMessage{Event: api.ServerMessageEventAck, Ack: ack})
}

func (s *session) subscribe(ctx context.Context, id uint64, path string) error {
	s.mu.Lock()
	_, exists := s.subs[id]
	s.mu.Unlock()
	if exists {
		return errors.New("subscription id is already in use")
	}

	forward := func(event api.ServerMessageEvent) backend.Handler {
		return func(ev backend.Event) {
			metrics.BackendEventsTotal.WithLabelValues(string(event)).Inc()
			s.out.SendMessage(api.ServerMessage{
				Event: event,
				Child: &api.ChildMessage{SubscriptionID: id, Key: ev.Key, Value: ev.Value},
			})
		}
	}

	sub, err := s.conn.Subscribe(ctx, path,
		forward(api.ServerMessageEventChildAdded),
		forward(api.ServerMessageEventChildRemoved))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()
	return nil
}

func (s *session) unsubscribe(id uint64) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

// close drops the store connection, which runs the client's last wills.
func (s *session) close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]backend.Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	_ = s.conn.Close()
}
