// Package signalling carries negotiation messages between two sessions over a shared log in
// the backend. Every message is appended with the sender's session id; a receiver drops its
// own messages.
package signalling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
)

const WriteTimeout = 10 * time.Second

// Envelope is the stored form of a message. Data holds the JSON text of the payload.
type Envelope struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type Channel struct {
	backend backend.Backend
	key     PairKey
	path    string
	localID string
	writes  eventloop.Dispatcher

	mu     sync.Mutex
	sub    backend.Subscription
	closed bool
}

// NewChannel binds the pair log of localID and remoteID in roomID. Writes are posted to
// the writes dispatcher so Send never waits for the backend.
func NewChannel(b backend.Backend, roomID, localID, remoteID string, writes eventloop.Dispatcher) *Channel {
	key := NewPairKey(localID, remoteID)
	return &Channel{
		backend: b,
		key:     key,
		path:    key.Path(roomID),
		localID: localID,
		writes:  writes,
	}
}

func (c *Channel) Key() PairKey {
	return c.key
}

// Open subscribes to the pair log. handler runs in log order for every message not sent by
// this session, including the ones already in the log.
func (c *Channel) Open(ctx context.Context, handler func(Signal)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return backend.ErrClosed
	}
	if c.sub != nil {
		return errors.New("signalling channel already open")
	}

	sub, err := c.backend.Subscribe(ctx, c.path, func(ev backend.Event) {
		sig, ok := c.receive(ev)
		if ok {
			handler(sig)
		}
	}, nil)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.path, err)
	}
	c.sub = sub
	return nil
}

func (c *Channel) receive(ev backend.Event) (Signal, bool) {
	if c.isClosed() {
		return Signal{}, false
	}

	var env Envelope
	if err := json.Unmarshal(ev.Value, &env); err != nil {
		metrics.MalformedSignalsTotal.Inc()
		slog.Warn("dropping undecodable signalling envelope", "pair", c.key, "key", ev.Key, "error", err)
		return Signal{}, false
	}
	if env.ID == c.localID {
		return Signal{}, false
	}

	sig, err := DecodeSignal([]byte(env.Data))
	if err != nil {
		metrics.MalformedSignalsTotal.Inc()
		slog.Warn("dropping malformed signal", "pair", c.key, "from", env.ID, "error", err)
		return Signal{}, false
	}

	metrics.SignallingMessagesTotal.WithLabelValues(sig.Kind.String(), "in").Inc()
	return sig, true
}

// Send appends sig to the pair log. Failures are logged and the message is lost.
func (c *Channel) Send(sig Signal) {
	if c.isClosed() {
		return
	}

	data, err := json.Marshal(sig)
	if err != nil {
		slog.Error("failed to encode signal", "pair", c.key, "error", err)
		return
	}
	env := Envelope{ID: c.localID, Data: string(data)}

	posted := c.writes.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
		defer cancel()

		if _, err := c.backend.Append(ctx, c.path, env); err != nil {
			metrics.BackendWriteFailuresTotal.WithLabelValues("signal").Inc()
			slog.Warn("failed to send signal", "pair", c.key, "kind", sig.Kind, "error", err)
			return
		}
		metrics.SignallingMessagesTotal.WithLabelValues(sig.Kind.String(), "out").Inc()
	})
	if !posted {
		slog.Debug("signal dropped, writer is stopped", "pair", c.key, "kind", sig.Kind)
	}
}

// Close stops delivery. Messages already queued for writing are still sent.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
