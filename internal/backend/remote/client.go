// Package remote is a backend client talking to a relay over a WebSocket.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
)

// BackendPath is the relay route serving backend sessions.
const BackendPath = "/ws/backend"

type Client struct {
	url    string
	ws     *websocket.Conn
	loop   *eventloop.Loop
	wmu    sync.Mutex
	mu     sync.Mutex
	nextID uint64

	pending map[uint64]chan api.AckMessage
	subs    map[uint64]*subscription
	closed  bool
	done    chan struct{}
}

var _ backend.Backend = (*Client)(nil)

type subscription struct {
	id       uint64
	client   *Client
	onAdd    backend.Handler
	onRemove backend.Handler
}

func (s *subscription) Unsubscribe() {
	s.client.unsubscribe(s.id)
}

// BackendURL turns a relay address into the websocket url of its backend route.
func BackendURL(relay string) string {
	url := strings.TrimSuffix(relay, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://"):
		url = "ws://" + url
	}
	if !strings.HasSuffix(url, BackendPath) {
		url += BackendPath
	}
	return url
}

// Dial connects to the relay. Handlers of all subscriptions run one at a time on the client's loop.
func Dial(ctx context.Context, relay string) (*Client, error) {
	url := BackendURL(relay)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}

	c := &Client{
		url:     url,
		ws:      ws,
		loop:    eventloop.New("backend-client"),
		pending: make(map[uint64]chan api.AckMessage),
		subs:    make(map[uint64]*subscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	slog.Debug("connected to relay", "url", url)
	return c, nil
}

// Done is closed once the connection to the relay is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) Subscribe(ctx context.Context, path string, onAdd, onRemove backend.Handler) (backend.Subscription, error) {
	if _, err := backend.Split(path); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, backend.ErrClosed
	}
	c.nextID++
	sub := &subscription{id: c.nextID, client: c, onAdd: onAdd, onRemove: onRemove}
	// registered before the request so replayed children are not lost
	c.subs[sub.id] = sub
	c.mu.Unlock()

	_, err := c.request(ctx, api.ClientMessage{
		Event:     api.ClientMessageEventSubscribe,
		RequestID: sub.id,
		Path:      path,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (c *Client) Append(ctx context.Context, path string, value any) (string, error) {
	raw, err := backend.Encode(value)
	if err != nil {
		return "", err
	}
	ack, err := c.request(ctx, api.ClientMessage{
		Event:     api.ClientMessageEventAppend,
		RequestID: c.allocateID(),
		Path:      path,
		Value:     raw,
	})
	if err != nil {
		return "", err
	}
	return ack.Key, nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := backend.Encode(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, api.ClientMessage{
		Event:     api.ClientMessageEventSet,
		RequestID: c.allocateID(),
		Path:      path,
		Value:     raw,
	})
	return err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.request(ctx, api.ClientMessage{
		Event:     api.ClientMessageEventRemove,
		RequestID: c.allocateID(),
		Path:      path,
	})
	return err
}

func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	_, err := c.request(ctx, api.ClientMessage{
		Event:     api.ClientMessageEventOnDisconnectRemove,
		RequestID: c.allocateID(),
		Path:      path,
	})
	return err
}

func (c *Client) allocateID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) request(ctx context.Context, msg api.ClientMessage) (api.AckMessage, error) {
	ch := make(chan api.AckMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return api.AckMessage{}, backend.ErrClosed
	}
	c.pending[msg.RequestID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}

	if err := c.write(msg); err != nil {
		forget()
		return api.AckMessage{}, err
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return api.AckMessage{}, backend.ErrClosed
		}
		if ack.Error != "" {
			return ack, fmt.Errorf("%w: %s", backend.ErrRejected, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		forget()
		return api.AckMessage{}, ctx.Err()
	}
}

func (c *Client) unsubscribe(id uint64) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	closed := c.closed
	c.mu.Unlock()

	if !ok || closed {
		return
	}
	// the ack is not awaited, an unknown request id is ignored by readLoop
	if err := c.write(api.ClientMessage{
		Event:          api.ClientMessageEventUnsubscribe,
		RequestID:      c.allocateID(),
		SubscriptionID: id,
	}); err != nil {
		slog.Debug("failed to send unsubscribe", "subscription", id, "error", err)
	}
}

func (c *Client) write(msg api.ClientMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteJSON(msg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return backend.ErrClosed
		}
		return fmt.Errorf("failed to write %s request: %w", msg.Event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.shutdown()

	for {
		var msg api.ServerMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("relay connection lost", "url", c.url, "error", err)
			} else {
				slog.Debug("relay connection closed", "url", c.url, "error", err)
			}
			return
		}

		switch msg.Event {
		case api.ServerMessageEventAck:
			if msg.Ack != nil {
				c.resolve(*msg.Ack)
			}
		case api.ServerMessageEventChildAdded, api.ServerMessageEventChildRemoved:
			if msg.Child != nil {
				c.dispatch(msg.Event, *msg.Child)
			}
		case api.ServerMessageEventPing:
			if err := c.write(api.ClientMessage{Event: api.ClientMessageEventPong, Ping: msg.Ping}); err != nil {
				slog.Debug("failed to answer ping", "error", err)
			}
		default:
			slog.Warn("unexpected relay message", "event", msg.Event)
		}
	}
}

func (c *Client) resolve(ack api.AckMessage) {
	c.mu.Lock()
	ch, ok := c.pending[ack.RequestID]
	delete(c.pending, ack.RequestID)
	c.mu.Unlock()

	if ok {
		ch <- ack
	}
}

func (c *Client) dispatch(event api.ServerMessageEvent, child api.ChildMessage) {
	c.mu.Lock()
	sub, ok := c.subs[child.SubscriptionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	handler := sub.onAdd
	if event == api.ServerMessageEventChildRemoved {
		handler = sub.onRemove
	}
	if handler == nil {
		return
	}

	ev := backend.Event{Key: child.Key, Value: child.Value}
	c.loop.Post(func() {
		c.mu.Lock()
		_, active := c.subs[sub.id]
		c.mu.Unlock()
		if active {
			handler(ev)
		}
	})
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan api.AckMessage)
	c.subs = make(map[uint64]*subscription)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	_ = c.ws.Close()
	c.loop.Close()
	close(c.done)
}
