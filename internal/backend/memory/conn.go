package memory

import (
	"context"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
)

// Conn is one client session. Handlers registered through it run one at a time on the
// session's own loop. Close behaves like a lost connection: last wills are executed.
type Conn struct {
	id     uint64
	store  *Store
	loop   *eventloop.Loop
	wills  []string
	subs   map[*subscription]struct{}
	closed bool
}

var _ backend.Backend = (*Conn)(nil)

func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) Subscribe(ctx context.Context, path string, onAdd, onRemove backend.Handler) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.store.subscribe(c, path, onAdd, onRemove)
}

func (c *Conn) Append(ctx context.Context, path string, value any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	segments, raw, err := c.prepare(path, value)
	if err != nil {
		return "", err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.closed {
		return "", backend.ErrClosed
	}
	key := c.store.newKey()
	c.store.set(append(segments, key), raw)
	return key, nil
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segments, raw, err := c.prepare(path, value)
	if err != nil {
		return err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.closed {
		return backend.ErrClosed
	}
	c.store.set(segments, raw)
	return nil
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segments, err := backend.Split(path)
	if err != nil {
		return err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.closed {
		return backend.ErrClosed
	}
	c.store.remove(segments)
	return nil
}

func (c *Conn) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := backend.Split(path); err != nil {
		return err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.closed {
		return backend.ErrClosed
	}
	c.wills = append(c.wills, path)
	return nil
}

// Close drops the session: subscriptions stop and registered last wills run.
func (c *Conn) Close() error {
	c.store.disconnect(c)
	return nil
}

func (c *Conn) prepare(path string, value any) ([]string, []byte, error) {
	segments, err := backend.Split(path)
	if err != nil {
		return nil, nil, err
	}
	raw, err := backend.Encode(value)
	if err != nil {
		return nil, nil, err
	}
	return segments, raw, nil
}
