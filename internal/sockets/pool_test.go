package sockets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSocket struct {
	id     SocketID
	closed int
}

func (f *fakeSocket) ID() SocketID { return f.id }
func (f *fakeSocket) WriteJSON(any) error { return nil }
func (f *fakeSocket) ReadJSON(any) error { return nil }
func (f *fakeSocket) SetReadDeadline(time.Time) error { return nil }
func (f *fakeSocket) Close() error {
	f.closed++
	return nil
}

func TestPoolReplacesSocketWithSameID(t *testing.T) {
	pool := NewSocketPool()
	first := &fakeSocket{id: "127.0.0.1:5000"}
	second := &fakeSocket{id: "127.0.0.1:5000"}

	pool.AddSocket(first)
	pool.AddSocket(second)

	assert.Equal(t, 1, first.closed)
	assert.Zero(t, second.closed)
	assert.Equal(t, 1, pool.Len())

	// a stale handler must not evict its replacement
	pool.RemoveSocket(first)
	assert.Equal(t, 1, pool.Len())

	pool.RemoveSocket(second)
	assert.Zero(t, pool.Len())
	assert.Zero(t, second.closed)
}

func TestPoolClose(t *testing.T) {
	pool := NewSocketPool()
	a := &fakeSocket{id: "a"}
	b := &fakeSocket{id: "b"}
	pool.AddSocket(a)
	pool.AddSocket(b)

	assert.Equal(t, 2, pool.Len())

	pool.Close()
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Zero(t, pool.Len())
}
