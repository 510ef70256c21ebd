// Package eventloop provides a single goroutine FIFO executor. Everything posted to one Loop
// runs sequentially in post order, which lets callers keep per-peer state without locks.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrLoopClosed = errors.New("event loop is closed")

// Dispatcher accepts work to be run later on a single goroutine.
type Dispatcher interface {
	Post(fn func()) bool
}

type Loop struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func New(name string) *Loop {
	l := &Loop{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)

	go l.run()

	return l
}

// Post enqueues fn. It never blocks and reports false when the loop is already closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Do posts fn and waits for it to finish. It must not be called from inside the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until everything posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	return l.Do(ctx, func() {})
}

// Close drops pending work and stops the loop. The function being executed, if any, completes.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.cond.Signal()
	l.mu.Unlock()
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.execute(fn)
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("panic in event loop handler", "loop", l.name, "error", err)
		}
	}()

	fn()
}
