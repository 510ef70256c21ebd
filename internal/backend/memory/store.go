// Package memory is an in-process implementation of the backend tree. A Store holds the data,
// every client gets its own Conn with serialized event delivery and last-will registrations.
package memory

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
)

type Store struct {
	mu     sync.Mutex
	root   *node
	subs   map[string]map[*subscription]struct{}
	conns  map[uint64]*Conn
	nextID uint64
	newKey func() string
}

type subscription struct {
	path     string
	conn     *Conn
	onAdd    backend.Handler
	onRemove backend.Handler
	active   atomic.Bool
}

func (s *subscription) Unsubscribe() {
	s.conn.store.unsubscribe(s)
}

type event struct {
	path    string
	key     string
	value   json.RawMessage
	removed bool
}

type Option func(*Store)

// WithKeyGenerator replaces the ordered key generator used by Append.
func WithKeyGenerator(f func() string) Option {
	return func(s *Store) {
		s.newKey = f
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		root:   newNode(),
		subs:   make(map[string]map[*subscription]struct{}),
		conns:  make(map[uint64]*Conn),
		newKey: newOrderedKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newOrderedKey returns time ordered keys, so logs sort the same way they were appended.
func newOrderedKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Connect opens a new client session on the store.
func (s *Store) Connect() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	c := &Conn{
		id:    s.nextID,
		store: s,
		loop:  eventloop.New("backend-conn"),
		subs:  make(map[*subscription]struct{}),
	}
	s.conns[c.id] = c
	return c
}

func (s *Store) ConnectionsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Keys lists the direct children of path in insertion order.
func (s *Store) Keys(path string) ([]string, error) {
	segments, err := backend.Split(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(segments)
	if n == nil || n.isLeaf() {
		return nil, nil
	}
	return n.keys(), nil
}

// Get returns the JSON rendering of path.
func (s *Store) Get(path string) (json.RawMessage, bool, error) {
	segments, err := backend.Split(path)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(segments)
	if n == nil {
		return nil, false, nil
	}
	return n.marshal(), true, nil
}

// Delete removes path on behalf of the store owner, outside any client session.
func (s *Store) Delete(path string) error {
	segments, err := backend.Split(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(segments)
	return nil
}

func (s *Store) lookup(segments []string) *node {
	n := s.root
	for _, seg := range segments {
		n = n.child(seg)
		if n == nil {
			return nil
		}
	}
	return n
}

func (s *Store) subscribe(c *Conn, path string, onAdd, onRemove backend.Handler) (*subscription, error) {
	segments, err := backend.Split(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, backend.ErrClosed
	}

	sub := &subscription{path: path, conn: c, onAdd: onAdd, onRemove: onRemove}
	sub.active.Store(true)

	if s.subs[path] == nil {
		s.subs[path] = make(map[*subscription]struct{})
	}
	s.subs[path][sub] = struct{}{}
	c.subs[sub] = struct{}{}

	if n := s.lookup(segments); n != nil && !n.isLeaf() {
		for _, key := range n.order {
			s.deliver(sub, event{path: path, key: key, value: n.children[key].marshal()})
		}
	}

	return sub, nil
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropSubscription(sub)
}

func (s *Store) dropSubscription(sub *subscription) {
	sub.active.Store(false)
	if bucket, ok := s.subs[sub.path]; ok {
		delete(bucket, sub)
		if len(bucket) == 0 {
			delete(s.subs, sub.path)
		}
	}
	delete(sub.conn.subs, sub)
}

func (s *Store) deliver(sub *subscription, ev event) {
	handler := sub.onAdd
	if ev.removed {
		handler = sub.onRemove
	}
	if handler == nil {
		return
	}

	e := backend.Event{Key: ev.key, Value: ev.value}
	sub.conn.loop.Post(func() {
		if sub.active.Load() {
			handler(e)
		}
	})
}

func (s *Store) emit(events []event) {
	for _, ev := range events {
		for sub := range s.subs[ev.path] {
			s.deliver(sub, ev)
		}
	}
}

func (s *Store) set(segments []string, value json.RawMessage) {
	var events []event
	var added []*node

	n := s.root
	for i, seg := range segments[:len(segments)-1] {
		c := n.child(seg)
		switch {
		case c == nil:
			c = newNode()
			n.addChild(seg, c)
			events = append(events, event{path: backend.Join(segments[:i]...), key: seg})
			added = append(added, c)
		case c.isLeaf():
			c.value = nil
		}
		n = c
	}

	last := segments[len(segments)-1]
	if existing := n.child(last); existing != nil {
		if !existing.isLeaf() {
			events = append(s.subtreeRemovals(segments, existing), events...)
		}
		existing.children = nil
		existing.order = nil
		existing.value = value
	} else {
		leaf := newLeaf(value)
		n.addChild(last, leaf)
		events = append(events, event{path: backend.Join(segments[:len(segments)-1]...), key: last})
		added = append(added, leaf)
	}

	// values are rendered after the whole write so every event sees the final subtree
	next := 0
	for i := range events {
		if events[i].removed {
			continue
		}
		events[i].value = added[next].marshal()
		next++
	}

	s.emit(events)
}

func (s *Store) remove(segments []string) {
	parents := make([]*node, len(segments))
	n := s.root
	for i, seg := range segments {
		parents[i] = n
		n = n.child(seg)
		if n == nil {
			return
		}
	}

	// ancestors are rendered before the removal, like the removed child itself
	rendered := make([]json.RawMessage, len(segments))
	for i := 1; i < len(segments); i++ {
		rendered[i-1] = parents[i].marshal()
	}
	rendered[len(segments)-1] = n.marshal()

	events := s.subtreeRemovals(segments, n)

	last := len(segments) - 1
	parents[last].removeChild(segments[last])
	events = append(events, event{
		path:    backend.Join(segments[:last]...),
		key:     segments[last],
		value:   rendered[last],
		removed: true,
	})

	for depth := last; depth > 0; depth-- {
		if !parents[depth].isEmpty() {
			break
		}
		parents[depth-1].removeChild(segments[depth-1])
		events = append(events, event{
			path:    backend.Join(segments[:depth-1]...),
			key:     segments[depth-1],
			value:   rendered[depth-1],
			removed: true,
		})
	}

	s.emit(events)
}

// subtreeRemovals reports the children of every subscribed path inside the subtree at segments.
func (s *Store) subtreeRemovals(segments []string, root *node) []event {
	prefix := backend.Join(segments...)

	var events []event
	for path := range s.subs {
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")

		n := root
		if rest != "" {
			for _, seg := range strings.Split(rest, "/") {
				if n = n.child(seg); n == nil {
					break
				}
			}
		}
		if n == nil || n.isLeaf() {
			continue
		}
		for _, key := range n.order {
			events = append(events, event{path: path, key: key, value: n.children[key].marshal(), removed: true})
		}
	}
	return events
}

func (s *Store) disconnect(c *Conn) {
	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		return
	}
	c.closed = true

	for sub := range c.subs {
		s.dropSubscription(sub)
	}

	wills := c.wills
	c.wills = nil
	for _, path := range wills {
		if segments, err := backend.Split(path); err == nil {
			s.remove(segments)
		}
	}

	delete(s.conns, c.id)
	s.mu.Unlock()

	c.loop.Close()
}

// ephemeral reports whether path is covered by a registered last will.
func (s *Store) ephemeral(path string) bool {
	for _, c := range s.conns {
		for _, will := range c.wills {
			if path == will || strings.HasPrefix(path, will+"/") {
				return true
			}
		}
	}
	return false
}
