// Package backend describes the presence/event-log service the meeting core is built on.
//
// Data is a tree addressed by slash separated paths. Subscribers observe the direct children
// of a path: existing children are replayed first in insertion order, then additions and
// removals are delivered as they happen. Removing the last child of a node removes the node
// itself, so an emptied presence set is observed as a child removal one level up.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidPath = errors.New("invalid backend path")
	ErrClosed      = errors.New("backend connection is closed")
	ErrRejected    = errors.New("backend rejected the operation")
)

// Event is one child of the subscribed path.
type Event struct {
	Key   string
	Value json.RawMessage
}

// Handler receives events. Handlers of one connection never run concurrently.
type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type Backend interface {
	// Subscribe observes the children of path. onRemove may be nil.
	Subscribe(ctx context.Context, path string, onAdd, onRemove Handler) (Subscription, error)
	// Append adds value under a new, ordered key and returns that key.
	Append(ctx context.Context, path string, value any) (string, error)
	Set(ctx context.Context, path string, value any) error
	Remove(ctx context.Context, path string) error
	// OnDisconnectRemove registers path for removal once this client's connection is gone.
	OnDisconnectRemove(ctx context.Context, path string) error
}

// Encode turns a value into the JSON document stored in the tree.
func Encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("value is not valid json")
		}
		return raw, nil
	}
	return json.Marshal(value)
}
