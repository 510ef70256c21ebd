package memory

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

type Snapshot struct {
	Version int             `msgpack:"version"`
	Entries []SnapshotEntry `msgpack:"entries"`
}

type SnapshotEntry struct {
	Path  string `msgpack:"path"`
	Value []byte `msgpack:"value"`
}

// Snapshot captures every leaf that is not covered by a last will. Presence entries belong to
// live sessions and would be stale after a restart, so they are left out.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Version: snapshotVersion}
	s.root.walk(nil, func(path []string, value json.RawMessage) {
		p := backend.Join(path...)
		if s.ephemeral(p) {
			return
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{Path: p, Value: append([]byte(nil), value...)})
	})
	return snap
}

// Restore writes the snapshot entries back in their original order.
func (s *Store) Restore(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range snap.Entries {
		segments, err := backend.Split(e.Path)
		if err != nil {
			return fmt.Errorf("can not restore entry %q: %w", e.Path, err)
		}
		if !json.Valid(e.Value) {
			return fmt.Errorf("can not restore entry %q: invalid json value", e.Path)
		}
		s.set(segments, e.Value)
	}
	return nil
}

func (s *Store) WriteSnapshot(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(s.Snapshot())
}

func (s *Store) ReadSnapshot(r io.Reader) error {
	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s.Restore(snap)
}
