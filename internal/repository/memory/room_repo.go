package memory

import (
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	store "github.com/irdkwmnsb/webrtc-meeting/internal/backend/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/domain"
)

// RoomRepository reads rooms straight from the relay's tree store.
type RoomRepository struct {
	store *store.Store
}

func NewRoomRepository(s *store.Store) *RoomRepository {
	return &RoomRepository{store: s}
}

func (r *RoomRepository) GetAll() ([]domain.Room, error) {
	ids, err := r.store.Keys(backend.RoomsRoot)
	if err != nil {
		return nil, err
	}

	rooms := make([]domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.GetByID(id)
		if err != nil {
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (r *RoomRepository) GetByID(id string) (domain.Room, error) {
	if err := backend.ValidateKey(id); err != nil {
		return domain.Room{}, err
	}

	participants, err := r.store.Keys(backend.PresencePath(id))
	if err != nil {
		return domain.Room{}, err
	}
	if len(participants) == 0 {
		return domain.Room{}, domain.ErrRoomNotFound
	}

	chat, err := r.store.Keys(backend.ChatPath(id))
	if err != nil {
		return domain.Room{}, err
	}

	return domain.Room{
		ID:           id,
		Participants: participants,
		ChatMessages: len(chat),
	}, nil
}

func (r *RoomRepository) DataRoomIDs() ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string

	for _, root := range []string{backend.ChannelsRoot, backend.ChatRoot} {
		keys, err := r.store.Keys(root)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			ids = append(ids, k)
		}
	}
	return ids, nil
}

func (r *RoomRepository) DeleteData(id string) error {
	if err := r.store.Delete(backend.ChannelsPath(id)); err != nil {
		return err
	}
	return r.store.Delete(backend.ChatPath(id))
}

type EmptyRoomTracker struct {
	mu    sync.Mutex
	since map[string]time.Time
}

func NewEmptyRoomTracker() *EmptyRoomTracker {
	return &EmptyRoomTracker{since: make(map[string]time.Time)}
}

func (t *EmptyRoomTracker) MarkEmpty(id string, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if since, ok := t.since[id]; ok {
		return since
	}
	t.since[id] = now
	return now
}

func (t *EmptyRoomTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.since, id)
}
