package service

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/domain"
)

type RoomService struct {
	repo  domain.RoomRepository
	empty domain.EmptyRoomTracker
	grace atomic.Int64
}

func NewRoomService(repo domain.RoomRepository, empty domain.EmptyRoomTracker, grace time.Duration) *RoomService {
	s := &RoomService{
		repo:  repo,
		empty: empty,
	}
	s.grace.Store(int64(grace))
	return s
}

func (s *RoomService) GetAllActive() ([]domain.Room, error) {
	return s.repo.GetAll()
}

func (s *RoomService) GetRoom(id string) (domain.Room, error) {
	return s.repo.GetByID(id)
}

func (s *RoomService) UpdateGrace(grace time.Duration) {
	s.grace.Store(int64(grace))
}

// CollectGarbage deletes channels and chat of rooms that have had no participants for longer
// than the grace period. It returns the ids of the rooms it cleaned.
func (s *RoomService) CollectGarbage(now time.Time) ([]string, error) {
	ids, err := s.repo.DataRoomIDs()
	if err != nil {
		return nil, err
	}

	var cleaned []string
	for _, id := range ids {
		_, err := s.repo.GetByID(id)
		switch {
		case err == nil:
			s.empty.Forget(id)
			continue
		case !errors.Is(err, domain.ErrRoomNotFound):
			slog.Warn("can not inspect room", "room", id, "error", err)
			continue
		}

		if since := s.empty.MarkEmpty(id, now); now.Sub(since) < time.Duration(s.grace.Load()) {
			continue
		}

		if err := s.repo.DeleteData(id); err != nil {
			slog.Error("failed to delete orphaned room data", "room", id, "error", err)
			continue
		}
		s.empty.Forget(id)
		cleaned = append(cleaned, id)
	}

	return cleaned, nil
}
