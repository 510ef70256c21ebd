package domain

import (
	"errors"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

type Room struct {
	ID           string
	Participants []string
	ChatMessages int
}

func (r *Room) IsEmpty() bool {
	return len(r.Participants) == 0
}

// RoomRepository reads the meeting layout of the backend tree.
type RoomRepository interface {
	GetAll() ([]Room, error)
	GetByID(id string) (Room, error)
	// DataRoomIDs lists rooms that still own signalling channels or chat history.
	DataRoomIDs() ([]string, error)
	DeleteData(id string) error
}

// EmptyRoomTracker remembers since when a room has been seen without participants.
type EmptyRoomTracker interface {
	MarkEmpty(id string, now time.Time) time.Time
	Forget(id string)
}
