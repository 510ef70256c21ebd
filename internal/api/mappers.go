package api

import "github.com/irdkwmnsb/webrtc-meeting/internal/domain"

func ToApiRoom(r domain.Room) Room {
	participants := make([]string, len(r.Participants))
	copy(participants, r.Participants)

	return Room{
		ID:           r.ID,
		Participants: participants,
		ChatMessages: r.ChatMessages,
	}
}

func ToApiRooms(rooms []domain.Room) []Room {
	result := make([]Room, len(rooms))
	for i, r := range rooms {
		result[i] = ToApiRoom(r)
	}
	return result
}
