package service

import (
	"context"
	"testing"
	"time"

	store "github.com/irdkwmnsb/webrtc-meeting/internal/backend/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/domain"
	"github.com/irdkwmnsb/webrtc-meeting/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomServiceListsActiveRooms(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore()
	c := s.Connect()

	require.NoError(t, c.Set(ctx, "room/r1/s1", "s1"))
	require.NoError(t, c.Set(ctx, "room/r1/s2", "s2"))
	_, err := c.Append(ctx, "chat/r1", map[string]string{"text": "hi"})
	require.NoError(t, err)

	svc := NewRoomService(memory.NewRoomRepository(s), memory.NewEmptyRoomTracker(), time.Minute)

	rooms, err := svc.GetAllActive()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)
	assert.Equal(t, []string{"s1", "s2"}, rooms[0].Participants)
	assert.Equal(t, 1, rooms[0].ChatMessages)

	_, err = svc.GetRoom("r2")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCollectGarbageHonoursGracePeriod(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore()
	c := s.Connect()

	_, err := c.Append(ctx, "chat/orphan", map[string]string{"text": "bye"})
	require.NoError(t, err)
	_, err = c.Append(ctx, "channels/orphan/a/b", map[string]string{"id": "a"})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "room/live/s1", "s1"))
	_, err = c.Append(ctx, "chat/live", map[string]string{"text": "still here"})
	require.NoError(t, err)

	svc := NewRoomService(memory.NewRoomRepository(s), memory.NewEmptyRoomTracker(), time.Minute)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cleaned, err := svc.CollectGarbage(start)
	require.NoError(t, err)
	assert.Empty(t, cleaned)

	cleaned, err = svc.CollectGarbage(start.Add(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, cleaned)

	_, ok, err := s.Get("chat/orphan")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get("channels/orphan")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get("chat/live")
	require.NoError(t, err)
	assert.True(t, ok)
}
