package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/stretchr/testify/assert"
)

func TestRoomsView(t *testing.T) {
	view := RoomsView([]api.Room{
		{ID: "standup", Participants: []string{"a", "b"}, ChatMessages: 3},
		{ID: "all-hands", Participants: []string{"a", "b", "c", "d", "e", "f"}},
	})

	assert.Contains(t, view, "standup")
	assert.Contains(t, view, "a, b, c, d, +2")
	assert.Contains(t, view, "Messages")
}

func TestEmptyViews(t *testing.T) {
	assert.Contains(t, RoomsView(nil), "No active rooms")
	assert.Contains(t, PeersView(nil), "Nobody else is here")
}

func TestPeersViewShowsConnection(t *testing.T) {
	view := PeersView([]PeerRow{{ID: "s2", State: "connected", Connection: "failed", Tracks: 2}})

	assert.Contains(t, view, "s2")
	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "Connection")
}

func TestChatLineMarksOwnMessages(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	assert.Contains(t, ChatLine("ann", "hi", date, true), "ann (you)")
	assert.NotContains(t, ChatLine("bob", "hi", date, false), "(you)")
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, "relay unreachable")
	PrintInfo(&buf, "peer joined")

	assert.Contains(t, buf.String(), "relay unreachable")
	assert.Contains(t, buf.String(), "peer joined")
}
