package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
)

const maxParticipantsShown = 4

func styledTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// RoomsView renders the relay's active rooms.
func RoomsView(rooms []api.Room) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No active rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		rows = append(rows, []string{
			r.ID,
			strconv.Itoa(len(r.Participants)),
			participantsSummary(r.Participants),
			strconv.Itoa(r.ChatMessages),
		})
	}
	return styledTable([]string{"Room", "People", "Participants", "Messages"}, rows)
}

func participantsSummary(ids []string) string {
	if len(ids) <= maxParticipantsShown {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:maxParticipantsShown], ", ") + ", +" + strconv.Itoa(len(ids)-maxParticipantsShown)
}

// PeerRow describes one call for the peers table.
type PeerRow struct {
	ID         string
	State      string
	Connection string
	Tracks     int
}

func PeersView(peers []PeerRow) string {
	if len(peers) == 0 {
		return MutedStyle.Render("Nobody else is here")
	}

	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, []string{p.ID, p.State, p.Connection, strconv.Itoa(p.Tracks)})
	}
	return styledTable([]string{"Peer", "State", "Connection", "Tracks"}, rows)
}
