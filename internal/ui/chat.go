package ui

import (
	"fmt"
	"time"
)

// ChatLine renders one chat message, highlighting the local participant's own messages.
func ChatLine(sender, text string, date time.Time, mine bool) string {
	name := PeerNameStyle.Render(sender)
	if mine {
		name = OwnNameStyle.Render(sender + " (you)")
	}
	return fmt.Sprintf("%s %s: %s", MutedStyle.Render(date.Local().Format(time.TimeOnly)), name, text)
}

// RoomBanner is printed once the participant joined a room.
func RoomBanner(roomID, sessionID, name string) string {
	content := fmt.Sprintf("%s\n\nRoom:     %s\nSession:  %s\nName:     %s\n\n%s",
		TitleStyle.Render("Joined meeting"),
		BoldStyle.Foreground(Primary).Render(roomID),
		MutedStyle.Render(sessionID),
		name,
		MutedStyle.Render("type a message, or /help for commands"),
	)
	return BoxStyle.Render(content)
}
