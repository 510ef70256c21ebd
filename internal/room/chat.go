package room

import (
	"strings"
	"time"
)

// ChatItem is one entry of the room chat log.
type ChatItem struct {
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
}

func newChatItem(sessionID, sender, text string, now time.Time) ChatItem {
	return ChatItem{
		SessionID: sessionID,
		Sender:    sender,
		Date:      now.UTC().Truncate(time.Millisecond),
		Text:      text,
	}
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
