package api

// Room is the public view of an active room.
type Room struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	ChatMessages int      `json:"chatMessages"`
}

type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Sockets     int    `json:"sockets"`
}
