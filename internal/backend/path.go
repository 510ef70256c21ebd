package backend

import (
	"fmt"
	"strings"
)

const (
	RoomsRoot    = "room"
	ChatRoot     = "chat"
	ChannelsRoot = "channels"
)

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if err := ValidateKey(s); err != nil {
			return nil, fmt.Errorf("%w: %q", err, path)
		}
	}
	return segments, nil
}

// ValidateKey checks a single path segment.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.ContainsAny(key, ".#$[]/") {
		return fmt.Errorf("%w: forbidden character in %q", ErrInvalidPath, key)
	}
	return nil
}

func PresencePath(roomID string) string {
	return Join(RoomsRoot, roomID)
}

func MemberPath(roomID, sessionID string) string {
	return Join(RoomsRoot, roomID, sessionID)
}

func ChatPath(roomID string) string {
	return Join(ChatRoot, roomID)
}

func ChannelsPath(roomID string) string {
	return Join(ChannelsRoot, roomID)
}
