package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:13478":          "ws://localhost:13478/ws/backend",
		"https://meet.example.org/":       "wss://meet.example.org/ws/backend",
		"ws://10.0.0.1:13478":             "ws://10.0.0.1:13478/ws/backend",
		"wss://meet.example.org":          "wss://meet.example.org/ws/backend",
		"localhost:13478":                 "ws://localhost:13478/ws/backend",
		"ws://localhost:13478/ws/backend": "ws://localhost:13478/ws/backend",
	}
	for in, want := range cases {
		assert.Equal(t, want, BackendURL(in), in)
	}
}
