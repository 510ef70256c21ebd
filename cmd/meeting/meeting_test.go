package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/irdkwmnsb/webrtc-meeting/internal/call"
	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/irdkwmnsb/webrtc-meeting/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	server, err := relay.NewServer(config.DefaultAppConfig().Server, app)
	require.NoError(t, err)
	server.SetupRoutes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
		server.Close()
	})
	return server, "http://" + ln.Addr().String()
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line    string
		command command
		ok      bool
	}{
		{line: "hello there", ok: false},
		{line: "/quit", command: command{name: "quit"}, ok: true},
		{line: "  /SHARE  demo.ivf ", command: command{name: "share", arg: "demo.ivf"}, ok: true},
		{line: "/share", command: command{name: "share"}, ok: true},
	}
	for _, c := range cases {
		got, ok := parseCommand(c.line)
		assert.Equal(t, c.ok, ok, c.line)
		assert.Equal(t, c.command, got, c.line)
	}
}

func TestHTTPURL(t *testing.T) {
	assert.Equal(t, "http://localhost:13478", httpURL("ws://localhost:13478/"))
	assert.Equal(t, "https://meet.example.org", httpURL("wss://meet.example.org"))
	assert.Equal(t, "http://10.0.0.1:13478", httpURL("10.0.0.1:13478"))
	assert.Equal(t, "https://meet.example.org", httpURL("https://meet.example.org"))
}

func TestFetchRooms(t *testing.T) {
	server, addr := startRelay(t)

	conn := server.Store().Connect()
	require.NoError(t, conn.Set(context.Background(), "room/standup/s1", "s1"))

	rooms, err := fetchRooms(addr)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "standup", rooms[0].ID)
	assert.Equal(t, []string{"s1"}, rooms[0].Participants)
}

func TestMeetingChatAndQuit(t *testing.T) {
	server, addr := startRelay(t)

	api, err := call.NewAPI(config.DefaultAppConfig().WebRTC)
	require.NoError(t, err)

	out := &syncBuffer{}
	in, input := io.Pipe()
	m := &meeting{
		out:       out,
		sessionID: "s1",
		name:      "ann",
		streams:   make(map[string]*call.RemoteStream),
	}

	done := make(chan error, 1)
	go func() {
		done <- m.run(context.Background(), addr, "standup", api, joinOptions{}, in)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Joined meeting")
	}, 5*time.Second, 20*time.Millisecond)

	_, err = io.WriteString(input, "hello everyone\n/peers\n/audio\n")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "hello everyone") &&
			strings.Contains(s, "ann (you)") &&
			strings.Contains(s, "Nobody else is here") &&
			strings.Contains(s, "no local audio")
	}, 5*time.Second, 20*time.Millisecond)

	_, err = io.WriteString(input, "/quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("meeting did not quit")
	}
	_ = input.Close()

	// the last participant leaving deletes the room's chat
	assert.Eventually(t, func() bool {
		keys, err := server.Store().Keys("chat")
		return err == nil && len(keys) == 0
	}, 5*time.Second, 20*time.Millisecond)
}
