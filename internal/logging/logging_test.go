package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for name, want := range cases {
		got, ok := ParseLevel(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := ParseLevel("verbose")
	assert.False(t, ok)
}

func TestLevelIsShared(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "warn", NoColor: true})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	defer SetLevel("info")
	logger.Debug("shown", "peer", "s1")

	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "peer=s1")
	assert.Equal(t, slog.LevelDebug, Level())
}
