// Package logging configures the process wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var level = new(slog.LevelVar)

// New builds a tint handler writing to w. Colors are dropped when w is not a terminal.
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	noColor := cfg.NoColor
	if f, ok := w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		noColor = true
	}

	SetLevel(cfg.Level)

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

// Setup installs a stderr logger as the default one.
func Setup(cfg config.LogConfig) *slog.Logger {
	logger := New(os.Stderr, cfg)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of every logger built by New. Unknown names leave it unchanged.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		level.Set(l)
	}
}

func Level() slog.Level {
	return level.Level()
}

func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
