package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
)

// ReloadDelay is how long the manager waits for a burst of file events to settle.
const ReloadDelay = 200 * time.Millisecond

// Manager holds the configuration of a directory and reloads it when one of the section
// files changes. A reload that fails keeps the previous configuration.
type Manager struct {
	dir      string
	sections []string
	delay    time.Duration

	mu       sync.RWMutex
	cfg      *AppConfig
	onUpdate func(*AppConfig)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewManager(dir string) (*Manager, error) {
	m := &Manager{
		dir:      dir,
		sections: []string{ServerFile, WebRTCFile, ClientFile, TURNFile, LogFile},
		delay:    ReloadDelay,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config dir %s: %w", dir, err)
	}
	m.watcher = watcher

	go m.watch()
	return m, nil
}

func (m *Manager) Get() AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg
}

// Reload reads the directory again and hands the result to the update callback.
func (m *Manager) Reload() error {
	cfg, err := LoadAppConfig(m.dir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	onUpdate := m.onUpdate
	m.mu.Unlock()

	metrics.ConfigReloads.Inc()
	slog.Info("configuration loaded", "dir", m.dir)

	if onUpdate != nil {
		onUpdate(cfg)
	}
	return nil
}

func (m *Manager) SetUpdateCallback(f func(*AppConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = f
}

// Close stops watching. It waits for a reload in progress.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
		if m.watcher != nil {
			<-m.stopped
		}
	})
}

// affects reports whether a file event on name can change the configuration.
func (m *Manager) affects(name string) bool {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".json" {
		return false
	}
	return slices.Contains(m.sections, strings.TrimSuffix(base, ext))
}

func (m *Manager) watch() {
	defer close(m.stopped)
	defer m.watcher.Close()

	reload := time.NewTimer(m.delay)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write|fsnotify.Create) || !m.affects(ev.Name) {
				continue
			}
			slog.Debug("config file changed", "file", ev.Name, "op", ev.Op)
			reload.Reset(m.delay)
		case <-reload.C:
			if err := m.Reload(); err != nil {
				slog.Error("failed to reload config, keeping the previous one", "dir", m.dir, "error", err)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}
