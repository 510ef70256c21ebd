// Package relay serves the meeting backend tree to remote clients.
//
// Every websocket connection on /ws/backend is one backend session backed by its own
// memory.Conn: the client's last wills run when the socket closes or stops answering pings.
// Alongside the websocket the relay exposes a small HTTP surface:
//
//   - GET /api/rooms lists rooms with at least one participant
//   - GET /api/rooms/:id describes one room
//   - GET /health reports liveness and the number of sessions
//   - GET /metrics exposes Prometheus metrics
//
// Non-ephemeral data (chat history and signalling logs) can be snapshotted to a file and is
// restored on start. Rooms left without participants for longer than the grace period have
// their channels and chat collected.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
	repository "github.com/irdkwmnsb/webrtc-meeting/internal/repository/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/service"
	"github.com/irdkwmnsb/webrtc-meeting/internal/sockets"
	"github.com/irdkwmnsb/webrtc-meeting/internal/utils"
)

type Server struct {
	app *fiber.App

	mu     sync.RWMutex
	config config.ServerConfig

	store   *memory.Store
	rooms   *service.RoomService
	sockets *sockets.SocketPool

	roomsCollector utils.IntervalTimer
	snapshotter    utils.IntervalTimer
	closeOnce      sync.Once
}

// NewServer creates the relay and restores the snapshot file when one is configured.
// The returned server must be closed with Close, which also writes the final snapshot.
func NewServer(cfg config.ServerConfig, app *fiber.App) (*Server, error) {
	store := memory.NewStore()
	s := &Server{
		app:     app,
		config:  cfg,
		store:   store,
		rooms:   service.NewRoomService(repository.NewRoomRepository(store), repository.NewEmptyRoomTracker(), cfg.RoomGCGracePeriod()),
		sockets: sockets.NewSocketPool(),
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}

	s.roomsCollector = utils.SetIntervalTimer(cfg.RoomGC(), s.collectRooms)
	if cfg.SnapshotFile != "" {
		s.snapshotter = utils.SetIntervalTimer(cfg.Snapshot(), func() {
			if err := s.SaveSnapshot(); err != nil {
				slog.Error("failed to save snapshot", "file", s.Config().SnapshotFile, "error", err)
			}
		})
	}

	return s, nil
}

func (s *Server) Config() config.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Store exposes the tree served by the relay.
func (s *Server) Store() *memory.Store {
	return s.store
}

// UpdateConfig applies the settings that can change without a restart: ping interval for
// new sessions, the garbage collection period and grace, and the snapshot period.
func (s *Server) UpdateConfig(cfg config.ServerConfig) {
	s.mu.Lock()
	old := s.config
	s.config = cfg
	s.mu.Unlock()

	s.rooms.UpdateGrace(cfg.RoomGCGracePeriod())
	if cfg.RoomGCPeriod != old.RoomGCPeriod {
		s.roomsCollector.Reset(cfg.RoomGC())
	}
	if s.snapshotter != nil && cfg.SnapshotPeriod != old.SnapshotPeriod {
		s.snapshotter.Reset(cfg.Snapshot())
	}
	if cfg.SnapshotFile != old.SnapshotFile || cfg.Port != old.Port {
		slog.Warn("relay port and snapshot file changes apply after restart")
	}
}

// Close stops background work, drops every session and writes the final snapshot.
// It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.roomsCollector.Stop()
		if s.snapshotter != nil {
			s.snapshotter.Stop()
		}
		s.sockets.Close()

		if err := s.SaveSnapshot(); err != nil {
			slog.Error("failed to save snapshot", "file", s.Config().SnapshotFile, "error", err)
		}
	})
}

// SetupRoutes mounts the websocket endpoint and the HTTP api on the fiber app.
func (s *Server) SetupRoutes() {
	s.setupBackendSockets()
	s.setupRoomsApi()
}

func (s *Server) collectRooms() {
	cleaned, err := s.rooms.CollectGarbage(time.Now())
	if err != nil {
		slog.Error("room garbage collection failed", "error", err)
		return
	}
	for _, id := range cleaned {
		slog.Info("collected abandoned room data", "room", id)
		metrics.RoomsCleanedTotal.WithLabelValues("relay").Inc()
	}

	if active, err := s.rooms.GetAllActive(); err == nil {
		metrics.ActiveRooms.Set(float64(len(active)))
	}
}

// SaveSnapshot writes the store to the configured file through a temporary file, so a crash
// never leaves a truncated snapshot behind.
func (s *Server) SaveSnapshot() error {
	path := s.Config().SnapshotFile
	if path == "" {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("can not create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.store.WriteSnapshot(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Server) loadSnapshot() error {
	path := s.Config().SnapshotFile
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no snapshot to restore", "file", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("can not open snapshot: %w", err)
	}
	defer f.Close()

	if err := s.store.ReadSnapshot(f); err != nil {
		return fmt.Errorf("can not restore snapshot %s: %w", path, err)
	}
	slog.Info("restored snapshot", "file", path)
	return nil
}
