package relay

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
	"github.com/irdkwmnsb/webrtc-meeting/internal/sockets"
)

func (s *Server) setupBackendSockets() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/backend", websocket.New(s.handleBackendSocket, websocket.Config{
		RecoverHandler: func(c *websocket.Conn) {
			if err := recover(); err != nil {
				slog.Error("panic in backend socket handler", "error", err)
				_ = c.WriteJSON(fiber.Map{"error": "internal error"})
			}
		},
	}))
}

func (s *Server) handleBackendSocket(c *websocket.Conn) {
	cfg := s.Config()
	if cfg.MaxMessageLength > 0 {
		c.SetReadLimit(int64(cfg.MaxMessageLength))
	}

	socket := sockets.NewSocket(c)
	s.sockets.AddSocket(socket)

	out := NewConnectionLoop(socket, cfg.Ping())
	out.Start()

	sess := newSession(s.store.Connect(), out)

	metrics.ActiveWebSocketConnections.Inc()
	metrics.WebSocketConnectionsTotal.Inc()
	slog.Debug("backend session opened", "socketID", socket.ID(), "conn", sess.conn.ID())

	defer func() {
		sess.close()
		out.Stop()
		s.sockets.RemoveSocket(socket)
		_ = socket.Close()

		metrics.ActiveWebSocketConnections.Dec()
		metrics.WebSocketDisconnectionsTotal.Inc()
		slog.Debug("backend session closed", "socketID", socket.ID(), "conn", sess.conn.ID())
	}()

	// a client that misses three pings in a row is considered gone
	deadline := 3 * cfg.Ping()
	for {
		if err := socket.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return
		}

		var msg api.ClientMessage
		if err := socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("backend client disconnected", "socketID", socket.ID(), "error", err)
			}
			return
		}

		select {
		case <-out.Done():
			return
		default:
		}

		sess.handle(msg)
	}
}
