package relay

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoomsApi() {
	s.app.Route("/api/rooms", func(router fiber.Router) {
		router.Get("/", func(c *fiber.Ctx) error {
			rooms, err := s.rooms.GetAllActive()
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString("Failed to list rooms")
			}
			return c.JSON(api.ToApiRooms(rooms))
		})

		router.Get("/:id", func(c *fiber.Ctx) error {
			room, err := s.rooms.GetRoom(c.Params("id"))
			switch {
			case errors.Is(err, domain.ErrRoomNotFound):
				return c.Status(fiber.StatusNotFound).SendString("Room not found")
			case errors.Is(err, backend.ErrInvalidPath):
				return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
			case err != nil:
				return c.Status(fiber.StatusInternalServerError).SendString("Failed to read room")
			}
			return c.JSON(api.ToApiRoom(room))
		})
	})

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(api.Health{
			Status:      "ok",
			Connections: s.store.ConnectionsCount(),
			Sockets:     s.sockets.Len(),
		})
	})

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
