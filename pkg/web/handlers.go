package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-xrstream/pkg/hub"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.source == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no session",
		})
	}
	return c.JSON(s.source.Status())
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.Events())
}

// handleLink returns the latest link statistics, 204 before the first poll.
func (s *Server) handleLink(c *fiber.Ctx) error {
	s.mu.RLock()
	link := s.link
	s.mu.RUnlock()
	if link == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(link)
}

// handleStatusWS sends the current status, then streams hub events.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if s.source != nil {
		if err := c.WriteJSON(hub.Event{Type: "status", Data: s.source.Status()}); err != nil {
			return
		}
	}
	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		return
	}
	client.Run()
}
