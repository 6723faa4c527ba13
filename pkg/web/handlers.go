package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/kontext-voice/pkg/hub"
	"github.com/teslashibe/kontext-voice/pkg/tools"
)

// ToolInfo describes an available tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MuteRequest is the body of POST /api/voice/mute.
type MuteRequest struct {
	Muted bool `json:"muted"`
}

// ActiveRequest is the body of POST /api/voice/active.
type ActiveRequest struct {
	Active bool `json:"active"`
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Voice.Status())
}

// handleConnect answers 502 with the resulting status when the session
// could not be established.
func (s *Server) handleConnect(c *fiber.Ctx) error {
	if err := s.cfg.Voice.Connect(c.UserContext()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(s.cfg.Voice.Status())
	}
	return c.JSON(s.cfg.Voice.Status())
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.cfg.Voice.Disconnect()
	return c.JSON(s.cfg.Voice.Status())
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	var req MuteRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	s.cfg.Voice.ToggleMute(req.Muted)
	return c.JSON(s.cfg.Voice.Status())
}

func (s *Server) handleActive(c *fiber.Ctx) error {
	var req ActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.cfg.Voice.SetActive(c.UserContext(), req.Active); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(s.cfg.Voice.Status())
	}
	return c.JSON(s.cfg.Voice.Status())
}

func (s *Server) handleGetImage(c *fiber.Ctx) error {
	img, ok := s.cfg.Images.Current()
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(img)
}

func (s *Server) handlePutImage(c *fiber.Ctx) error {
	var img tools.Image
	if err := c.BodyParser(&img); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if img.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url is required"})
	}

	s.cfg.Images.Set(img)
	img, _ = s.cfg.Images.Current()
	s.PublishImage(img)
	return c.JSON(img)
}

func (s *Server) handleDeleteImage(c *fiber.Ctx) error {
	s.cfg.Images.Clear()
	s.PublishImage(tools.Image{})
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListTools(c *fiber.Ctx) error {
	out := []ToolInfo{}
	if s.cfg.Tools != nil {
		for _, def := range s.cfg.Tools.List() {
			out = append(out, ToolInfo{Name: def.Name, Description: def.Description})
		}
	}
	return c.JSON(out)
}

// handleStatusWS streams status and image updates. The hub replays the
// latest of each on join.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.status, c)
	if client == nil {
		return
	}
	client.Run()
}
