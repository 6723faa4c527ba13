// Package relay serves the HTTP routes the voice client depends on: the SDP
// relay to the realtime provider and the image-edit endpoint.
package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/kontext-voice/internal/httpc"
	"github.com/teslashibe/kontext-voice/internal/log"
	"github.com/teslashibe/kontext-voice/pkg/tools"
)

// DefaultInstructions are passed to the realtime provider with every offer.
const DefaultInstructions = "You are an AI image editing assistant with voice capabilities. You can see and edit the user's current image using the available tools. Be conversational and helpful."

const contentTypeSDP = "application/sdp"

// Config holds relay configuration.
type Config struct {
	// OpenAIKey authorizes offers. Without it rtc-connect answers 500.
	OpenAIKey string

	RealtimeURL  string
	Model        string
	Voice        string
	Instructions string

	// Editor serves voice-edit. Without it voice-edit answers 500.
	Editor ImageEditor

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Relay holds the route handlers.
type Relay struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Relay.
func New(cfg Config) *Relay {
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.NewClient(0)
	}
	return &Relay{cfg: cfg, logger: log.Or(cfg.Logger, "relay")}
}

// Register mounts the relay routes under r, normally the /api group.
func (rl *Relay) Register(r fiber.Router) {
	r.Post("/rtc-connect", rl.handleRTCConnect)
	r.Post("/voice-edit", rl.handleVoiceEdit)
}

func (rl *Relay) realtimeURL() (string, error) {
	u, err := url.Parse(rl.cfg.RealtimeURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", rl.cfg.Model)
	q.Set("instructions", rl.cfg.Instructions)
	q.Set("voice", rl.cfg.Voice)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handleRTCConnect forwards an SDP offer and returns the provider's answer.
func (rl *Relay) handleRTCConnect(c *fiber.Ctx) error {
	if rl.cfg.OpenAIKey == "" {
		return c.Status(fiber.StatusInternalServerError).SendString("OpenAI API key not configured")
	}

	target, err := rl.realtimeURL()
	if err != nil {
		rl.logger.Error("bad realtime url", "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+rl.cfg.OpenAIKey)

	resp, err := httpc.PostContext(c.UserContext(), rl.cfg.HTTPClient, target, contentTypeSDP, c.Body(), header)
	if err != nil {
		rl.logger.Error("rtc connection error", "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}
	if !resp.OK() {
		perr := &ProviderError{Provider: "OpenAI", StatusCode: resp.StatusCode, Body: string(resp.Body)}
		rl.logger.Warn("offer rejected upstream", "status", resp.StatusCode)
		return c.Status(resp.StatusCode).SendString(perr.Error())
	}

	c.Set(fiber.HeaderContentType, contentTypeSDP)
	return c.Send(resp.Body)
}

type voiceEditRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// handleVoiceEdit runs one image edit and answers in the shape the editImage
// tool expects.
func (rl *Relay) handleVoiceEdit(c *fiber.Ctx) error {
	var req voiceEditRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(tools.EditResponse{
			Error:   err.Error(),
			Message: "Error editing the image: " + err.Error(),
		})
	}
	if req.Prompt == "" || req.ImageURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(tools.EditResponse{
			Error: "prompt and imageUrl are required",
		})
	}
	if req.Width == 0 {
		req.Width = tools.DefaultImageWidth
	}
	if req.Height == 0 {
		req.Height = tools.DefaultImageHeight
	}
	if rl.cfg.Editor == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(tools.EditResponse{
			Error: ErrMissingKey.Error(),
		})
	}

	logger := rl.logger.With("prompt", req.Prompt)
	logger.Info("editing image", "image", req.ImageURL)

	imageURL, err := rl.cfg.Editor.Edit(c.UserContext(), EditInput{
		Prompt:   req.Prompt,
		ImageURL: req.ImageURL,
		Width:    req.Width,
		Height:   req.Height,
	})
	if err != nil {
		logger.Warn("edit failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(tools.EditResponse{
			Error:   err.Error(),
			Message: "Failed to edit the image: " + err.Error(),
		})
	}

	return c.JSON(tools.EditResponse{
		Success:          true,
		ImageURL:         imageURL,
		OriginalImageURL: req.ImageURL,
		Message:          fmt.Sprintf(`Successfully edited the image: "%s"`, req.Prompt),
	})
}
