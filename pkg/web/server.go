// Package web serves the HTTP and websocket surface of the voice assistant.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/kontext-voice/internal/log"
	"github.com/teslashibe/kontext-voice/pkg/hub"
	"github.com/teslashibe/kontext-voice/pkg/relay"
	"github.com/teslashibe/kontext-voice/pkg/tools"
	"github.com/teslashibe/kontext-voice/pkg/voice"
)

// Message types pushed over /ws/status.
const (
	MessageStatus = "status"
	MessageImage  = "image"
)

// ErrMissingVoice indicates the server was built without a voice controller.
var ErrMissingVoice = errors.New("web: voice controller is required")

// VoiceController is the part of *voice.Controller the server drives.
type VoiceController interface {
	Status() voice.Status
	Subscribe() (<-chan voice.Status, func())
	Connect(ctx context.Context) error
	Disconnect()
	ToggleMute(muted bool)
	SetActive(ctx context.Context, active bool) error
}

// ToolLister lists the tools offered to the model.
type ToolLister interface {
	List() []tools.Definition
}

// Config holds server configuration.
type Config struct {
	Voice  VoiceController
	Images *tools.ImageState
	Tools  ToolLister

	// Relay is mounted under /api when set.
	Relay *relay.Relay

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	// StaticDir is served at / when set.
	StaticDir string

	Logger *slog.Logger
}

// Server is the web server.
type Server struct {
	cfg    Config
	app    *fiber.App
	status *hub.Hub
	logger *slog.Logger
}

// NewServer creates a server and its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Voice == nil {
		return nil, ErrMissingVoice
	}
	if cfg.Images == nil {
		cfg.Images = tools.NewImageState()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:    cfg,
		status: hub.New("status", cfg.Logger),
		logger: log.Or(cfg.Logger, "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "kontext-voice",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/voice/status", s.handleStatus)
	api.Post("/voice/connect", s.handleConnect)
	api.Post("/voice/disconnect", s.handleDisconnect)
	api.Post("/voice/mute", s.handleMute)
	api.Post("/voice/active", s.handleActive)
	api.Get("/image", s.handleGetImage)
	api.Put("/image", s.handlePutImage)
	api.Delete("/image", s.handleDeleteImage)
	api.Get("/tools", s.handleListTools)
	if cfg.Relay != nil {
		cfg.Relay.Register(api)
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the status hub, streams controller updates into it, and serves
// HTTP on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.status.Run(ctx)

	updates, unsubscribe := s.cfg.Voice.Subscribe()
	go hub.Forward(ctx, s.status, MessageStatus, updates)

	if img, ok := s.cfg.Images.Current(); ok {
		s.PublishImage(img)
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// PublishImage tells websocket clients about the current image.
func (s *Server) PublishImage(img tools.Image) {
	if err := s.status.BroadcastJSON(MessageImage, img); err != nil {
		s.logger.Error("publish image", "error", err)
	}
}

// StatusClients returns the number of connected status websockets.
func (s *Server) StatusClients() int {
	return s.status.ClientCount()
}
