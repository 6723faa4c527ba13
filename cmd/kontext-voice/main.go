// kontext-voice runs the voice image-editing assistant: the voice session
// controller, its HTTP/websocket surface and the provider relay.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/kontext-voice/internal/config"
	"github.com/teslashibe/kontext-voice/internal/log"
	"github.com/teslashibe/kontext-voice/pkg/audioio"
	"github.com/teslashibe/kontext-voice/pkg/media"
	"github.com/teslashibe/kontext-voice/pkg/relay"
	"github.com/teslashibe/kontext-voice/pkg/signaling"
	"github.com/teslashibe/kontext-voice/pkg/tools"
	"github.com/teslashibe/kontext-voice/pkg/voice"
	"github.com/teslashibe/kontext-voice/pkg/web"
)

func main() {
	cfg, opts := parseFlags()
	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, opts); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

type options struct {
	imageURL  string
	staticDir string
	autoStart bool
}

// parseFlags reads the environment, then lets flags override it.
func parseFlags() (config.Config, options) {
	cfg := config.Load()
	var opts options

	port := flag.String("port", cfg.Port, "HTTP port")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	signalingURL := flag.String("signaling-url", cfg.SignalingURL, "SDP relay endpoint (default: local /api/rtc-connect)")
	editURL := flag.String("edit-url", cfg.EditURL, "Image edit endpoint (default: local /api/voice-edit)")
	backend := flag.String("audio", cfg.AudioBackend, "Audio backend")
	flag.StringVar(&opts.imageURL, "image", "", "Initial image URL")
	flag.StringVar(&opts.staticDir, "static", "", "Directory served at /")
	flag.BoolVar(&opts.autoStart, "start", false, "Connect a voice session on startup")
	flag.Parse()

	cfg.Port, cfg.LogLevel, cfg.AudioBackend = *port, *logLevel, *backend
	cfg.SignalingURL, cfg.EditURL = *signalingURL, *editURL
	if cfg.SignalingURL == "" {
		cfg.SignalingURL = cfg.LocalURL("/api/rtc-connect")
	}
	if cfg.EditURL == "" {
		cfg.EditURL = cfg.LocalURL("/api/voice-edit")
	}
	return cfg, opts
}

func run(ctx context.Context, cfg config.Config, opts options) error {
	logger := log.Component("main")

	acfg := audioio.DefaultConfig()
	acfg.Backend = audioio.Backend(cfg.AudioBackend)

	devices, err := audioio.NewDeviceManager(acfg, log.L())
	if err != nil {
		return err
	}
	sink, err := audioio.NewSink(ctx, acfg, log.L())
	if err != nil {
		return err
	}
	defer sink.Close()
	if err := sink.Start(ctx); err != nil {
		return err
	}

	sig, err := signaling.New(signaling.Config{
		URL:     cfg.SignalingURL,
		Timeout: cfg.SignalingTimeout,
		Logger:  log.L(),
	})
	if err != nil {
		return err
	}

	mgr, err := media.NewManager(media.Config{
		Devices:  devices,
		Sink:     sink,
		Signaler: sig,
		Logger:   log.L(),
	})
	if err != nil {
		return err
	}

	images := tools.NewImageState()
	if opts.imageURL != "" {
		images.Set(tools.Image{URL: opts.imageURL})
	}

	// Set before any session can run a tool.
	var srv *web.Server
	registry := tools.NewDefaultRegistry(log.L(), tools.EditImageConfig{
		Images: images,
		Editor: tools.NewHTTPEditor(cfg.EditURL),
		OnImageActivated: func(original string) {
			logger.Info("edit applied to a different image", "original", original)
		},
		OnImageGenerated: func(generated, prompt string) {
			logger.Info("image generated", "url", generated, "prompt", prompt)
			if img, ok := images.Current(); ok {
				srv.PublishImage(img)
			}
		},
	})

	metrics := voice.NewMetrics(prometheus.DefaultRegisterer, "kontext_voice")
	ctrl, err := voice.NewController(voice.Config{
		Media:       mgr,
		Registry:    registry,
		ToolTimeout: cfg.ToolTimeout,
		Metrics:     metrics,
		Logger:      log.L(),
	})
	if err != nil {
		return err
	}
	defer ctrl.Disconnect()

	rl := relay.New(relay.Config{
		OpenAIKey:   cfg.OpenAIKey,
		RealtimeURL: cfg.RealtimeURL,
		Model:       cfg.RealtimeModel,
		Voice:       cfg.RealtimeVoice,
		Editor:      relay.NewFalClient(cfg.FalURL, cfg.FalModel, cfg.FalKey),
		Logger:      log.L(),
	})
	if cfg.OpenAIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, rtc-connect will refuse offers")
	}
	if cfg.FalKey == "" {
		logger.Warn("FAL_KEY not set, voice-edit will fail")
	}

	srv, err = web.NewServer(web.Config{
		Voice:     ctrl,
		Images:    images,
		Tools:     registry,
		Relay:     rl,
		StaticDir: opts.staticDir,
		Logger:    log.L(),
	})
	if err != nil {
		return err
	}

	if opts.autoStart {
		go func() {
			// The signaling relay is this process, so wait for the listener.
			if err := waitReady(ctx, cfg.LocalURL("/api/voice/status")); err != nil {
				return
			}
			if err := ctrl.SetActive(ctx, true); err != nil {
				logger.Warn("auto start failed", "error", err)
			}
		}()
	}

	logger.Info("starting", "port", cfg.Port, "audio", cfg.AudioBackend, "signaling", cfg.SignalingURL)
	return srv.Run(ctx, ":"+cfg.Port)
}
