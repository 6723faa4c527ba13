package voice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/kontext-voice/pkg/protocol"
)

// Common errors returned by the controller.
var (
	ErrMissingMedia    = errors.New("voice: media session is required")
	ErrMissingRegistry = errors.New("voice: tool registry is required")
)

// MediaSession is the part of the media manager the controller drives.
type MediaSession interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(v any) error
	SetOutputMuted(muted bool)
	OnOpen(fn func())
	OnControlMessage(fn func(map[string]any))
	OnTransportError(fn func(error))
	OnParseError(fn func(error))
}

// Config holds the controller's collaborators and tunables.
type Config struct {
	// Media owns devices and transport. Required.
	Media MediaSession

	// Registry declares and runs tools. Required.
	Registry protocol.Registry

	// Instructions overrides the system instruction.
	Instructions string

	// SuccessDelay and ErrorDelay are the revert delays after tool results.
	SuccessDelay time.Duration
	ErrorDelay   time.Duration

	// ToolTimeout bounds each tool call.
	ToolTimeout time.Duration

	// Metrics records session metrics. Nil disables them.
	Metrics *Metrics

	Logger *slog.Logger
}

// DefaultConfig returns a Config with default timings.
func DefaultConfig() Config {
	return Config{
		Instructions: protocol.DefaultInstructions,
		SuccessDelay: protocol.DefaultSuccessDelay,
		ErrorDelay:   protocol.DefaultErrorDelay,
		ToolTimeout:  protocol.DefaultToolTimeout,
	}
}

// Validate checks required collaborators.
func (c Config) Validate() error {
	if c.Media == nil {
		return ErrMissingMedia
	}
	if c.Registry == nil {
		return ErrMissingRegistry
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Instructions == "" {
		c.Instructions = d.Instructions
	}
	if c.SuccessDelay <= 0 {
		c.SuccessDelay = d.SuccessDelay
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = d.ErrorDelay
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	return c
}
