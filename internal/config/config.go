// Package config provides configuration helpers for kontext-voice commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the voice application.
const (
	DefaultPort             = "8080"
	DefaultLogLevel         = "info"
	DefaultRealtimeModel    = "gpt-4o-realtime-preview-2024-12-17"
	DefaultRealtimeVoice    = "ash"
	DefaultRealtimeURL      = "https://api.openai.com/v1/realtime"
	DefaultFalModel         = "fal-ai/flux-kontext/dev"
	DefaultFalURL           = "https://fal.run"
	DefaultSignalingTimeout = 15 * time.Second
	DefaultToolTimeout      = 5 * time.Minute
	DefaultAudioBackend     = "mock"
)

// Config holds everything cmd/kontext-voice reads from the environment.
type Config struct {
	Port     string
	LogLevel string

	// OpenAIKey authenticates the SDP relay against the realtime provider.
	OpenAIKey     string
	RealtimeURL   string
	RealtimeModel string
	RealtimeVoice string

	// FalKey authenticates image edits.
	FalKey   string
	FalURL   string
	FalModel string

	// SignalingURL is where the voice client posts its SDP offer.
	// Empty means the local relay.
	SignalingURL string

	// EditURL is where the editImage tool posts edit requests.
	// Empty means the local relay.
	EditURL string

	SignalingTimeout time.Duration
	ToolTimeout      time.Duration

	AudioBackend string
}

// Load reads the configuration from environment variables.
func Load() Config {
	return Config{
		Port:             Env("PORT", DefaultPort),
		LogLevel:         Env("LOG_LEVEL", DefaultLogLevel),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		RealtimeURL:      Env("REALTIME_URL", DefaultRealtimeURL),
		RealtimeModel:    Env("REALTIME_MODEL", DefaultRealtimeModel),
		RealtimeVoice:    Env("REALTIME_VOICE", DefaultRealtimeVoice),
		FalKey:           os.Getenv("FAL_KEY"),
		FalURL:           Env("FAL_URL", DefaultFalURL),
		FalModel:         Env("FAL_MODEL", DefaultFalModel),
		SignalingURL:     os.Getenv("SIGNALING_URL"),
		EditURL:          os.Getenv("EDIT_URL"),
		SignalingTimeout: Duration("SIGNALING_TIMEOUT", DefaultSignalingTimeout),
		ToolTimeout:      Duration("TOOL_TIMEOUT", DefaultToolTimeout),
		AudioBackend:     Env("AUDIO_BACKEND", DefaultAudioBackend),
	}
}

// LocalURL returns the URL of a route served by this process.
func (c Config) LocalURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%s%s", c.Port, path)
}

// Env returns the value of key, or def when unset.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Duration parses key as a time.Duration ("15s") or a plain number of
// seconds, falling back to def on absence or parse failure.
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
