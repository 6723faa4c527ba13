// Package audioio owns the audio devices of a voice session: the capture
// Source (microphone), the playback Sink (speaker), and the DeviceManager that
// hands out exclusive capture handles.
//
// Only the mock backend ships with the package. Hosts with real hardware
// register a backend with RegisterSource / RegisterSink before creating a
// DeviceManager.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendMock generates synthetic audio and discards playback.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend selects the registered device implementation.
	// Default: "mock"
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 48000 (Opus native rate)
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `json:"channels"`

	// BufferDuration is the size of one audio frame.
	// Default: 20ms, one Opus frame.
	BufferDuration time.Duration `json:"buffer_duration"`

	// Device is a backend-specific device identifier, empty for the default.
	Device string `json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendMock,
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per channel in one frame.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
