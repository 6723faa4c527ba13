package audioio

import (
	"context"
	"io"
	"time"
)

// AudioChunk is one frame of interleaved PCM16 audio.
type AudioChunk struct {
	// Samples contains PCM16 samples, interleaved when stereo.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Duration returns the playback duration of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source captures audio from a microphone.
type Source interface {
	// Start begins audio capture. Starting twice is a no-op.
	Start(ctx context.Context) error

	// Read returns the next chunk, blocking until one is available.
	// It returns io.EOF once the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Config returns the capture configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close stops capture and releases the device. Safe to call repeatedly.
	io.Closer
}
