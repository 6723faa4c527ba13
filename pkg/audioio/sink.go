package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker.
type Sink interface {
	// Start begins playback.
	Start(ctx context.Context) error

	// Write queues a chunk for playback.
	Write(ctx context.Context, chunk AudioChunk) error

	// Clear discards queued audio, e.g. when the remote stream is replaced.
	Clear() error

	// Config returns the playback configuration.
	Config() Config

	// Close stops playback and releases the device. Safe to call repeatedly.
	io.Closer
}
