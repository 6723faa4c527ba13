package audioio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	return cfg
}

func TestMockSource_Read(t *testing.T) {
	cfg := testConfig()
	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("second Start should be a no-op: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunk.Samples) != cfg.BufferSize() {
		t.Errorf("expected %d samples, got %d", cfg.BufferSize(), len(chunk.Samples))
	}
	if chunk.Duration() != cfg.BufferDuration {
		t.Errorf("expected duration %v, got %v", cfg.BufferDuration, chunk.Duration())
	}
	if Level(chunk.Samples) == 0 {
		t.Error("sine wave should not be silent")
	}
}

func TestMockSource_ReadAfterClose(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.Close()
	src.Close()

	if _, err := src.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if err := src.Start(context.Background()); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected ErrClosedPipe on restart, got %v", err)
	}
}

func TestMockSink(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)
	ctx := context.Background()

	if err := sink.Write(ctx, AudioChunk{}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write before start should fail, got %v", err)
	}

	sink.Start(ctx)
	sink.Write(ctx, AudioChunk{Samples: []int16{1, 2}})
	sink.Write(ctx, AudioChunk{Samples: []int16{3}})
	if got := len(sink.Chunks()); got != 2 {
		t.Errorf("expected 2 chunks, got %d", got)
	}

	sink.Clear()
	if len(sink.Chunks()) != 0 || sink.Clears() != 1 {
		t.Error("clear should drop chunks")
	}
}

func TestDeviceManager_Exclusive(t *testing.T) {
	m, err := NewDeviceManager(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewDeviceManager: %v", err)
	}

	src, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active handle, got %d", m.Active())
	}

	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("expected ErrDeviceBusy, got %v", err)
	}

	src.Close()
	src.Close()
	if m.Active() != 0 {
		t.Errorf("expected 0 active handles, got %d", m.Active())
	}
	if m.Releases() != 1 {
		t.Errorf("double close must release once, got %d releases", m.Releases())
	}

	again, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	again.Close()
}

func TestDeviceManager_FactoryFailure(t *testing.T) {
	m := NewDeviceManagerWithFactory(testConfig(), func(ctx context.Context, cfg Config, logger *slog.Logger) (Source, error) {
		return nil, ErrPermissionDenied
	}, nil)

	_, err := m.Acquire(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) || !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected DeviceError wrapping ErrPermissionDenied, got %v", err)
	}
	if m.Active() != 0 {
		t.Error("failed acquire must not hold the device")
	}
}

func TestUnsupportedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = "portaudio"

	if _, err := NewDeviceManager(cfg, nil); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("expected ErrUnsupportedBackend, got %v", err)
	}
	if _, err := NewSink(context.Background(), cfg, nil); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("expected ErrUnsupportedBackend, got %v", err)
	}
}

func TestResample(t *testing.T) {
	in := []int16{0, 100, 200, 300}

	if got := Resample(in, 48000, 48000); len(got) != 4 {
		t.Errorf("same rate should pass through, got %v", got)
	}
	if got := Resample(in, 48000, 24000); len(got) != 2 || got[1] != 200 {
		t.Errorf("downsample: got %v", got)
	}
	if got := Resample(in, 24000, 48000); len(got) != 8 || got[1] != 50 {
		t.Errorf("upsample: got %v", got)
	}
}

func TestDownmix(t *testing.T) {
	got := Downmix([]int16{100, 200, -100, 100})
	if len(got) != 2 || got[0] != 150 || got[1] != 0 {
		t.Errorf("Downmix() = %v", got)
	}
}
