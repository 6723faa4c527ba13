package audioio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sentinel errors for device acquisition.
var (
	// ErrNoDevice indicates no capture device exists.
	ErrNoDevice = errors.New("audioio: no capture device")

	// ErrPermissionDenied indicates the host refused microphone access.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrDeviceBusy indicates the capture device is already held.
	ErrDeviceBusy = errors.New("audioio: capture device busy")

	// ErrUnsupportedBackend indicates no factory is registered for a backend.
	ErrUnsupportedBackend = errors.New("audioio: unsupported backend")
)

// DeviceError describes a failed device acquisition.
type DeviceError struct {
	// Backend is the backend that failed.
	Backend Backend

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audioio: acquire %s device: %v", e.Backend, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// SourceFactory opens a capture source.
type SourceFactory func(ctx context.Context, cfg Config, logger *slog.Logger) (Source, error)

// SinkFactory opens a playback sink.
type SinkFactory func(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error)

var (
	registryMu sync.RWMutex
	sources    = map[Backend]SourceFactory{
		BackendMock: func(_ context.Context, cfg Config, logger *slog.Logger) (Source, error) {
			return NewMockSource(cfg, logger), nil
		},
	}
	sinks = map[Backend]SinkFactory{
		BackendMock: func(_ context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
			return NewMockSink(cfg, logger), nil
		},
	}
)

// RegisterSource makes a capture backend available to NewDeviceManager.
func RegisterSource(b Backend, f SourceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	sources[b] = f
}

// RegisterSink makes a playback backend available to NewSink.
func RegisterSink(b Backend, f SinkFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	sinks[b] = f
}

// NewSink opens a playback sink for cfg.Backend.
func NewSink(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	registryMu.RLock()
	f, ok := sinks[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return f(ctx, cfg, logger)
}

// DeviceManager hands out exclusive capture handles.
type DeviceManager interface {
	// Acquire opens the capture device. It fails with ErrDeviceBusy while
	// another handle is alive. Closing the returned Source releases it.
	Acquire(ctx context.Context) (Source, error)

	// Active returns the number of live handles (0 or 1).
	Active() int
}

// Manager is the default DeviceManager.
type Manager struct {
	cfg     Config
	factory SourceFactory
	logger  *slog.Logger

	mu       sync.Mutex
	held     bool
	acquires atomic.Int64
	releases atomic.Int64
}

// NewDeviceManager creates a manager for cfg.Backend.
func NewDeviceManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	registryMu.RLock()
	f, ok := sources[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
	return NewDeviceManagerWithFactory(cfg, f, logger), nil
}

// NewDeviceManagerWithFactory creates a manager that opens sources with f.
func NewDeviceManagerWithFactory(cfg Config, f SourceFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		factory: f,
		logger:  logger.With("component", "audioio"),
	}
}

// Acquire implements DeviceManager.
func (m *Manager) Acquire(ctx context.Context) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		return nil, &DeviceError{Backend: m.cfg.Backend, Cause: ErrDeviceBusy}
	}

	src, err := m.factory(ctx, m.cfg, m.logger)
	if err != nil {
		return nil, &DeviceError{Backend: m.cfg.Backend, Cause: err}
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		return nil, &DeviceError{Backend: m.cfg.Backend, Cause: err}
	}

	m.held = true
	m.acquires.Add(1)
	m.logger.Debug("capture device acquired", "backend", src.Name())

	return &handle{Source: src, release: m.release}, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.releases.Add(1)
	m.logger.Debug("capture device released")
}

// Active implements DeviceManager.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return 1
	}
	return 0
}

// Releases returns how many handles have been released over the manager's
// lifetime. Each acquired handle is released at most once.
func (m *Manager) Releases() int64 {
	return m.releases.Load()
}

// Acquires returns how many handles have been acquired.
func (m *Manager) Acquires() int64 {
	return m.acquires.Load()
}

// handle releases its device slot exactly once, on the first Close.
type handle struct {
	Source
	release func()
	once    sync.Once
}

func (h *handle) Close() error {
	err := h.Source.Close()
	h.once.Do(h.release)
	return err
}

var _ DeviceManager = (*Manager)(nil)
