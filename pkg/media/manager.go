package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/kontext-voice/internal/log"
	"github.com/teslashibe/kontext-voice/pkg/audioio"
	"github.com/teslashibe/kontext-voice/pkg/signaling"
)

// DefaultDataChannelLabel is the control channel name expected by the
// realtime service.
const DefaultDataChannelLabel = "oai-events"

// DefaultICEServers is used when Config.ICEServers is empty.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// Config configures a Manager.
type Config struct {
	// Devices hands out the microphone.
	Devices audioio.DeviceManager

	// Sink plays remote audio. Nil discards it.
	Sink audioio.Sink

	// Signaler exchanges the SDP offer for an answer.
	Signaler Signaler

	// NewPeer creates the transport. Defaults to NewPionPeer.
	NewPeer PeerFactory

	// DataChannelLabel names the control channel.
	DataChannelLabel string

	// ICEServers are STUN/TURN URLs.
	ICEServers []string

	Logger *slog.Logger
}

// Manager owns one voice session's devices and transport.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	sess  *session

	muted atomic.Bool
	level atomic.Uint64 // math.Float64bits of the input RMS

	cbMu             sync.RWMutex
	onOpen           func()
	onMessage        func(map[string]any)
	onTransportError func(error)
	onParseError     func(error)
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Devices == nil {
		return nil, ErrMissingDevices
	}
	if cfg.Signaler == nil {
		return nil, ErrMissingSignaler
	}
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = DefaultDataChannelLabel
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers
	}
	logger := log.Or(cfg.Logger, "media")
	if cfg.NewPeer == nil {
		cfg.NewPeer = func(pc PeerConfig) (PeerConnection, error) {
			return NewPionPeer(pc, logger)
		}
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// OnOpen registers the control channel open callback.
func (m *Manager) OnOpen(fn func()) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onOpen = fn
}

// OnControlMessage registers the callback for decoded control messages.
// Messages are delivered one at a time in arrival order, never before the
// OnOpen callback of their session has run.
func (m *Manager) OnControlMessage(fn func(map[string]any)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onMessage = fn
}

// OnTransportError registers the callback for failures of an established
// session. The session is already torn down when it runs.
func (m *Manager) OnTransportError(fn func(error)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onTransportError = fn
}

// OnParseError registers the callback for malformed control messages.
func (m *Manager) OnParseError(fn func(error)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onParseError = fn
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect acquires the microphone and negotiates the peer connection.
// It is a no-op while a session is connecting or connected. Any failure
// releases everything acquired so far and leaves the Manager in StateError.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	sess := newSession()
	m.sess = sess
	m.state = StateConnecting
	m.mu.Unlock()

	err := m.connect(ctx, sess)

	m.mu.Lock()
	if m.sess != sess {
		// Disconnect won the race and already tore the session down.
		m.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	if err != nil {
		m.sess = nil
		m.state = StateError
		m.mu.Unlock()
		sess.close()
		m.logger.Warn("connect failed", "error", err)
		return err
	}
	m.state = StateConnected
	m.mu.Unlock()

	m.logger.Info("session connected")
	return nil
}

func (m *Manager) connect(ctx context.Context, sess *session) error {
	// The capture device lives as long as the session, not the caller's ctx.
	src, err := m.cfg.Devices.Acquire(sess.ctx)
	if err != nil {
		return &DeviceError{Cause: err}
	}
	if !sess.setCapture(src) {
		return ErrClosed
	}

	peer, err := m.cfg.NewPeer(PeerConfig{
		ICEServers: m.cfg.ICEServers,
		SampleRate: 48000,
		Channels:   1,
	})
	if err != nil {
		return &TransportError{Op: "create", Cause: err}
	}
	if !sess.setPeer(peer) {
		return ErrClosed
	}
	peer.OnTrack(func(t RemoteTrack) { m.adoptRemote(sess, t) })
	peer.OnStateChange(func(s PeerState) { m.peerStateChanged(sess, s) })

	dc, err := peer.CreateDataChannel(m.cfg.DataChannelLabel)
	if err != nil {
		return &TransportError{Op: "create", Cause: err}
	}
	dc.OnOpen(func() { m.channelOpened(sess) })
	dc.OnMessage(func(data []byte) { m.deliver(sess, data) })
	if !sess.setChannel(dc) {
		return ErrClosed
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return &TransportError{Op: "offer", Cause: err}
	}

	answer, err := m.cfg.Signaler.Exchange(ctx, offer)
	if err != nil {
		if errors.Is(err, signaling.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return &TransportError{Op: "signaling", Cause: err}
		}
		return err
	}

	if err := peer.SetAnswer(answer); err != nil {
		return &TransportError{Op: "answer", Cause: err}
	}

	go m.pumpCapture(sess, src, peer)
	return nil
}

// Disconnect tears the session down. Safe to call at any time, repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if sess != nil && sess.close() {
		m.logger.Info("session disconnected")
	}
	m.level.Store(0)
}

// Send encodes v as JSON and sends it on the control channel.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	var dc DataChannel
	if sess != nil {
		dc = sess.dataChannel()
	}
	if dc == nil || !dc.IsOpen() {
		m.logger.Warn("dropping control message, channel not open")
		return ErrChannelNotOpen
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

// SetOutputMuted mutes or unmutes remote audio playback.
func (m *Manager) SetOutputMuted(muted bool) {
	m.muted.Store(muted)
	if muted && m.cfg.Sink != nil {
		m.cfg.Sink.Clear()
	}
}

// OutputMuted reports whether playback is muted.
func (m *Manager) OutputMuted() bool {
	return m.muted.Load()
}

// InputLevel returns the RMS level of the last captured frame in [0, 1].
func (m *Manager) InputLevel() float64 {
	return math.Float64frombits(m.level.Load())
}

func (m *Manager) current(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess == sess
}

// channelOpened and deliver share the session's inbound lock, so the open
// callback always runs before any message and messages keep arrival order.
func (m *Manager) channelOpened(sess *session) {
	sess.inbound.Lock()
	defer sess.inbound.Unlock()

	if sess.opened || !m.current(sess) {
		return
	}
	sess.opened = true
	m.logger.Info("control channel open", "queued", len(sess.pending))

	m.cbMu.RLock()
	fn := m.onOpen
	m.cbMu.RUnlock()
	if fn != nil {
		fn()
	}

	pending := sess.pending
	sess.pending = nil
	for _, data := range pending {
		m.deliverLocked(sess, data)
	}
}

func (m *Manager) deliver(sess *session, data []byte) {
	sess.inbound.Lock()
	defer sess.inbound.Unlock()

	if !sess.opened {
		if len(sess.pending) >= maxPending {
			m.logger.Warn("dropping control message received before open")
			return
		}
		sess.pending = append(sess.pending, append([]byte(nil), data...))
		return
	}
	m.deliverLocked(sess, data)
}

func (m *Manager) deliverLocked(sess *session, data []byte) {
	if !m.current(sess) {
		return
	}

	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil || msg == nil {
		if err == nil {
			err = errors.New("not a JSON object")
		}
		perr := newParseError(data, err)
		m.logger.Warn("malformed control message", "error", perr)

		m.cbMu.RLock()
		fn := m.onParseError
		m.cbMu.RUnlock()
		if fn != nil {
			fn(perr)
		}
		return
	}

	m.cbMu.RLock()
	fn := m.onMessage
	m.cbMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (m *Manager) peerStateChanged(sess *session, s PeerState) {
	m.logger.Debug("peer state", "state", s)
	if !s.Fatal() {
		return
	}

	m.mu.Lock()
	if m.sess != sess || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.state = StateError
	m.mu.Unlock()

	sess.close()
	m.level.Store(0)

	err := &TransportError{Op: "peer", State: s}
	m.logger.Error("transport lost", "error", err)

	m.cbMu.RLock()
	fn := m.onTransportError
	m.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (m *Manager) pumpCapture(sess *session, src audioio.Source, peer PeerConnection) {
	for {
		chunk, err := src.Read(sess.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				m.logger.Warn("capture stopped", "error", err)
			}
			return
		}
		m.level.Store(math.Float64bits(audioio.Level(chunk.Samples)))
		if err := peer.WriteAudio(chunk); err != nil {
			m.logger.Debug("audio write failed", "error", err)
		}
	}
}

func (m *Manager) adoptRemote(sess *session, t RemoteTrack) {
	rs, replaced, ok := sess.adopt(t)
	if !ok {
		t.Stop()
		return
	}
	if replaced {
		if m.cfg.Sink != nil {
			m.cfg.Sink.Clear()
		}
	}
	m.logger.Info("remote audio attached", "track", t.ID())
	go m.playback(sess, rs)
}

func (m *Manager) playback(sess *session, rs *remoteStream) {
	defer rs.stop()
	for {
		chunk, err := rs.track.ReadAudio()
		if err != nil {
			return
		}
		if m.muted.Load() || m.cfg.Sink == nil {
			continue
		}
		if err := m.cfg.Sink.Write(sess.ctx, chunk); err != nil {
			m.logger.Debug("playback write failed", "error", err)
		}
	}
}
