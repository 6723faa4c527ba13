package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/kontext-voice/internal/log"
	"github.com/teslashibe/kontext-voice/pkg/protocol"
	"github.com/teslashibe/kontext-voice/pkg/tools"
)

const subscriberBuffer = 16

// Controller runs at most one voice session at a time.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	status  Status
	handler *protocol.Handler
	cancel  context.CancelFunc
	live    bool // counted in ActiveSessions
	subs    map[chan Status]struct{}
}

// NewController creates a Controller and hooks it to the media session.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Controller{
		cfg:     cfg,
		logger:  log.Or(cfg.Logger, "voice"),
		metrics: cfg.Metrics,
		subs:    make(map[chan Status]struct{}),
		status: Status{
			Connection: StateDisconnected,
			Activity:   protocol.ActivityIdle,
		},
	}

	cfg.Media.OnOpen(c.channelOpened)
	cfg.Media.OnControlMessage(c.controlMessage)
	cfg.Media.OnTransportError(c.transportLost)
	cfg.Media.OnParseError(func(error) { c.metrics.parseError() })
	return c, nil
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe returns a channel of status updates, starting with the current
// status, and a function that ends the subscription. Slow subscribers miss
// intermediate updates but always see the latest one.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, subscriberBuffer)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.status
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Connect starts a session. It is a no-op while connecting or connected.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status.Connection == StateConnecting || c.status.Connection == StateConnected {
		c.mu.Unlock()
		return nil
	}

	h := c.newHandler()
	sessCtx, cancel := context.WithCancel(context.Background())
	c.handler = h
	c.cancel = cancel
	c.status.SessionID = uuid.NewString()
	c.status.Error = ""
	c.setLocked(StateConnecting, protocol.ActivityIdle, MessageConnecting)
	sessionID := c.status.SessionID
	c.mu.Unlock()

	go h.Run(sessCtx)

	logger := c.logger.With("session", sessionID)
	logger.Info("connecting")
	start := time.Now()

	if err := c.cfg.Media.Connect(ctx); err != nil {
		c.mu.Lock()
		current := c.handler == h
		if current {
			c.handler, c.cancel = nil, nil
			c.status.Error = err.Error()
			c.setLocked(StateError, protocol.ActivityError, MessageConnectionFailed)
		}
		c.mu.Unlock()

		cancel()
		if !current {
			// A later Connect owns the transport now.
			logger.Info("superseded connect finished", "error", err)
			return err
		}
		c.cfg.Media.Disconnect()
		c.metrics.connectResult("failure", time.Since(start))
		logger.Warn("connect failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.live = c.handler == h
	c.mu.Unlock()

	c.metrics.connectResult("success", time.Since(start))
	logger.Info("transport negotiated", "duration", time.Since(start))
	return nil
}

// Disconnect ends the session. Calling it repeatedly is harmless.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	wasLive := c.live
	c.live = false
	c.handler, c.cancel = nil, nil
	c.status.Error = ""
	c.setLocked(StateDisconnected, protocol.ActivityIdle, MessageDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.cfg.Media.Disconnect()
	if wasLive {
		c.metrics.sessionEnded()
		c.logger.Info("disconnected")
	}
}

// ToggleMute mutes or unmutes assistant audio.
func (c *Controller) ToggleMute(muted bool) {
	c.cfg.Media.SetOutputMuted(muted)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.MutedOutput = muted
	c.broadcastLocked()
}

// SetActive connects when the voice surface becomes active and disconnects
// when it becomes inactive.
func (c *Controller) SetActive(ctx context.Context, active bool) error {
	c.mu.Lock()
	changed := c.status.Active != active
	c.status.Active = active
	if changed {
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if !active {
		c.Disconnect()
		return nil
	}
	return c.Connect(ctx)
}

func (c *Controller) newHandler() *protocol.Handler {
	h := protocol.NewHandlerWithConfig(protocol.Config{
		Registry:         c.cfg.Registry,
		Sender:           c.cfg.Media,
		Instructions:     c.cfg.Instructions,
		SuccessDelay:     c.cfg.SuccessDelay,
		ErrorDelay:       c.cfg.ErrorDelay,
		ToolTimeout:      c.cfg.ToolTimeout,
		RespondAfterTool: true,
		Logger:           c.cfg.Logger,
	})
	h.OnState(func(a protocol.Activity, msg string) { c.activity(h, a, msg) })
	h.OnToolResult(func(name string, res tools.Result) { c.metrics.toolResult(name, res.Success) })
	h.OnDuplicate(func(string) { c.metrics.duplicate() })
	h.OnProviderError(func(string) { c.metrics.providerError() })
	return h
}

func (c *Controller) current() *protocol.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Controller) channelOpened() {
	c.mu.Lock()
	h := c.handler
	if h == nil {
		c.mu.Unlock()
		return
	}
	c.setLocked(StateConnected, c.status.Activity, c.status.Message)
	c.mu.Unlock()

	h.Opened()
}

func (c *Controller) controlMessage(msg map[string]any) {
	if h := c.current(); h != nil {
		h.Deliver(msg)
	}
}

func (c *Controller) transportLost(err error) {
	c.mu.Lock()
	if c.handler == nil {
		c.mu.Unlock()
		return
	}
	cancel, wasLive := c.cancel, c.live
	c.handler, c.cancel, c.live = nil, nil, false
	c.status.Error = err.Error()
	c.setLocked(StateError, protocol.ActivityError, MessageConnectionLost)
	c.mu.Unlock()

	cancel()
	if wasLive {
		c.metrics.sessionEnded()
	}
	c.logger.Error("transport lost", "error", err)
}

// activity applies a handler transition unless it is stale or would break
// the connected-only invariant.
func (c *Controller) activity(h *protocol.Handler, a protocol.Activity, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != h {
		return
	}
	if a.RequiresConnection() && c.status.Connection != StateConnected {
		c.logger.Debug("dropping activity while not connected", "activity", a)
		return
	}
	if c.status.Activity == a && c.status.Message == msg {
		return
	}
	c.metrics.activity(string(a))
	c.setLocked(c.status.Connection, a, msg)
}

func (c *Controller) setLocked(conn ConnectionState, a protocol.Activity, msg string) {
	c.status.Connection = conn
	c.status.Activity = a
	c.status.Message = msg
	c.broadcastLocked()
}

func (c *Controller) broadcastLocked() {
	for ch := range c.subs {
		select {
		case ch <- c.status:
		default:
			// Drop the oldest update so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c.status:
			default:
			}
		}
	}
}
