package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/kontext-voice/internal/log"
	"github.com/teslashibe/kontext-voice/pkg/tools"
)

// Default timings.
const (
	DefaultSuccessDelay = 2 * time.Second
	DefaultErrorDelay   = 3 * time.Second
	DefaultToolTimeout  = 5 * time.Minute
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("protocol: handler already started")

// Sender writes an outbound control message.
type Sender interface {
	Send(v any) error
}

// Registry resolves and runs tools.
type Registry interface {
	List() []tools.Definition
	Lookup(name string) (tools.Definition, bool)
	Execute(ctx context.Context, name string, args json.RawMessage) (tools.Result, bool)
}

// Config configures a Handler.
type Config struct {
	Registry Registry
	Sender   Sender

	// Instructions is the system instruction sent on open.
	Instructions string

	// SuccessDelay and ErrorDelay control the revert to listening.
	SuccessDelay time.Duration
	ErrorDelay   time.Duration

	// ToolTimeout bounds each tool run.
	ToolTimeout time.Duration

	// RespondAfterTool sends response.create after each tool result.
	RespondAfterTool bool

	Logger *slog.Logger

	now func() time.Time
}

// DefaultConfig returns a Config with default timings.
func DefaultConfig() Config {
	return Config{
		Instructions:     DefaultInstructions,
		SuccessDelay:     DefaultSuccessDelay,
		ErrorDelay:       DefaultErrorDelay,
		ToolTimeout:      DefaultToolTimeout,
		RespondAfterTool: true,
	}
}

// Option configures a Handler.
type Option func(*Config)

// WithDelays sets the revert delays.
func WithDelays(success, failure time.Duration) Option {
	return func(c *Config) {
		c.SuccessDelay = success
		c.ErrorDelay = failure
	}
}

// WithToolTimeout sets the per-call tool timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ToolTimeout = d
	}
}

// WithInstructions overrides the system instruction.
func WithInstructions(s string) Option {
	return func(c *Config) {
		c.Instructions = s
	}
}

// WithRespondAfterTool toggles response.create after tool results.
func WithRespondAfterTool(on bool) Option {
	return func(c *Config) {
		c.RespondAfterTool = on
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

type inbound struct {
	open bool
	msg  map[string]any
}

type completion struct {
	callID string
	name   string
	result tools.Result
}

// Handler runs the control-channel state machine for one session.
// Register callbacks before Run; they are invoked on the loop goroutine.
type Handler struct {
	cfg    Config
	logger *slog.Logger

	events  chan inbound
	results chan completion
	reverts chan uint64
	done    chan struct{}
	started chan struct{}

	// Owned by the loop goroutine.
	state      Activity
	gen        uint64
	seen       callSet
	current    string
	configured bool
	now        func() time.Time

	onState         func(Activity, string)
	onToolResult    func(name string, res tools.Result)
	onDuplicate     func(callID string)
	onProviderError func(msg string)
}

// NewHandler creates a Handler.
func NewHandler(registry Registry, sender Sender, opts ...Option) *Handler {
	cfg := DefaultConfig()
	cfg.Registry = registry
	cfg.Sender = sender
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewHandlerWithConfig(cfg)
}

// NewHandlerWithConfig creates a Handler from a full Config.
func NewHandlerWithConfig(cfg Config) *Handler {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Handler{
		cfg:     cfg,
		logger:  log.Or(cfg.Logger, "protocol"),
		events:  make(chan inbound, 256),
		results: make(chan completion, 16),
		reverts: make(chan uint64, 4),
		done:    make(chan struct{}),
		started: make(chan struct{}),
		state:   ActivityIdle,
		seen:    make(callSet),
		now:     cfg.now,
	}
}

// OnState registers the activity observer.
func (h *Handler) OnState(fn func(Activity, string)) { h.onState = fn }

// OnToolResult registers a callback for finished tool runs.
func (h *Handler) OnToolResult(fn func(name string, res tools.Result)) { h.onToolResult = fn }

// OnDuplicate registers a callback for suppressed duplicate calls.
func (h *Handler) OnDuplicate(fn func(callID string)) { h.onDuplicate = fn }

// OnProviderError registers a callback for provider error events.
func (h *Handler) OnProviderError(fn func(msg string)) { h.onProviderError = fn }

// Opened reports the control channel opened.
func (h *Handler) Opened() {
	h.enqueue(inbound{open: true})
}

// Deliver queues one decoded inbound event. Events are processed in the
// order Deliver is called. Deliver returns immediately once the handler
// has stopped.
func (h *Handler) Deliver(msg map[string]any) {
	h.enqueue(inbound{msg: msg})
}

func (h *Handler) enqueue(in inbound) {
	select {
	case h.events <- in:
	case <-h.done:
	}
}

// Done is closed when Run returns.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Run processes events until ctx is cancelled. Tool results and revert
// timers that fire afterwards are dropped.
func (h *Handler) Run(ctx context.Context) error {
	select {
	case <-h.started:
		return ErrAlreadyStarted
	default:
		close(h.started)
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("handler stopped", "seen_calls", len(h.seen))
			return ctx.Err()
		case in := <-h.events:
			if in.open {
				h.configure()
				continue
			}
			h.handle(ctx, ParseEvent(in.msg))
		case c := <-h.results:
			h.finish(c)
		case gen := <-h.reverts:
			if gen == h.gen {
				h.setState(ActivityListening, MessageListening)
			}
		}
	}
}

// configure sends session.update once and starts listening.
func (h *Handler) configure() {
	if h.configured {
		return
	}
	h.configured = true

	defs := h.cfg.Registry.List()
	if err := h.cfg.Sender.Send(NewSessionUpdate(defs, h.cfg.Instructions)); err != nil {
		h.logger.Warn("session.update not sent", "error", err)
	}
	h.logger.Info("session configured", "tools", len(defs))
	h.setState(ActivityListening, MessageReady)
}

func (h *Handler) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case TypeTranscriptionCompleted, TypeSpeechStopped:
		h.setState(ActivityProcessing, MessageProcessing)

	case TypeAudioDelta:
		h.setState(ActivitySpeaking, MessageSpeaking)

	case TypeAudioDone:
		if h.state == ActivitySpeaking {
			h.setState(ActivityListening, MessageListening)
		}

	case TypeSpeechStarted:
		h.setState(ActivityListening, MessageListening)

	case TypeFunctionArgsDelta:
		if ev.Name == tools.EditImageName && ev.CallID != h.current {
			h.current = ev.CallID
			h.setState(ActivityExecutingTool, MessageEditing)
		}

	case TypeFunctionArgsDone:
		h.dispatch(ctx, ev)

	case TypeError:
		h.logger.Warn("provider error", "message", ev.ErrorMessage)
		if h.onProviderError != nil {
			h.onProviderError(ev.ErrorMessage)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, ev Event) {
	callID := ev.ResolveCallID(h.now())
	if !h.seen.add(callID) {
		h.logger.Debug("skipping duplicate function call", "call_id", callID)
		if h.onDuplicate != nil {
			h.onDuplicate(callID)
		}
		return
	}

	if _, ok := h.cfg.Registry.Lookup(ev.Name); !ok {
		h.logger.Warn("unknown tool", "tool", ev.Name, "call_id", callID)
		return
	}

	h.current = callID
	if ev.Name == tools.EditImageName {
		h.setState(ActivityExecutingTool, MessageEditing)
	}
	h.logger.Info("calling tool", "tool", ev.Name, "call_id", callID)

	go h.run(ctx, callID, ev.Name, ev.RawArguments())
}

// run executes one tool off the loop and hands the result back.
func (h *Handler) run(ctx context.Context, callID, name string, args json.RawMessage) {
	tctx, cancel := context.WithTimeout(ctx, h.cfg.ToolTimeout)
	defer cancel()

	out := make(chan tools.Result, 1)
	go func() {
		res, _ := h.cfg.Registry.Execute(tctx, name, args)
		out <- res
	}()

	var res tools.Result
	select {
	case res = <-out:
	case <-tctx.Done():
		if ctx.Err() != nil {
			return
		}
		msg := fmt.Sprintf("tool timed out after %v", h.cfg.ToolTimeout)
		res = tools.Failure(msg, fmt.Sprintf("Error running %s: %s", name, msg))
	}

	select {
	case h.results <- completion{callID: callID, name: name, result: res}:
	case <-h.done:
	}
}

func (h *Handler) finish(c completion) {
	if h.current == c.callID {
		h.current = ""
	}
	h.logger.Info("tool finished", "tool", c.name, "call_id", c.callID, "success", c.result.Success)

	switch {
	case !c.result.Success:
		h.setState(ActivityError, MessageError)
		h.armRevert(h.cfg.ErrorDelay)
	case c.name == tools.EditImageName:
		h.setState(ActivityToolComplete, MessageToolComplete)
		h.armRevert(h.cfg.SuccessDelay)
	}

	if err := h.cfg.Sender.Send(NewFunctionCallOutput(c.callID, c.result)); err != nil {
		h.logger.Warn("tool result not sent", "call_id", c.callID, "error", err)
	} else if h.cfg.RespondAfterTool {
		if err := h.cfg.Sender.Send(NewResponseCreate()); err != nil {
			h.logger.Warn("response.create not sent", "error", err)
		}
	}

	if h.onToolResult != nil {
		h.onToolResult(c.name, c.result)
	}
}

// armRevert returns to listening after d unless another transition happens
// first.
func (h *Handler) armRevert(d time.Duration) {
	gen := h.gen
	time.AfterFunc(d, func() {
		select {
		case h.reverts <- gen:
		case <-h.done:
		}
	})
}

func (h *Handler) setState(a Activity, msg string) {
	h.gen++
	h.state = a
	if h.onState != nil {
		h.onState(a, msg)
	}
}
