package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/kontext-voice/internal/log"
)

// Registry holds the declared tools in registration order.
type Registry struct {
	mu     sync.RWMutex
	defs   []Definition
	byName map[string]int
	logger *slog.Logger
}

// NewRegistry creates a registry with the given tools.
// It panics on invalid or duplicate definitions since the table is static.
func NewRegistry(logger *slog.Logger, defs ...Definition) *Registry {
	r := &Registry{
		byName: make(map[string]int),
		logger: log.Or(logger, "tools"),
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Execute == nil {
		return fmt.Errorf("%w: %q", ErrInvalidDefinition, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.byName[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	return nil
}

// List returns all declared tools.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Execute runs the named tool. ok is false when no such tool exists, in
// which case the caller must not send any result. Executor errors and
// panics are returned as failure Results.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (res Result, ok bool) {
	def, found := r.Lookup(name)
	if !found {
		r.logger.Debug("unknown tool", "name", name)
		return Result{}, false
	}

	defer func() {
		if p := recover(); p != nil {
			err := &ToolExecutionError{Tool: name, Cause: fmt.Errorf("%w: %v", ErrPanic, p)}
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			res, ok = failureFor(name, err), true
		}
	}()

	res, err := def.Execute(ctx, args)
	if err != nil {
		execErr := &ToolExecutionError{Tool: name, Cause: err}
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return failureFor(name, execErr), true
	}
	return res, true
}

func failureFor(name string, err *ToolExecutionError) Result {
	msg := err.Cause.Error()
	return Failure(msg, fmt.Sprintf("Error running %s: %s", name, msg))
}
