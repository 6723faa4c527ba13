package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tools package.
var (
	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.New("tools: duplicate tool name")

	// ErrInvalidDefinition indicates a definition without a name or executor.
	ErrInvalidDefinition = errors.New("tools: invalid definition")

	// ErrMissingPrompt indicates editImage was called without a prompt.
	ErrMissingPrompt = errors.New("prompt is required")

	// ErrPanic indicates an executor panicked.
	ErrPanic = errors.New("tools: executor panicked")
)

// ToolExecutionError wraps a failure raised by a tool executor.
// It never escapes Registry.Execute; it is logged and turned into a Result.
type ToolExecutionError struct {
	// Tool is the name of the failing tool.
	Tool string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tools: %s failed: %v", e.Tool, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// EditError is returned by Editors when the edit service could not be
// reached or answered with something unreadable.
type EditError struct {
	// StatusCode is the HTTP status, zero when no response arrived.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *EditError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("edit service error (HTTP %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("edit service error: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *EditError) Unwrap() error {
	return e.Cause
}
