// Package tools declares the capabilities the realtime assistant may invoke
// during a voice session and executes them locally.
//
// A Registry is a static table: tools are registered once at startup and the
// set never changes while sessions use it. Execute never panics or returns an
// error to the caller; every executor failure becomes a Result with
// Success=false.
package tools

import (
	"context"
	"encoding/json"
)

// Executor runs a tool with its raw JSON arguments.
// Returned errors are converted to failure Results by the Registry.
type Executor func(ctx context.Context, args json.RawMessage) (Result, error)

// Definition describes a tool the assistant can call.
type Definition struct {
	// Name is the function name advertised to the assistant.
	Name string `json:"name"`

	// Description explains when the assistant should use the tool.
	Description string `json:"description"`

	// Parameters is the JSON Schema of the tool arguments.
	Parameters map[string]any `json:"parameters"`

	// Execute is the local implementation.
	Execute Executor `json:"-"`
}

// Result is what a tool returns to the assistant, serialized as the
// function_call_output payload.
type Result struct {
	Success  bool      `json:"success"`
	ImageURL string    `json:"imageUrl,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Error    string    `json:"error,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Analysis is the analyzeImage payload.
type Analysis struct {
	Subject     string   `json:"subject"`
	Suggestions []string `json:"suggestions"`
}

// JSON returns the result encoded for the control channel.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		// Result only holds strings and bools.
		return `{"success":false,"error":"unencodable result"}`
	}
	return string(data)
}

// Failure builds a failed Result.
func Failure(errMsg, message string) Result {
	return Result{
		Success: false,
		Error:   errMsg,
		Message: message,
	}
}
