package media

import (
	"errors"
	"fmt"
)

// Sentinel errors for the media package.
var (
	// ErrChannelNotOpen indicates a send while the control channel is closed.
	ErrChannelNotOpen = errors.New("media: control channel not open")

	// ErrClosed indicates the session was torn down during Connect.
	ErrClosed = errors.New("media: session closed")

	// ErrMissingDevices indicates the Manager has no DeviceManager.
	ErrMissingDevices = errors.New("media: device manager is required")

	// ErrMissingSignaler indicates the Manager has no Signaler.
	ErrMissingSignaler = errors.New("media: signaler is required")
)

// DeviceError means the microphone could not be acquired.
type DeviceError struct {
	Cause error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("media: microphone unavailable: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// TransportError means the peer connection failed, either while it was being
// set up or after it was established.
type TransportError struct {
	// Op is the failing step: "create", "offer", "signaling", "answer", "peer".
	Op string

	// State is the peer state for Op == "peer".
	State PeerState

	// Cause is the underlying error, nil for state-driven failures.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("media: transport %s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("media: transport %s: connection %s", e.Op, e.State)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ParseError means a control-channel message was not a JSON object.
type ParseError struct {
	// Data is a prefix of the offending payload.
	Data string

	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("media: malformed control message %q: %v", e.Data, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

func newParseError(data []byte, cause error) *ParseError {
	const max = 64
	s := string(data)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return &ParseError{Data: s, Cause: cause}
}

// IsDeviceError reports whether err is a microphone failure.
func IsDeviceError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr)
}

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
