package voice

import "github.com/teslashibe/kontext-voice/pkg/protocol"

// ConnectionState is the session connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Connection-level status messages.
const (
	MessageConnecting       = "Connecting..."
	MessageDisconnected     = "Disconnected"
	MessageConnectionFailed = "Connection failed"
	MessageConnectionLost   = "Connection lost"
)

// Status is the read-only projection of a session.
type Status struct {
	SessionID   string            `json:"sessionId,omitempty"`
	Connection  ConnectionState   `json:"connectionState"`
	Activity    protocol.Activity `json:"activityState"`
	Message     string            `json:"statusMessage"`
	MutedOutput bool              `json:"mutedOutput"`
	Active      bool              `json:"active"`
	Error       string            `json:"error,omitempty"`
}

// Connected reports whether the control channel is open.
func (s Status) Connected() bool {
	return s.Connection == StateConnected
}
