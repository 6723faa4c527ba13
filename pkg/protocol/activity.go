package protocol

// Activity is the conversational activity state.
type Activity string

const (
	ActivityIdle          Activity = "idle"
	ActivityListening     Activity = "listening"
	ActivityProcessing    Activity = "processing"
	ActivitySpeaking      Activity = "speaking"
	ActivityExecutingTool Activity = "executing_tool"
	ActivityToolComplete  Activity = "tool_complete"
	ActivityError         Activity = "error"
)

// Status messages shown for each activity.
const (
	MessageReady        = "Ready to listen"
	MessageListening    = "Listening..."
	MessageProcessing   = "Processing..."
	MessageSpeaking     = "Responding..."
	MessageEditing      = "Editing..."
	MessageToolComplete = "Complete"
	MessageError        = "Error"
)

// Message returns the default status message for a.
func (a Activity) Message() string {
	switch a {
	case ActivityListening:
		return MessageListening
	case ActivityProcessing:
		return MessageProcessing
	case ActivitySpeaking:
		return MessageSpeaking
	case ActivityExecutingTool:
		return MessageEditing
	case ActivityToolComplete:
		return MessageToolComplete
	case ActivityError:
		return MessageError
	default:
		return ""
	}
}

// RequiresConnection reports whether a is only valid on a live session.
func (a Activity) RequiresConnection() bool {
	return a != ActivityIdle && a != ActivityError
}

// callSet is the per-session set of function call ids already dispatched.
// Only the handler's loop goroutine touches it.
type callSet map[string]struct{}

// add records id and reports whether it was new.
func (s callSet) add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}
