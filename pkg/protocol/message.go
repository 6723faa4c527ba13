// Package protocol interprets the realtime control-channel event stream.
//
// Inbound events are JSON objects discriminated by "type". A Handler consumes
// them in arrival order on a single goroutine, keeps the activity state
// machine, suppresses duplicate function calls and sends tool results back.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a control-channel event.
type MessageType string

const (
	// Provider → client events
	TypeTranscriptionCompleted MessageType = "conversation.item.input_audio_transcription.completed"
	TypeAudioDelta             MessageType = "response.audio.delta"
	TypeAudioDone              MessageType = "response.audio.done"
	TypeSpeechStarted          MessageType = "input_audio_buffer.speech_started"
	TypeSpeechStopped          MessageType = "input_audio_buffer.speech_stopped"
	TypeFunctionArgsDelta      MessageType = "response.function_call_arguments.delta"
	TypeFunctionArgsDone       MessageType = "response.function_call_arguments.done"
	TypeError                  MessageType = "error"

	// Client → provider events
	TypeSessionUpdate      MessageType = "session.update"
	TypeConversationCreate MessageType = "conversation.item.create"
	TypeResponseCreate     MessageType = "response.create"
)

// ItemFunctionCallOutput is the conversation item type for tool results.
const ItemFunctionCallOutput = "function_call_output"

// Event is the part of an inbound event the handler cares about.
type Event struct {
	Type MessageType

	// Name is the tool name on function-call events.
	Name string

	// CallID is the provider call id, possibly empty.
	CallID string

	// Arguments is the raw JSON argument string on "done" events.
	Arguments string

	// ErrorMessage is set on provider error events.
	ErrorMessage string
}

// ParseEvent extracts an Event from a decoded JSON object.
func ParseEvent(msg map[string]any) Event {
	ev := Event{}
	if t, ok := msg["type"].(string); ok {
		ev.Type = MessageType(t)
	}
	ev.Name, _ = msg["name"].(string)
	ev.CallID, _ = msg["call_id"].(string)
	ev.Arguments, _ = msg["arguments"].(string)

	if errData, ok := msg["error"].(map[string]any); ok {
		ev.ErrorMessage, _ = errData["message"].(string)
	}
	return ev
}

// ResolveCallID returns the provider call id, or synthesizes
// "<name>-<unix millis>" when the provider sent none.
func (e Event) ResolveCallID(now time.Time) string {
	if e.CallID != "" {
		return e.CallID
	}
	return fmt.Sprintf("%s-%d", e.Name, now.UnixMilli())
}

// RawArguments returns the arguments as JSON, "{}" when absent.
func (e Event) RawArguments() json.RawMessage {
	if e.Arguments == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(e.Arguments)
}
