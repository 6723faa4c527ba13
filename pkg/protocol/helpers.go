package protocol

import (
	"github.com/teslashibe/kontext-voice/pkg/tools"
)

// DefaultInstructions is the system instruction sent with session.update.
const DefaultInstructions = `You are an AI image editing assistant with voice capabilities. You can see and edit the user's current image.

When users ask you to edit their image, use the editImage function with detailed, specific prompts.
Be conversational and encouraging. Explain what you're doing as you edit images.
The user has an image loaded that you can edit using your tools.`

// SessionUpdate configures the provider session.
type SessionUpdate struct {
	Type    MessageType   `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the body of a session.update event.
type SessionConfig struct {
	Modalities   []string   `json:"modalities"`
	Tools        []ToolSpec `json:"tools"`
	Instructions string     `json:"instructions"`
}

// ToolSpec declares one function to the provider.
type ToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ConversationItemCreate carries a tool result.
type ConversationItemCreate struct {
	Type MessageType        `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

// FunctionCallOutput is a function_call_output conversation item.
type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`

	// Output is the JSON-encoded tools.Result.
	Output string `json:"output"`
}

// ResponseCreate asks the provider to continue the response.
type ResponseCreate struct {
	Type MessageType `json:"type"`
}

// NewSessionUpdate builds the configuration event for defs.
func NewSessionUpdate(defs []tools.Definition, instructions string) SessionUpdate {
	specs := make([]ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = ToolSpec{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return SessionUpdate{
		Type: TypeSessionUpdate,
		Session: SessionConfig{
			Modalities:   []string{"text", "audio"},
			Tools:        specs,
			Instructions: instructions,
		},
	}
}

// NewFunctionCallOutput builds the result event for callID.
func NewFunctionCallOutput(callID string, res tools.Result) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationCreate,
		Item: FunctionCallOutput{
			Type:   ItemFunctionCallOutput,
			CallID: callID,
			Output: res.JSON(),
		},
	}
}

// NewResponseCreate builds a response.create event.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}
