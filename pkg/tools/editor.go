package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/teslashibe/kontext-voice/internal/httpc"
)

// EditRequest is sent to the image-edit service.
type EditRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// EditResponse is the image-edit service reply.
type EditResponse struct {
	Success          bool   `json:"success"`
	ImageURL         string `json:"imageUrl,omitempty"`
	OriginalImageURL string `json:"originalImageUrl,omitempty"`
	Error            string `json:"error,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Editor edits an image from a natural-language prompt.
// A returned error means the service could not be reached or understood;
// a service-side refusal comes back as EditResponse{Success: false}.
type Editor interface {
	Edit(ctx context.Context, req EditRequest) (EditResponse, error)
}

// EditorFunc adapts a function to the Editor interface.
type EditorFunc func(ctx context.Context, req EditRequest) (EditResponse, error)

// Edit implements Editor.
func (f EditorFunc) Edit(ctx context.Context, req EditRequest) (EditResponse, error) {
	return f(ctx, req)
}

// HTTPEditor calls a JSON image-edit endpoint such as /api/voice-edit.
type HTTPEditor struct {
	URL    string
	Client *http.Client
}

// NewHTTPEditor creates an editor posting to url with the shared client.
func NewHTTPEditor(url string) *HTTPEditor {
	return &HTTPEditor{URL: url, Client: httpc.Client}
}

// Edit implements Editor. The body is decoded for any status code since the
// edit endpoint reports failures as JSON with a 4xx/5xx status.
func (e *HTTPEditor) Edit(ctx context.Context, req EditRequest) (EditResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return EditResponse{}, fmt.Errorf("encode edit request: %w", err)
	}

	resp, err := httpc.PostContext(ctx, e.Client, e.URL, "application/json", body, nil)
	if err != nil {
		return EditResponse{}, &EditError{Cause: err}
	}

	var out EditResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return EditResponse{}, &EditError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Success && out.Error == "" {
		out.Error = fmt.Sprintf("edit failed with status %d", resp.StatusCode)
	}
	return out, nil
}

var _ Editor = (*HTTPEditor)(nil)
