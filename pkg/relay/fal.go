package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/teslashibe/kontext-voice/internal/httpc"
)

// Image generation defaults for the flux-kontext model.
const (
	DefaultInferenceSteps = 28
	DefaultGuidanceScale  = 2.5
	DefaultOutputFormat   = "jpeg"
	DefaultResolutionMode = "match_input"
)

// EditInput describes one image edit.
type EditInput struct {
	Prompt   string
	ImageURL string
	Width    int
	Height   int
}

// ImageEditor produces an edited image and returns its URL.
type ImageEditor interface {
	Edit(ctx context.Context, in EditInput) (string, error)
}

// FalClient calls a fal.ai model synchronously.
type FalClient struct {
	BaseURL string
	Model   string
	Key     string
	Client  *http.Client
}

// NewFalClient creates a client using the shared HTTP client. Edits can
// take minutes, so requests are bounded by their context only.
func NewFalClient(baseURL, model, key string) *FalClient {
	return &FalClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Key:     key,
		Client:  httpc.NewClient(0),
	}
}

type falInput struct {
	Prompt              string  `json:"prompt"`
	ImageURL            string  `json:"image_url"`
	NumInferenceSteps   int     `json:"num_inference_steps"`
	GuidanceScale       float64 `json:"guidance_scale"`
	NumImages           int     `json:"num_images"`
	EnableSafetyChecker bool    `json:"enable_safety_checker"`
	OutputFormat        string  `json:"output_format"`
	ResolutionMode      string  `json:"resolution_mode"`
}

type falOutput struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// Edit implements ImageEditor. The requested size is not sent; the output
// matches the input resolution.
func (f *FalClient) Edit(ctx context.Context, in EditInput) (string, error) {
	if f.Key == "" {
		return "", ErrMissingKey
	}

	body, err := json.Marshal(falInput{
		Prompt:            in.Prompt,
		ImageURL:          in.ImageURL,
		NumInferenceSteps: DefaultInferenceSteps,
		GuidanceScale:     DefaultGuidanceScale,
		NumImages:         1,
		OutputFormat:      DefaultOutputFormat,
		ResolutionMode:    DefaultResolutionMode,
	})
	if err != nil {
		return "", fmt.Errorf("encode fal input: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Key "+f.Key)

	resp, err := httpc.PostContext(ctx, f.Client, f.BaseURL+"/"+f.Model, "application/json", body, header)
	if err != nil {
		return "", fmt.Errorf("fal request: %w", err)
	}
	if !resp.OK() {
		return "", &ProviderError{Provider: "fal", StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var out falOutput
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decode fal output: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return "", ErrNoImage
	}
	return out.Images[0].URL, nil
}

var _ ImageEditor = (*FalClient)(nil)
