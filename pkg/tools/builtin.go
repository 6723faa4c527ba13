package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Tool names advertised to the assistant.
const (
	EditImageName    = "editImage"
	AnalyzeImageName = "analyzeImage"
)

// NoImageMessage is returned by editImage when no image is loaded.
const NoImageMessage = "No image available to edit"

// EditImageConfig holds the dependencies of the editImage tool.
type EditImageConfig struct {
	// Images is the current-image holder. Required.
	Images *ImageState

	// Editor performs the edit. Required.
	Editor Editor

	// OnImageActivated fires when the service edited a different image than
	// the current one, before OnImageGenerated.
	OnImageActivated func(url string)

	// OnImageGenerated fires with the new image URL after a successful edit.
	OnImageGenerated func(url, prompt string)
}

type editImageArgs struct {
	Prompt string `json:"prompt"`
}

// EditImage returns the editImage tool.
func EditImage(cfg EditImageConfig) Definition {
	return Definition{
		Name:        EditImageName,
		Description: "Edit the current image based on user instructions",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "The editing instructions for the image - be specific and detailed",
				},
			},
			"required": []string{"prompt"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			img, ok := cfg.Images.Current()
			if !ok {
				return Result{Success: false, Error: NoImageMessage}, nil
			}

			var args editImageArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return Result{}, fmt.Errorf("parse arguments: %w", err)
				}
			}
			prompt := strings.TrimSpace(args.Prompt)
			if prompt == "" {
				return Result{}, ErrMissingPrompt
			}

			resp, err := cfg.Editor.Edit(ctx, EditRequest{
				Prompt:   prompt,
				ImageURL: img.URL,
				Width:    img.Width,
				Height:   img.Height,
			})
			if err != nil {
				return Failure(err.Error(), fmt.Sprintf("Error editing the image: %v", err)), nil
			}
			if !resp.Success {
				return Failure(resp.Error, fmt.Sprintf("Failed to edit the image: %s", resp.Error)), nil
			}

			if resp.OriginalImageURL != "" && resp.OriginalImageURL != img.URL && cfg.OnImageActivated != nil {
				cfg.OnImageActivated(resp.OriginalImageURL)
			}
			cfg.Images.SetURL(resp.ImageURL)
			if cfg.OnImageGenerated != nil {
				cfg.OnImageGenerated(resp.ImageURL, prompt)
			}

			return Result{
				Success:  true,
				ImageURL: resp.ImageURL,
				Message:  fmt.Sprintf("Successfully edited the image: %q", prompt),
			}, nil
		},
	}
}

// AnalyzeImage returns the analyzeImage tool. It is a stub: the assistant
// already sees the conversation, so the tool only confirms readiness and
// lists the kinds of edits available.
func AnalyzeImage() Definition {
	return Definition{
		Name:        AnalyzeImageName,
		Description: "Analyze the current image to understand its contents and suggest improvements",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Execute: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			return Result{
				Success: true,
				Analysis: &Analysis{
					Subject: "I can see your current image and I'm ready to help edit it",
					Suggestions: []string{
						"I can enhance the lighting and colors",
						"I can add or remove objects from the scene",
						"I can change the background or apply artistic effects",
						"I can adjust the composition and framing",
					},
				},
				Message: "I've analyzed your image and I'm ready to help with any edits you'd like to make.",
			}, nil
		},
	}
}

// NewDefaultRegistry builds the registry with editImage and analyzeImage.
func NewDefaultRegistry(logger *slog.Logger, cfg EditImageConfig) *Registry {
	return NewRegistry(logger, EditImage(cfg), AnalyzeImage())
}
