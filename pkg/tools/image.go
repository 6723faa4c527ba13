package tools

import "sync"

// Default dimensions used when the current image size is unknown.
const (
	DefaultImageWidth  = 1024
	DefaultImageHeight = 768
)

// Image is the image the user currently works on.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ImageState holds the current image. It is safe for concurrent use.
type ImageState struct {
	mu      sync.RWMutex
	current Image
	set     bool
}

// NewImageState creates an empty ImageState.
func NewImageState() *ImageState {
	return &ImageState{}
}

// Set replaces the current image. Missing dimensions fall back to defaults.
func (s *ImageState) Set(img Image) {
	if img.Width <= 0 {
		img.Width = DefaultImageWidth
	}
	if img.Height <= 0 {
		img.Height = DefaultImageHeight
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = img
	s.set = img.URL != ""
}

// SetURL keeps the current dimensions and swaps the URL.
func (s *ImageState) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.URL = url
	s.set = url != ""
}

// Current returns the current image, ok is false when none is set.
func (s *ImageState) Current() (Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.set
}

// Clear removes the current image.
func (s *ImageState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Image{}
	s.set = false
}
