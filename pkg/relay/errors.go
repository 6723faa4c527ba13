package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKey indicates a provider key is not configured.
	ErrMissingKey = errors.New("relay: API key not configured")

	// ErrNoImage indicates the image service answered without an image.
	ErrNoImage = errors.New("image could not be generated, please try again")
)

// ProviderError is a non-2xx answer from an upstream provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, e.Body)
}
