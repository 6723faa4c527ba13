package signaling

import (
	"errors"
	"fmt"
)

// Sentinel errors for the signaling package.
var (
	// ErrMissingURL indicates no relay endpoint was configured.
	ErrMissingURL = errors.New("signaling: relay URL is required")

	// ErrTimeout indicates the exchange did not complete in time.
	ErrTimeout = errors.New("signaling: exchange timed out")
)

// SignalingError is returned when the relay answers with a non-2xx status.
type SignalingError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is the response body, usually the provider's error text.
	Body string
}

// Error implements the error interface.
func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling: offer rejected (HTTP %d): %s", e.StatusCode, e.Body)
}

// IsSignalingError reports whether err is a rejected exchange.
func IsSignalingError(err error) bool {
	var sigErr *SignalingError
	return errors.As(err, &sigErr)
}
