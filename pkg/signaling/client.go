// Package signaling exchanges a local WebRTC offer for the remote answer
// through an HTTP relay, in a single round trip.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/kontext-voice/internal/httpc"
	"github.com/teslashibe/kontext-voice/internal/log"
)

// ContentTypeSDP is the media type of offer and answer payloads.
const ContentTypeSDP = "application/sdp"

// DefaultTimeout bounds one exchange.
const DefaultTimeout = 15 * time.Second

// Config holds signaling client configuration.
type Config struct {
	// URL is the relay endpoint, e.g. http://localhost:8080/api/rtc-connect.
	URL string

	// Timeout bounds the whole exchange. Zero disables the bound.
	Timeout time.Duration

	// Header is added to every request.
	Header http.Header

	// HTTPClient overrides the shared client.
	HTTPClient *http.Client

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Client performs offer/answer exchanges. It is stateless and safe for
// concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a signaling client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.HTTPClient == nil {
		// The exchange is bounded by its context, not the client.
		cfg.HTTPClient = httpc.NewClient(0)
	}
	return &Client{
		cfg:    cfg,
		logger: log.Or(cfg.Logger, "signaling"),
	}, nil
}

// Exchange posts the offer and returns the answer. There are no retries;
// callers retry the whole connection attempt.
func (c *Client) Exchange(ctx context.Context, offer string) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := httpc.PostContext(ctx, c.cfg.HTTPClient, c.cfg.URL, ContentTypeSDP, []byte(offer), c.cfg.Header)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %v: %v", ErrTimeout, c.cfg.Timeout, err)
		}
		return "", fmt.Errorf("signaling request: %w", err)
	}

	if !resp.OK() {
		c.logger.Warn("offer rejected",
			"status", resp.StatusCode,
			"body_len", len(resp.Body),
		)
		return "", &SignalingError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	c.logger.Debug("offer exchanged",
		"answer_len", len(resp.Body),
		"elapsed", time.Since(start),
	)
	return string(resp.Body), nil
}
