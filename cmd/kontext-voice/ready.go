package main

import (
	"context"
	"net/http"
	"time"

	"github.com/teslashibe/kontext-voice/internal/httpc"
)

// waitReady polls url until it answers or ctx ends.
func waitReady(ctx context.Context, url string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := httpc.Client.Do(req); err == nil {
			resp.Body.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
