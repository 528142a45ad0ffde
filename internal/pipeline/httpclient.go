package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewPooledHTTPClient returns a client sized for many concurrent sessions
// hitting the same backend. Per-call deadlines come from the caller's context.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// probeURL issues a GET and treats any response below 500 as reachable.
// Inference servers rarely expose a health route, so reachability is all we check.
func probeURL(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return url, nil
}
