package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bnema/domain-redirector/internal/models"
)

// maxBodySize caps a downloaded interchange file
const maxBodySize = 4 << 20

// Fetcher downloads replacement interchange files
type Fetcher struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

// New creates a new fetcher from config
func New(cfg models.HTTPConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retries := cfg.Retries
	if retries == 0 {
		retries = 3
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
		backoff: time.Second,
	}
}

// Fetch downloads content from a URL with retries
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for i := 0; i < f.retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * f.backoff):
			}
		}

		data, err := f.doFetch(ctx, url)
		if err == nil {
			return data, nil
		}
		slog.Debug("Fetch attempt failed", slog.String("url", url), slog.Int("attempt", i+1), slog.Any("error", err))
		lastErr = err
	}

	return nil, fmt.Errorf("failed after %d retries: %w", f.retries, lastErr)
}

func (f *Fetcher) doFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "domain-redirector/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}
