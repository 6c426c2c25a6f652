package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waytour/waytour/pkg/retry"
)

// Fetcher resolves an asset URL to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// maxAssetBytes caps a single fetched asset (audio clips run a few MB).
const maxAssetBytes = 64 << 20

// HTTPFetcher fetches assets over HTTP with retries.
type HTTPFetcher struct {
	client *http.Client
	runner *retry.Runner
}

// NewHTTPFetcher creates a fetcher with a per-request timeout and backoff
// retries on transient failures.
func NewHTTPFetcher(timeout time.Duration, retryConfig retry.Config) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		runner: retry.NewRunner(retryConfig),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.runner.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
		if err != nil {
			return fmt.Errorf("failed to read asset body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
