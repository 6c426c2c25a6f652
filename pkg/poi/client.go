// Package poi fetches the read-only POI directory and caches it locally so
// a tour keeps working offline.
package poi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/retry"
)

const directoryKey = "directory"

// Config controls the directory client
type Config struct {
	DirectoryURL string        `json:"directory_url"`
	Timeout      time.Duration `json:"timeout"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

// DefaultConfig returns default directory client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:  15 * time.Second,
		CacheTTL: 5 * time.Minute,
	}
}

// Client fetches POI records over HTTP with a TTL cache. When the network
// fails it serves the last good copy so an in-progress tour survives dead
// zones.
type Client struct {
	config Config
	http   *http.Client
	runner *retry.Runner
	cache  *gocache.Cache
	logger *logx.Logger

	mu       sync.Mutex
	lastGood []pkg.POI
}

// NewClient creates a directory client.
func NewClient(config Config, logger *logx.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		runner: retry.NewRunner(retry.DefaultConfig()),
		cache:  gocache.New(config.CacheTTL, config.CacheTTL),
		logger: logger,
	}
}

// Fetch returns the POI directory, from cache when fresh. Malformed records
// are skipped per-POI; a network failure falls back to the last good copy.
func (c *Client) Fetch(ctx context.Context) ([]pkg.POI, error) {
	if cached, ok := c.cache.Get(directoryKey); ok {
		return clonePois(cached.([]pkg.POI)), nil
	}

	pois, err := c.fetchRemote(ctx)
	if err != nil {
		c.mu.Lock()
		fallback := clonePois(c.lastGood)
		c.mu.Unlock()
		if fallback != nil {
			if c.logger != nil {
				c.logger.Warn("poi directory unreachable, serving last good copy",
					"poi_count", len(fallback),
					"error", err.Error(),
				)
			}
			return fallback, nil
		}
		return nil, err
	}

	c.cache.Set(directoryKey, pois, c.config.CacheTTL)
	c.mu.Lock()
	c.lastGood = pois
	c.mu.Unlock()
	return clonePois(pois), nil
}

// Invalidate drops the cached directory so the next Fetch goes remote.
func (c *Client) Invalidate() {
	c.cache.Delete(directoryKey)
}

func (c *Client) fetchRemote(ctx context.Context) ([]pkg.POI, error) {
	if c.config.DirectoryURL == "" {
		return nil, fmt.Errorf("poi directory url not configured")
	}

	var body []byte
	err := c.runner.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.DirectoryURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d from poi directory", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poi directory: %w", err)
	}

	var raw []pkg.POI
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse poi directory: %w", err)
	}

	// Validate at load time so the pipeline never sees silent nil lookups.
	pois := make([]pkg.POI, 0, len(raw))
	for _, p := range raw {
		if err := p.Validate(); err != nil {
			if c.logger != nil {
				c.logger.Warn("skipping invalid directory record", "error", err.Error())
			}
			continue
		}
		p.AudioURLs = pruneEmptyURLs(p.AudioURLs)
		pois = append(pois, p)
	}
	return pois, nil
}

// pruneEmptyURLs drops language entries whose URL is blank.
func pruneEmptyURLs(urls map[string]string) map[string]string {
	if urls == nil {
		return nil
	}
	pruned := make(map[string]string, len(urls))
	for lang, url := range urls {
		if url != "" {
			pruned[lang] = url
		}
	}
	return pruned
}

func clonePois(pois []pkg.POI) []pkg.POI {
	if pois == nil {
		return nil
	}
	out := make([]pkg.POI, len(pois))
	copy(out, pois)
	return out
}
