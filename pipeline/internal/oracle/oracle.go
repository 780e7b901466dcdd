// Package oracle fetches the raw mirror status feed over HTTP.
//
// The feed is consumed as an opaque data source: one GET per deployment
// run, bounded by a timeout and a response size cap, decoded straight
// into a snapshot. The oracle's probing logic lives elsewhere.
package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hazyhaar/mirlist/snapshot"
)

// Config configures the feed client.
type Config struct {
	// URL of the status feed document.
	URL string
	// Timeout bounds the whole fetch. Default: 30s.
	Timeout time.Duration
	// MaxBytes caps the response body size. Default: 10MB.
	MaxBytes int64
	// UserAgent sent with requests.
	UserAgent string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "mirlist/1.0"
	}
}

// Client fetches and decodes status feed snapshots.
type Client struct {
	client *http.Client
	config Config
}

// New creates a Client. Compression is negotiated explicitly so the
// response can be decoded with the klauspost gzip reader instead of the
// transport's implicit one.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
		config: cfg,
	}
}

// Fetch retrieves the feed and decodes it into a fresh snapshot. The
// snapshot has no identity beyond this call; the caller discards it after
// the run that used it.
func (c *Client) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d from status feed", resp.StatusCode)
	}

	var body io.Reader = io.LimitReader(resp.Body, c.config.MaxBytes)
	if gzipped(resp, c.config.URL) {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		// Cap the decompressed side too; a small gzip body can expand
		// far past the wire-size cap.
		body = io.LimitReader(gz, c.config.MaxBytes)
	}

	snap, err := snapshot.Decode(body)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// gzipped reports whether the response body needs gzip decoding: either
// the server honored Accept-Encoding, or the feed is published as a
// pre-compressed .gz document.
func gzipped(resp *http.Response, url string) bool {
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		return true
	}
	return resp.Header.Get("Content-Encoding") == "" && strings.HasSuffix(strings.TrimSpace(url), ".gz")
}
