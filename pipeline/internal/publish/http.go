package publish

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// HTTPConfig configures an HTTPTarget.
type HTTPConfig struct {
	// Endpoint receives the artifact bundle as a POSTed tar.gz.
	Endpoint string
	// Token, when set, is sent as a bearer token.
	Token string
	// Timeout bounds the whole upload. Default: 2m.
	Timeout time.Duration
	// UserAgent sent with requests.
	UserAgent string
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.UserAgent == "" {
		c.UserAgent = "mirlist/1.0"
	}
}

// HTTPTarget posts the artifact to a hosting API as a single tar.gz
// bundle and expects a JSON {"url": "..."} response. The bundle lands on
// the server in one request, so atomicity is the server's native deploy
// semantics; nothing is visible until the whole body arrived.
type HTTPTarget struct {
	client *http.Client
	config HTTPConfig
}

// NewHTTPTarget creates an HTTPTarget.
func NewHTTPTarget(cfg HTTPConfig) *HTTPTarget {
	cfg.defaults()
	return &HTTPTarget{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Publish packs dir and posts it to the endpoint.
func (t *HTTPTarget) Publish(ctx context.Context, dir string) (string, error) {
	bundle, err := pack(dir)
	if err != nil {
		return "", fmt.Errorf("publish: pack bundle: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(bundle))
	if err != nil {
		return "", fmt.Errorf("publish: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/gzip")
	req.Header.Set("User-Agent", t.config.UserAgent)
	if t.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("publish: http %d from hosting target", resp.StatusCode)
	}

	var reply struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return "", fmt.Errorf("publish: decode reply: %w", err)
	}
	return reply.URL, nil
}

// pack builds an in-memory tar.gz of every regular file under dir, with
// paths relative to dir. Artifacts are small (URL lists plus static
// passthrough), so buffering the bundle is cheaper than a streaming
// pipe.
func pack(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
