package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/standardbeagle/tabgate/internal/codec"
)

// FetchConfig configures HTTPLoader.
type FetchConfig struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	// Rewrite, when its Domain is set, rewrites anchors of every loaded page
	// into proxied form.
	Rewrite codec.Codec
}

// NewClient builds the resty client used by HTTPLoader.
func NewClient(cfg FetchConfig) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tabgate/1.0"
	}
	return resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
}

// HTTPLoader returns a Loader that GETs pages with client.
func HTTPLoader(client *resty.Client, rewrite codec.Codec) Loader {
	return func(ctx context.Context, url string) (*Document, error) {
		resp, err := client.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s (url: %s)", resp.StatusCode(), resp.Status(), url)
		}

		d, err := New(bytes.NewReader(resp.Body()), url)
		if err != nil {
			return nil, err
		}
		if rewrite.Domain != "" {
			d.RewriteLinks(rewrite)
		}
		return d, nil
	}
}
