// Package fetcher downloads calendar feeds and parses them into raw events.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"family_dash/internal/model"
)

const (
	// DefaultTimeout bounds a single feed download.
	DefaultTimeout = 30 * time.Second

	maxBodySize = 10 * 1024 * 1024
	userAgent   = "FamilyDashboard/1.0"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses iCal feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client and the default timeout.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-request timeout. Non-positive values are ignored.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// Fetch downloads the body of the feed at rawURL. Any network failure,
// non-200 response or oversized body is reported as model.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", model.ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", model.ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", model.ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrFetch, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", model.ErrFetch, maxBodySize)
	}
	return body, nil
}

// FetchAndParse downloads a feed and parses its events. It has no side
// effects beyond the network request.
func (f *Fetcher) FetchAndParse(ctx context.Context, feed model.Feed) ([]model.RawEvent, error) {
	body, err := f.Fetch(ctx, feed.URL)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// httpURL rewrites webcal:// subscription links to https.
func httpURL(raw string) string {
	if len(raw) >= len("webcal://") && strings.EqualFold(raw[:len("webcal://")], "webcal://") {
		return "https://" + raw[len("webcal://"):]
	}
	return raw
}
