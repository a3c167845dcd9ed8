package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotFound marks a tile the server does not have. It is permanent.
	ErrNotFound = errors.New("tile not found on server")
	// ErrEmptyBody marks a successful response without content. It is
	// treated like any other transient failure.
	ErrEmptyBody = errors.New("empty tile response")
)

// Fetcher downloads the bytes behind a tile url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher issues rate limited GET requests.
type HTTPFetcher struct {
	Client    *http.Client
	Limiter   *rate.Limiter
	UserAgent string
}

// NewHTTPFetcher returns a fetcher allowing rps requests per second with the
// given burst. rps <= 0 disables limiting.
func NewHTTPFetcher(timeout time.Duration, rps float64, burst int, userAgent string) *HTTPFetcher {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPFetcher{
		Client: &http.Client{
			Timeout: timeout,
		},
		Limiter:   rate.NewLimiter(limit, burst),
		UserAgent: userAgent,
	}
}

// Fetch returns ErrNotFound for 404/410 responses, ErrEmptyBody for an empty
// 2xx body, and a plain error for anything else that is not a 2xx.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode/100 != 2:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("tile server returned status %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBody, url)
	}
	return data, nil
}
