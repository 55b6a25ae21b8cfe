// Package source adapts the upstream DX spot feeds to the canonical spot
// shape and chooses between them.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// Info is the static description of a provider.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"-"`
}

// Result is the outcome of one adapter fetch. Err is informational: when it
// is set Spots is empty and the caller moves on.
type Result struct {
	Spots   []spot.Spot
	Dropped int
	Err     error
}

// Adapter fetches and normalizes one provider. Fetch never panics and
// never blocks past the adapter's own timeout.
type Adapter interface {
	Info() Info
	Fetch(ctx context.Context) Result
}

// parseFunc turns a provider body into spots tagged with source. dropped
// counts malformed records skipped; err means the payload as a whole was
// unusable.
type parseFunc func(body []byte, source string) (spots []spot.Spot, dropped int, err error)

// HTTPAdapter is an Adapter backed by one provider URL.
type HTTPAdapter struct {
	info    Info
	fetcher *Fetcher
	timeout time.Duration
	parse   parseFunc
}

func newHTTPAdapter(info Info, fetcher *Fetcher, timeout time.Duration, parse parseFunc) *HTTPAdapter {
	return &HTTPAdapter{info: info, fetcher: fetcher, timeout: timeout, parse: parse}
}

// Info returns the provider description.
func (a *HTTPAdapter) Info() Info { return a.info }

// Timeout returns the per-fetch deadline.
func (a *HTTPAdapter) Timeout() time.Duration { return a.timeout }

// WithTimeout overrides the per-fetch deadline.
func (a *HTTPAdapter) WithTimeout(d time.Duration) *HTTPAdapter {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// WithURL overrides the provider address.
func (a *HTTPAdapter) WithURL(url string) *HTTPAdapter {
	if url != "" {
		a.info.URL = url
	}
	return a
}

// Fetch downloads and parses the provider feed.
func (a *HTTPAdapter) Fetch(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%s: panic while parsing: %v", a.info.ID, r)}
		}
	}()

	body, err := a.fetcher.Get(ctx, a.info.URL, a.timeout)
	if err != nil {
		return Result{Err: fmt.Errorf("%s: %w", a.info.ID, err)}
	}

	spots, dropped, err := a.parse(body, a.info.ID)
	if err != nil {
		return Result{Dropped: dropped, Err: fmt.Errorf("%s: %w", a.info.ID, err)}
	}
	return Result{Spots: spots, Dropped: dropped}
}
