package propagation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/solar"
)

// ErrInvalidLocation is returned for coordinates outside the globe.
var ErrInvalidLocation = errors.New("invalid location")

// CacheObserver is told whether each prediction came from the cache.
type CacheObserver interface {
	ObserveCache(hit bool)
}

// Predictor resolves solar indices and serves cached predictions.
type Predictor struct {
	solar    solar.Provider
	cache    *Cache
	clock    clockwork.Clock
	observer CacheObserver
}

// NewPredictor returns a Predictor. cache may be nil to disable memoization.
func NewPredictor(provider solar.Provider, cache *Cache, clock clockwork.Clock) *Predictor {
	return &Predictor{solar: provider, cache: cache, clock: clock}
}

// SetObserver installs o to receive cache hit/miss events.
func (p *Predictor) SetObserver(o CacheObserver) {
	p.observer = o
}

// Predict returns the prediction for the path from -> to at the current hour.
func (p *Predictor) Predict(ctx context.Context, from, to geo.LatLon) (Result, error) {
	if !from.Valid() {
		return Result{}, fmt.Errorf("%w: origin %s", ErrInvalidLocation, from)
	}
	if !to.Valid() {
		return Result{}, fmt.Errorf("%w: destination %s", ErrInvalidLocation, to)
	}

	idx := p.solar.Current(ctx)
	now := p.clock.Now()

	if p.cache == nil {
		return Compute(from, to, idx, now), nil
	}

	key := newCacheKey(from, to, idx, now.UTC().Hour())
	if r, ok := p.cache.get(key); ok {
		p.observe(true)
		return r, nil
	}
	p.observe(false)

	r := Compute(from, to, idx, now)
	p.cache.put(key, r)
	return r, nil
}

func (p *Predictor) observe(hit bool) {
	if p.observer != nil {
		p.observer.ObserveCache(hit)
	}
}
