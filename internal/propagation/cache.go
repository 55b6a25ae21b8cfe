package propagation

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/solar"
)

// DefaultCacheTTL bounds how long a prediction is reused.
const DefaultCacheTTL = 10 * time.Minute

// cacheKey identifies a prediction: both ends rounded to 0.01 degree, the
// solar snapshot, and the UTC hour the current-band ranking refers to.
type cacheKey struct {
	fromLat, fromLon, toLat, toLon int64
	sfi, ssn, k                    float64
	hour                           int
}

func newCacheKey(from, to geo.LatLon, idx solar.Indices, hour int) cacheKey {
	round := func(v float64) int64 { return int64(math.Round(v * 100)) }
	return cacheKey{
		fromLat: round(from.Lat), fromLon: round(from.Lon),
		toLat: round(to.Lat), toLon: round(to.Lon),
		sfi: idx.SFI, ssn: idx.SSN, k: idx.KIndex,
		hour: hour,
	}
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Cache memoizes predictions with a fixed TTL. It owns a janitor goroutine
// that sweeps expired entries; Close stops it.
type Cache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	entries map[cacheKey]cacheEntry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewCache creates a Cache and starts its janitor.
func NewCache(clock clockwork.Clock, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *Cache) get(key cacheKey) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return Result{}, false
	}
	return e.result.clone(), true
}

func (c *Cache) put(key cacheKey, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: r.clone(), expires: c.clock.Now().Add(c.ttl)}
}

// Len returns the number of live and not-yet-swept entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) janitor() {
	defer close(c.done)
	ticker := c.clock.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.sweep()
		}
	}
}

// Close stops the janitor and drops every entry.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		c.mu.Lock()
		c.entries = make(map[cacheKey]cacheEntry)
		c.mu.Unlock()
	})
}
