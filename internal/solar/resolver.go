package solar

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a resolved snapshot is reused.
const DefaultTTL = 15 * time.Minute

// Resolver merges feeds in priority order, fills gaps with defaults and
// caches the result for its TTL.
type Resolver struct {
	feeds []Feed
	log   logrus.FieldLogger
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	current Indices
	expires time.Time
}

// NewResolver returns a Resolver trying feeds in the given order.
func NewResolver(log logrus.FieldLogger, clock clockwork.Clock, ttl time.Duration, feeds ...Feed) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{feeds: feeds, log: log, clock: clock, ttl: ttl}
}

// Current returns the cached snapshot or resolves a new one.
func (r *Resolver) Current(ctx context.Context) Indices {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !r.current.Resolved.IsZero() && now.Before(r.expires) {
		return r.current
	}

	r.current = r.resolve(ctx)
	r.current.Resolved = now
	r.expires = now.Add(r.ttl)
	return r.current
}

// Invalidate drops the cached snapshot.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires = time.Time{}
}

func (r *Resolver) resolve(ctx context.Context) Indices {
	out := DefaultIndices()
	var haveSFI, haveSSN, haveK bool

	for _, feed := range r.feeds {
		if haveSFI && haveSSN && haveK {
			break
		}

		p, err := feed.Fetch(ctx)
		if err != nil {
			r.log.WithError(err).WithField("feed", feed.Name()).Warn("solar feed incomplete")
		}

		if p.HasSFI && !haveSFI {
			out.SFI, out.Sources.SFI, haveSFI = p.SFI, feed.Name(), true
		}
		if p.HasSSN && !haveSSN {
			out.SSN, out.Sources.SSN, haveSSN = p.SSN, feed.Name(), true
		}
		if p.HasKIndex && !haveK {
			out.KIndex, out.Sources.KIndex, haveK = p.KIndex, feed.Name(), true
		}
	}

	if out.Degraded() {
		r.log.WithFields(logrus.Fields{
			"sfi": out.SFI, "ssn": out.SSN, "k": out.KIndex,
			"sfi_source": out.Sources.SFI, "ssn_source": out.Sources.SSN, "k_source": out.Sources.KIndex,
		}).Info("solar indices using defaults")
	}
	return out
}

// Static is a Provider that always returns the same snapshot.
type Static Indices

// Current returns the fixed snapshot.
func (s Static) Current(context.Context) Indices { return Indices(s) }
