package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// Auto selects the fallback chain instead of a single provider.
const Auto = "auto"

// ErrUnknownSource is returned for a selector that names no provider.
var ErrUnknownSource = errors.New("unknown source")

// Attempt records one adapter call made while serving a Fetch.
type Attempt struct {
	Source   string
	Spots    int
	Dropped  int
	Err      error
	Duration time.Duration
}

// Batch is the result of a Fetch. Source names the adapter whose spots
// were returned, or is empty when every attempt came back empty.
type Batch struct {
	Source   string
	Spots    []spot.Spot
	Attempts []Attempt
}

// Observer receives every adapter attempt, e.g. for metrics.
type Observer interface {
	ObserveAttempt(a Attempt)
}

// Selector runs either one named adapter or the ordered fallback chain.
type Selector struct {
	adapters []Adapter
	byID     map[string]Adapter
	log      logrus.FieldLogger
	observer Observer
}

// NewSelector returns a Selector over adapters, whose order is the auto
// fallback order.
func NewSelector(log logrus.FieldLogger, adapters ...Adapter) *Selector {
	s := &Selector{
		adapters: adapters,
		byID:     make(map[string]Adapter, len(adapters)),
		log:      log,
	}
	for _, a := range adapters {
		s.byID[a.Info().ID] = a
	}
	return s
}

// SetObserver installs o to receive attempts.
func (s *Selector) SetObserver(o Observer) {
	s.observer = o
}

// Valid reports whether id is Auto or a registered provider.
func (s *Selector) Valid(id string) bool {
	if id == Auto {
		return true
	}
	_, ok := s.byID[id]
	return ok
}

// Order returns the provider ids in fallback order.
func (s *Selector) Order() []string {
	ids := make([]string, len(s.adapters))
	for i, a := range s.adapters {
		ids[i] = a.Info().ID
	}
	return ids
}

// Sources lists Auto followed by every provider in fallback order.
func (s *Selector) Sources() []Info {
	out := make([]Info, 0, len(s.adapters)+1)
	out = append(out, Info{
		ID:          Auto,
		Name:        "Auto",
		Description: "First provider with spots, tried in order",
	})
	for _, a := range s.adapters {
		out = append(out, a.Info())
	}
	return out
}

// Fetch returns spots for id. In Auto mode adapters run one at a time in
// order and the first non-empty result ends the chain; an exhausted chain
// is an empty Batch, not an error.
func (s *Selector) Fetch(ctx context.Context, id string) (Batch, error) {
	if id == "" || id == Auto {
		return s.chain(ctx, s.adapters), nil
	}

	a, ok := s.byID[id]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return s.chain(ctx, []Adapter{a}), nil
}

func (s *Selector) chain(ctx context.Context, adapters []Adapter) Batch {
	var batch Batch
	for _, a := range adapters {
		if ctx.Err() != nil {
			break
		}

		id := a.Info().ID
		start := time.Now()
		res := a.Fetch(ctx)
		att := Attempt{
			Source:   id,
			Spots:    len(res.Spots),
			Dropped:  res.Dropped,
			Err:      res.Err,
			Duration: time.Since(start),
		}
		batch.Attempts = append(batch.Attempts, att)
		s.record(att)

		if res.Err == nil && len(res.Spots) > 0 {
			batch.Source = id
			batch.Spots = res.Spots
			return batch
		}
	}
	return batch
}

func (s *Selector) record(att Attempt) {
	if s.observer != nil {
		s.observer.ObserveAttempt(att)
	}

	entry := s.log.WithFields(logrus.Fields{
		"source":   att.Source,
		"spots":    att.Spots,
		"dropped":  att.Dropped,
		"duration": att.Duration.Round(time.Millisecond),
	})
	switch {
	case att.Err != nil:
		entry.WithError(att.Err).Warn("source fetch failed")
	case att.Spots == 0:
		entry.Info("source returned no spots")
	default:
		entry.Debug("source fetch ok")
	}
}
