// Package aggregator runs the poll loop: fetch from the selected source,
// merge into the store, evict, then publish to every sink.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/common"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/filter"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/observability"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/store"
)

// ErrNotReady is returned by CheckReadiness before the first poll completes.
var ErrNotReady = errors.New("first poll not completed")

// Fetcher is the source side of a poll, normally a *source.Selector.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (source.Batch, error)
	Valid(id string) bool
}

// Update is what sinks receive after every publish.
type Update struct {
	Seq     uint64
	Source  string           // adapter that served the batch, empty when exhausted
	Batch   []spot.Spot      // spots merged by this poll, nil for filter-only updates
	Spots   []spot.Spot      // store contents after merge and eviction
	Filters filter.FilterSet // live filter set at publish time
	Ready   bool             // a poll has completed
	At      time.Time
}

// Sink consumes updates. A failing sink is logged and does not stop the
// others or the loop.
type Sink interface {
	Name() string
	Publish(ctx context.Context, u Update) error
}

// Config tunes the loop.
type Config struct {
	Interval time.Duration
	Source   string
}

// Aggregator owns the poll loop and the readiness flag.
type Aggregator struct {
	cfg     Config
	fetcher Fetcher
	store   *store.Store
	filters *filter.Holder
	clock   clockwork.Clock
	log     logrus.FieldLogger
	metrics *observability.Metrics
	stats   *common.Stats

	mu     sync.RWMutex
	source string
	sinks  []Sink

	seq     atomic.Uint64
	ready   atomic.Bool
	trigger chan struct{}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock driving the ticker.
func WithClock(c clockwork.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithMetrics records poll outcomes in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithStats records poll counters in s.
func WithStats(s *common.Stats) Option {
	return func(a *Aggregator) { a.stats = s }
}

// WithSinks appends sinks in publish order.
func WithSinks(sinks ...Sink) Option {
	return func(a *Aggregator) { a.sinks = append(a.sinks, sinks...) }
}

// New builds an Aggregator and subscribes it to filter changes so a new
// retention applies to the store immediately.
func New(cfg Config, fetcher Fetcher, st *store.Store, filters *filter.Holder, log logrus.FieldLogger, opts ...Option) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Source == "" {
		cfg.Source = source.Auto
	}

	a := &Aggregator{
		cfg:     cfg,
		fetcher: fetcher,
		store:   st,
		filters: filters,
		clock:   clockwork.NewRealClock(),
		log:     log,
		source:  cfg.Source,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}

	st.SetRetention(filters.Get().Retention())
	filters.OnChange(a.onFilterChange)
	return a
}

// AddSink appends a sink after construction.
func (a *Aggregator) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// Source returns the selected provider id or "auto".
func (a *Aggregator) Source() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.source
}

// SetSource switches provider and requests an immediate poll.
func (a *Aggregator) SetSource(id string) error {
	if !a.fetcher.Valid(id) {
		return fmt.Errorf("%w: %q", source.ErrUnknownSource, id)
	}
	a.mu.Lock()
	a.source = id
	a.mu.Unlock()

	a.TriggerPoll()
	return nil
}

// TriggerPoll asks Run to poll now. Requests coalesce while one is pending.
func (a *Aggregator) TriggerPoll() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Ready reports whether a poll has completed.
func (a *Aggregator) Ready() bool {
	return a.ready.Load()
}

// CheckReadiness implements the readiness probe.
func (a *Aggregator) CheckReadiness(context.Context) error {
	if !a.Ready() {
		return ErrNotReady
	}
	return nil
}

// Restore seeds the store with last-known-good spots. Restored spots are
// served but do not mark the aggregator ready.
func (a *Aggregator) Restore(spots []spot.Spot) int {
	n := a.store.Restore(spots)
	if n > 0 {
		a.log.WithField("spots", n).Info("restored last-known-good spots")
	}
	return n
}

// Run polls once immediately, then on every tick or trigger until ctx ends.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.log.WithFields(logrus.Fields{
		"interval": a.cfg.Interval.String(),
		"source":   a.Source(),
	}).Info("poll loop started")

	a.pollLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("poll loop stopped")
			return nil
		case <-ticker.Chan():
			a.pollLogged(ctx)
		case <-a.trigger:
			a.pollLogged(ctx)
		}
	}
}

func (a *Aggregator) pollLogged(ctx context.Context) {
	if _, err := a.Poll(ctx); err != nil && ctx.Err() == nil {
		a.log.WithError(err).Warn("poll failed")
	}
}

// Poll runs one fetch-merge-publish cycle. Every call takes the next
// sequence number up front, so a slow cycle that finishes after a newer
// one is rejected by the store instead of overwriting fresher data.
func (a *Aggregator) Poll(ctx context.Context) (store.MergeResult, error) {
	seq := a.seq.Add(1)
	start := a.clock.Now()
	src := a.Source()

	batch, err := a.fetcher.Fetch(ctx, src)
	if err != nil {
		return store.MergeResult{}, fmt.Errorf("poll %d: %w", seq, err)
	}
	if ctx.Err() != nil {
		return store.MergeResult{}, ctx.Err()
	}

	res, err := a.store.Merge(seq, batch.Spots)
	if errors.Is(err, store.ErrStaleBatch) {
		a.observePoll("stale", res, 0)
		a.log.WithFields(logrus.Fields{"seq": seq, "last_seq": a.store.LastSeq()}).Debug("dropped stale batch")
		return res, err
	}
	if err != nil {
		return res, fmt.Errorf("poll %d: %w", seq, err)
	}

	latency := a.clock.Since(start)
	outcome := "ok"
	if len(batch.Spots) == 0 {
		outcome = "empty"
	}
	a.observePoll(outcome, res, latency)
	if a.stats != nil {
		a.stats.RecordPoll(len(batch.Spots), res.Added, res.Evicted, latency)
	}

	a.log.WithFields(logrus.Fields{
		"seq":       seq,
		"source":    batch.Source,
		"spots":     len(batch.Spots),
		"added":     res.Added,
		"refreshed": res.Refreshed,
		"evicted":   res.Evicted,
		"size":      res.Size,
		"duration":  latency.Round(time.Millisecond),
	}).Info("poll complete")

	if a.ready.CompareAndSwap(false, true) {
		a.log.Info("first poll complete, ready")
	}

	a.publish(ctx, Update{
		Seq:     seq,
		Source:  batch.Source,
		Batch:   batch.Spots,
		Spots:   a.store.Snapshot(),
		Filters: a.filters.Get(),
		Ready:   true,
		At:      a.clock.Now(),
	})
	return res, nil
}

func (a *Aggregator) observePoll(outcome string, res store.MergeResult, latency time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.Polls.WithLabelValues(outcome).Inc()
	if outcome == "stale" {
		return
	}
	a.metrics.PollDuration.Observe(latency.Seconds())
	a.metrics.StoreSize.Set(float64(res.Size))
	a.metrics.SpotsAdded.Add(float64(res.Added))
	a.metrics.SpotsEvicted.Add(float64(res.Evicted))
	a.metrics.LastPollEpoch.Set(float64(a.clock.Now().Unix()))
}

// onFilterChange applies the new retention and republishes the views.
func (a *Aggregator) onFilterChange(f filter.FilterSet) {
	evicted := a.store.SetRetention(f.Retention())
	if evicted > 0 {
		a.log.WithFields(logrus.Fields{
			"evicted":   evicted,
			"retention": f.Retention().String(),
		}).Info("retention change purged spots")
		if a.stats != nil {
			a.stats.AddEvicted(evicted)
		}
		if a.metrics != nil {
			a.metrics.SpotsEvicted.Add(float64(evicted))
			a.metrics.StoreSize.Set(float64(a.store.Len()))
		}
	}

	a.publish(context.Background(), Update{
		Seq:     a.store.LastSeq(),
		Spots:   a.store.Snapshot(),
		Filters: f,
		Ready:   a.Ready(),
		At:      a.clock.Now(),
	})
}

func (a *Aggregator) publish(ctx context.Context, u Update) {
	a.mu.RLock()
	sinks := make([]Sink, len(a.sinks))
	copy(sinks, a.sinks)
	a.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, u); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"sink": s.Name(),
				"seq":  u.Seq,
			}).Warn("sink publish failed")
			if a.metrics != nil {
				a.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
	}
}
