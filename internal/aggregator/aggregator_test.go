package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/common"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/filter"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/observability"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/store"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu     sync.Mutex
	batch  source.Batch
	lastID string
	calls  atomic.Int32
}

func (f *stubFetcher) Fetch(_ context.Context, id string) (source.Batch, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID = id
	return f.batch, nil
}

func (f *stubFetcher) Valid(id string) bool {
	return id == source.Auto || id == "hamqth" || id == "pota"
}

func (f *stubFetcher) set(b source.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = b
}

type recordingSink struct {
	name    string
	err     error
	mu      sync.Mutex
	updates []Update
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.err
}

func (s *recordingSink) all() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

func mkSpot(t *testing.T, dx string, freq float64) spot.Spot {
	t.Helper()
	s, ok := spot.New("K1ABC", dx, freq, "", "", "hamqth")
	require.True(t, ok)
	return s
}

type fixture struct {
	clock   *clockwork.FakeClock
	fetcher *stubFetcher
	store   *store.Store
	filters *filter.Holder
	sink    *recordingSink
	metrics *observability.Metrics
	agg     *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	clock := clockwork.NewFakeClockAt(epoch)
	f := &fixture{
		clock:   clock,
		fetcher: &stubFetcher{},
		store:   store.New(store.WithClock(clock)),
		filters: filter.NewHolder(filter.FilterSet{}),
		sink:    &recordingSink{name: "recorder"},
		metrics: observability.NewMetricsForTesting(),
	}
	f.agg = New(Config{Interval: time.Minute}, f.fetcher, f.store, f.filters, log,
		WithClock(clock),
		WithMetrics(f.metrics),
		WithStats(common.NewStats(log, clock, time.Minute)),
		WithSinks(f.sink),
	)
	return f
}

func TestPollMergesAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set(source.Batch{Source: "hamqth", Spots: []spot.Spot{mkSpot(t, "JA1XYZ", 14.205), mkSpot(t, "DL1ABC", 7.010)}})

	assert.False(t, f.agg.Ready())
	assert.ErrorIs(t, f.agg.CheckReadiness(context.Background()), ErrNotReady)

	res, err := f.agg.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.True(t, f.agg.Ready())
	assert.NoError(t, f.agg.CheckReadiness(context.Background()))
	assert.Equal(t, source.Auto, f.fetcher.lastID)

	updates := f.sink.all()
	require.Len(t, updates, 1)
	assert.Equal(t, uint64(1), updates[0].Seq)
	assert.Equal(t, "hamqth", updates[0].Source)
	assert.Len(t, updates[0].Batch, 2)
	assert.Len(t, updates[0].Spots, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Polls.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StoreSize))
}

func TestExhaustedPollStillMarksReady(t *testing.T) {
	f := newFixture(t)

	res, err := f.agg.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Size)
	assert.True(t, f.agg.Ready())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Polls.WithLabelValues("empty")))
}

func TestFailedPollKeepsLastKnownGood(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set(source.Batch{Source: "hamqth", Spots: []spot.Spot{mkSpot(t, "JA1XYZ", 14.205)}})
	_, err := f.agg.Poll(context.Background())
	require.NoError(t, err)

	f.fetcher.set(source.Batch{})
	f.clock.Advance(time.Minute)
	_, err = f.agg.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.Len())
}

func TestStaleBatchIsDropped(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Merge(10, nil)
	require.NoError(t, err)
	f.fetcher.set(source.Batch{Source: "hamqth", Spots: []spot.Spot{mkSpot(t, "JA1XYZ", 14.205)}})

	_, err = f.agg.Poll(context.Background())
	assert.ErrorIs(t, err, store.ErrStaleBatch)
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.sink.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Polls.WithLabelValues("stale")))
}

func TestSetSource(t *testing.T) {
	f := newFixture(t)

	err := f.agg.SetSource("rbn")
	assert.ErrorIs(t, err, source.ErrUnknownSource)
	assert.Equal(t, source.Auto, f.agg.Source())

	require.NoError(t, f.agg.SetSource("pota"))
	assert.Equal(t, "pota", f.agg.Source())
	assert.Len(t, f.agg.trigger, 1)

	f.agg.TriggerPoll()
	assert.Len(t, f.agg.trigger, 1, "pending triggers coalesce")

	_, err = f.agg.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pota", f.fetcher.lastID)
}

func TestRetentionChangePurgesImmediately(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set(source.Batch{Source: "hamqth", Spots: []spot.Spot{mkSpot(t, "JA1XYZ", 14.205)}})
	_, err := f.agg.Poll(context.Background())
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.filters.Set(filter.FilterSet{SpotRetentionMinutes: 5}))

	assert.Equal(t, 0, f.store.Len())
	updates := f.sink.all()
	require.Len(t, updates, 2)
	assert.Nil(t, updates[1].Batch)
	assert.Empty(t, updates[1].Spots)
	assert.Equal(t, 5, updates[1].Filters.SpotRetentionMinutes)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SpotsEvicted))
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	bad := &recordingSink{name: "broken", err: errors.New("down")}
	last := &recordingSink{name: "last"}
	f.agg.AddSink(bad)
	f.agg.AddSink(last)

	_, err := f.agg.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, bad.all(), 1)
	assert.Len(t, last.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SinkErrors.WithLabelValues("broken")))
}

func TestRestoreDoesNotMarkReady(t *testing.T) {
	f := newFixture(t)
	n := f.agg.Restore([]spot.Spot{mkSpot(t, "JA1XYZ", 14.205)})

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.store.Len())
	assert.False(t, f.agg.Ready())
}

func TestRunPollsOnTickAndTrigger(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.agg.Run(ctx) }()

	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	f.agg.TriggerPoll()
	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
