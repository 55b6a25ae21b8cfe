package common

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Stats holds atomic counters for the poll loop
type Stats struct {
	TotalPolls       uint64 // completed poll cycles
	EmptyPolls       uint64 // cycles where every adapter came back empty
	TotalSpotsMerged uint64 // spots handed to the store, new or refreshed
	TotalSpotsAdded  uint64 // new identities
	TotalEvicted     uint64 // spots removed by retention or cap
	LastPollLatency  uint64 // nanoseconds

	// Internal state for reporter
	mu       sync.Mutex
	running  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	clock    clockwork.Clock
	log      logrus.FieldLogger
	interval time.Duration

	lastPolls uint64
	lastAdded uint64

	// Moving average of spots added per poll
	addWindow     []float64
	addWindowSize int
	addIndex      int
}

// NewStats creates a Stats that reports to log every interval.
func NewStats(log logrus.FieldLogger, clock clockwork.Clock, interval time.Duration) *Stats {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Stats{
		clock:         clock,
		log:           log,
		interval:      interval,
		addWindow:     make([]float64, 10),
		addWindowSize: 10,
	}
}

// RecordPoll adds one poll cycle.
func (s *Stats) RecordPoll(merged, added, evicted int, latency time.Duration) {
	atomic.AddUint64(&s.TotalPolls, 1)
	if merged == 0 {
		atomic.AddUint64(&s.EmptyPolls, 1)
	}
	atomic.AddUint64(&s.TotalSpotsMerged, uint64(merged))
	atomic.AddUint64(&s.TotalSpotsAdded, uint64(added))
	atomic.AddUint64(&s.TotalEvicted, uint64(evicted))
	atomic.StoreUint64(&s.LastPollLatency, uint64(latency))
}

// AddEvicted counts evictions that happened outside a poll, e.g. after a
// retention change.
func (s *Stats) AddEvicted(n int) {
	atomic.AddUint64(&s.TotalEvicted, uint64(n))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Polls       uint64
	EmptyPolls  uint64
	SpotsMerged uint64
	SpotsAdded  uint64
	Evicted     uint64
	LastLatency time.Duration
}

// Snapshot atomically reads every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Polls:       atomic.LoadUint64(&s.TotalPolls),
		EmptyPolls:  atomic.LoadUint64(&s.EmptyPolls),
		SpotsMerged: atomic.LoadUint64(&s.TotalSpotsMerged),
		SpotsAdded:  atomic.LoadUint64(&s.TotalSpotsAdded),
		Evicted:     atomic.LoadUint64(&s.TotalEvicted),
		LastLatency: time.Duration(atomic.LoadUint64(&s.LastPollLatency)),
	}
}

// StartReporter starts a background goroutine that logs a summary line
// every interval.
func (s *Stats) StartReporter() {
	if !s.running.CompareAndSwap(false, true) {
		return // Already running
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.reporterLoop(s.stopCh, s.doneCh)
}

// StopReporter stops the reporter and waits for it to exit.
func (s *Stats) StopReporter() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Stats) reporterLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.report()
		}
	}
}

// report logs the deltas since the previous report.
func (s *Stats) report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.Snapshot()
	deltaPolls := snap.Polls - s.lastPolls
	deltaAdded := snap.SpotsAdded - s.lastAdded

	perPoll := 0.0
	if deltaPolls > 0 {
		perPoll = float64(deltaAdded) / float64(deltaPolls)
	}
	s.addWindow[s.addIndex] = perPoll
	s.addIndex = (s.addIndex + 1) % s.addWindowSize

	s.log.WithFields(logrus.Fields{
		"polls":        deltaPolls,
		"added":        deltaAdded,
		"added_avg":    s.averageAdded(),
		"empty_total":  snap.EmptyPolls,
		"evicted":      snap.Evicted,
		"last_latency": snap.LastLatency.Round(time.Millisecond).String(),
	}).Info("[Progress] poll summary")

	s.lastPolls = snap.Polls
	s.lastAdded = snap.SpotsAdded
}

// averageAdded smooths spots added per poll over the non-zero window.
func (s *Stats) averageAdded() float64 {
	var sum float64
	var count int
	for _, v := range s.addWindow {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Reset resets all counters
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.StoreUint64(&s.TotalPolls, 0)
	atomic.StoreUint64(&s.EmptyPolls, 0)
	atomic.StoreUint64(&s.TotalSpotsMerged, 0)
	atomic.StoreUint64(&s.TotalSpotsAdded, 0)
	atomic.StoreUint64(&s.TotalEvicted, 0)
	atomic.StoreUint64(&s.LastPollLatency, 0)
	s.lastPolls = 0
	s.lastAdded = 0
	for i := range s.addWindow {
		s.addWindow[i] = 0
	}
	s.addIndex = 0
}
