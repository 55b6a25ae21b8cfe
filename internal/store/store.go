// Package store holds the live set of spots: identity-keyed merge, retention
// eviction and the size cap, all applied under one lock so readers never see
// a half-merged batch.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// DefaultMaxSpots caps the store; the oldest spots are dropped first.
const DefaultMaxSpots = 200

// DefaultRetention is used until SetRetention is called.
const DefaultRetention = 30 * time.Minute

// ErrStaleBatch is returned when a poll finishes after a newer one has
// already been merged.
var ErrStaleBatch = errors.New("stale batch: newer poll already merged")

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	spots     map[spot.Key]spot.Spot
	retention time.Duration
	maxSpots  int
	lastSeq   uint64
	lastMerge time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for LastSeen stamps and eviction.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithMaxSpots overrides DefaultMaxSpots.
func WithMaxSpots(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSpots = n
		}
	}
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:     clockwork.NewRealClock(),
		spots:     make(map[spot.Key]spot.Spot),
		retention: DefaultRetention,
		maxSpots:  DefaultMaxSpots,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MergeResult summarizes one Merge call.
type MergeResult struct {
	Added     int `json:"added"`
	Refreshed int `json:"refreshed"`
	Evicted   int `json:"evicted"`
	Size      int `json:"size"`
}

// Merge upserts batch by identity key, stamping LastSeen with the current
// time, then applies retention and the size cap. seq is the poll sequence
// number; a seq not greater than the last merged one is rejected with
// ErrStaleBatch and leaves the store untouched.
func (s *Store) Merge(seq uint64, batch []spot.Spot) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.lastSeq {
		return MergeResult{Size: len(s.spots)}, ErrStaleBatch
	}
	s.lastSeq = seq

	now := s.clock.Now()
	s.lastMerge = now

	var res MergeResult
	for _, in := range batch {
		key := in.Key()
		existing, found := s.spots[key]
		if found {
			res.Refreshed++
			s.spots[key] = refresh(existing, in, now)
			continue
		}
		in.LastSeen = now
		s.spots[key] = in
		res.Added++
	}

	res.Evicted = s.evictLocked(now)
	res.Size = len(s.spots)
	return res, nil
}

func refresh(existing, in spot.Spot, now time.Time) spot.Spot {
	existing.LastSeen = now
	existing.Source = in.Source
	if in.Comment != "" {
		existing.Comment = in.Comment
	}
	if in.Time != "" {
		existing.Time = in.Time
	}
	if in.SpotterLoc != nil {
		existing.SpotterLoc = in.SpotterLoc
	}
	if in.DXLoc != nil {
		existing.DXLoc = in.DXLoc
	}
	if in.SpotterGrid != "" {
		existing.SpotterGrid = in.SpotterGrid
	}
	if in.DXGrid != "" {
		existing.DXGrid = in.DXGrid
	}
	return existing
}

// Evict drops expired spots and enforces the cap. It returns the number removed.
func (s *Store) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.clock.Now())
}

// SetRetention changes the retention window and evicts immediately.
func (s *Store) SetRetention(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d > 0 {
		s.retention = d
	}
	return s.evictLocked(s.clock.Now())
}

// Retention returns the current retention window.
func (s *Store) Retention() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retention
}

func (s *Store) evictLocked(now time.Time) int {
	evicted := 0
	for key, sp := range s.spots {
		if now.Sub(sp.LastSeen) > s.retention {
			delete(s.spots, key)
			evicted++
		}
	}

	over := len(s.spots) - s.maxSpots
	if over <= 0 {
		return evicted
	}

	oldest := make([]spot.Spot, 0, len(s.spots))
	for _, sp := range s.spots {
		oldest = append(oldest, sp)
	}
	sort.Slice(oldest, func(i, j int) bool {
		if !oldest[i].LastSeen.Equal(oldest[j].LastSeen) {
			return oldest[i].LastSeen.Before(oldest[j].LastSeen)
		}
		return lessKey(oldest[i].Key(), oldest[j].Key())
	})
	for _, sp := range oldest[:over] {
		delete(s.spots, sp.Key())
	}
	return evicted + over
}

func lessKey(a, b spot.Key) bool {
	if a.DXCall != b.DXCall {
		return a.DXCall < b.DXCall
	}
	if a.Freq != b.Freq {
		return a.Freq < b.Freq
	}
	return a.Spotter < b.Spotter
}

// Restore seeds the store with previously persisted spots, keeping their
// LastSeen stamps, and evicts whatever has already expired. It does not
// advance the poll sequence.
func (s *Store) Restore(spots []spot.Spot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sp := range spots {
		key := sp.Key()
		if cur, ok := s.spots[key]; ok && cur.LastSeen.After(sp.LastSeen) {
			continue
		}
		s.spots[key] = sp
	}
	s.evictLocked(s.clock.Now())
	return len(s.spots)
}

// Snapshot returns a copy of every spot, newest first.
func (s *Store) Snapshot() []spot.Spot {
	s.mu.RLock()
	out := make([]spot.Spot, 0, len(s.spots))
	for _, sp := range s.spots {
		out = append(out, sp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		if out[i].FreqMHz != out[j].FreqMHz {
			return out[i].FreqMHz < out[j].FreqMHz
		}
		return lessKey(out[i].Key(), out[j].Key())
	})
	return out
}

// Len returns the number of stored spots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spots)
}

// LastSeq returns the sequence number of the last merged poll.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// LastMerge returns when the last batch was merged, or the zero time.
func (s *Store) LastMerge() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMerge
}
