package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mkSpot(t *testing.T, dx string, freq float64) spot.Spot {
	t.Helper()
	s, ok := spot.New("K1ABC", dx, freq, "cw", "12:00z", "test")
	require.True(t, ok)
	return s
}

func TestMergeIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := New(WithClock(clock))
	batch := []spot.Spot{mkSpot(t, "JA1XYZ", 14.205), mkSpot(t, "DL1ABC", 7.010)}

	res, err := st.Merge(1, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	first := st.Snapshot()

	clock.Advance(time.Minute)
	res, err = st.Merge(2, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Refreshed)
	assert.Equal(t, 2, st.Len())

	second := st.Snapshot()
	for i := range first {
		assert.Equal(t, first[i].Key(), second[i].Key())
		assert.Equal(t, epoch.Add(time.Minute), second[i].LastSeen)
	}
}

func TestMergeRejectsStaleSequence(t *testing.T) {
	st := New(WithClock(clockwork.NewFakeClockAt(epoch)))

	_, err := st.Merge(2, []spot.Spot{mkSpot(t, "JA1XYZ", 14.205)})
	require.NoError(t, err)

	res, err := st.Merge(1, []spot.Spot{mkSpot(t, "DL1ABC", 7.010)})
	assert.True(t, errors.Is(err, ErrStaleBatch))
	assert.Equal(t, 1, res.Size)
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, uint64(2), st.LastSeq())

	_, err = st.Merge(2, nil)
	assert.True(t, errors.Is(err, ErrStaleBatch), "equal sequence is stale too")
}

func TestRetentionEviction(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := New(WithClock(clock), WithRetention(10*time.Minute))

	_, err := st.Merge(1, []spot.Spot{mkSpot(t, "JA1XYZ", 14.205)})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = st.Merge(2, []spot.Spot{mkSpot(t, "DL1ABC", 7.010)})
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, st.Evict())

	snap := st.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "DL1ABC", snap[0].DXCall)
}

func TestSetRetentionPurgesImmediately(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := New(WithClock(clock), WithRetention(30*time.Minute))

	_, err := st.Merge(1, []spot.Spot{mkSpot(t, "JA1XYZ", 14.205)})
	require.NoError(t, err)
	clock.Advance(3 * time.Minute)
	_, err = st.Merge(2, []spot.Spot{mkSpot(t, "DL1ABC", 7.010)})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	assert.Equal(t, 1, st.SetRetention(2*time.Minute))
	assert.Equal(t, 2*time.Minute, st.Retention())
	require.Len(t, st.Snapshot(), 1)
	assert.Equal(t, "DL1ABC", st.Snapshot()[0].DXCall)
}

func TestCapDropsOldestFirst(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := New(WithClock(clock), WithMaxSpots(3))

	for i := 0; i < 5; i++ {
		_, err := st.Merge(uint64(i+1), []spot.Spot{mkSpot(t, fmt.Sprintf("JA%dXYZ", i), 14.0+float64(i)/100)})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	snap := st.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "JA4XYZ", snap[0].DXCall)
	assert.Equal(t, "JA3XYZ", snap[1].DXCall)
	assert.Equal(t, "JA2XYZ", snap[2].DXCall)
}

func TestRefreshKeepsIdentityAndUpdatesDetails(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := New(WithClock(clock))

	a := mkSpot(t, "JA1XYZ", 14.205)
	_, err := st.Merge(1, []spot.Spot{a})
	require.NoError(t, err)

	b := a
	b.Comment = "now ssb"
	b.Source = "dxsummit"
	b.Time = ""
	_, err = st.Merge(2, []spot.Spot{b})
	require.NoError(t, err)

	snap := st.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "now ssb", snap[0].Comment)
	assert.Equal(t, "dxsummit", snap[0].Source)
	assert.Equal(t, "12:00z", snap[0].Time, "empty time keeps the previous value")
}

func TestRestore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := New(WithClock(clock), WithRetention(10*time.Minute))

	fresh := mkSpot(t, "JA1XYZ", 14.205)
	fresh.LastSeen = epoch.Add(-time.Minute)
	stale := mkSpot(t, "DL1ABC", 7.010)
	stale.LastSeen = epoch.Add(-time.Hour)

	assert.Equal(t, 1, st.Restore([]spot.Spot{fresh, stale}))
	assert.Equal(t, uint64(0), st.LastSeq())

	_, err := st.Merge(1, nil)
	assert.NoError(t, err)
}
