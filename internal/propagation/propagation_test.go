package propagation

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/solar"
)

var (
	westIberia = geo.LatLon{Lat: 40, Lon: -3}
	eastIberia = geo.LatLon{Lat: 40, Lon: 3}
	at1400     = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
)

func quietSun() solar.Indices {
	return solar.Indices{SFI: 150, SSN: 100, KIndex: 2}
}

func bandByName(t *testing.T, r Result, name string) BandStatus {
	t.Helper()
	for _, b := range r.CurrentBands {
		if b.Band == name {
			return b
		}
	}
	t.Fatalf("band %s missing", name)
	return BandStatus{}
}

func TestComputeShortDaytimePath(t *testing.T) {
	r := Compute(westIberia, eastIberia, quietSun(), at1400)

	assert.Equal(t, 14, r.CurrentHour)
	assert.InDelta(t, 511, r.DistanceKm, 5)
	assert.InDelta(t, 39.0, r.MUF, 0.5)
	assert.InDelta(t, 5.3, r.LUF, 0.1)

	b20 := bandByName(t, r, "20m")
	assert.Greater(t, b20.Reliability, 50)
	assert.Equal(t, 84, b20.Reliability)
	assert.Equal(t, StatusExcellent, b20.Status)
	assert.Equal(t, "+10dB", b20.SNR)

	b160 := bandByName(t, r, "160m")
	assert.LessOrEqual(t, b160.Reliability, 15)
	assert.Equal(t, StatusClosed, b160.Status)
}

func TestComputeShape(t *testing.T) {
	r := Compute(westIberia, eastIberia, quietSun(), at1400)

	require.Len(t, r.CurrentBands, len(HFBands))
	require.Len(t, r.Hourly, len(HFBands))
	for _, b := range HFBands {
		points := r.Hourly[b.Name]
		require.Len(t, points, 24, b.Name)
		for h, p := range points {
			assert.Equal(t, h, p.Hour)
			assert.GreaterOrEqual(t, p.Reliability, 0)
			assert.LessOrEqual(t, p.Reliability, 99)
		}
		assert.Equal(t, points[14].Reliability, bandByName(t, r, b.Name).Reliability)
	}

	for i := 1; i < len(r.CurrentBands); i++ {
		assert.GreaterOrEqual(t, r.CurrentBands[i-1].Reliability, r.CurrentBands[i].Reliability)
	}
}

func TestComputeIsPure(t *testing.T) {
	a := Compute(westIberia, eastIberia, quietSun(), at1400)
	b := Compute(westIberia, eastIberia, quietSun(), at1400)
	assert.Equal(t, a, b)
}

func TestComputeStormPenalty(t *testing.T) {
	calm := Compute(westIberia, eastIberia, quietSun(), at1400)
	stormy := quietSun()
	stormy.KIndex = 6
	storm := Compute(westIberia, eastIberia, stormy, at1400)

	assert.Less(t, bandByName(t, storm, "20m").Reliability, bandByName(t, calm, "20m").Reliability)
}

func TestComputeLowFluxHurtsHighBands(t *testing.T) {
	low := quietSun()
	low.SFI = 70
	r := Compute(westIberia, eastIberia, low, at1400)
	hi := Compute(westIberia, eastIberia, quietSun(), at1400)

	assert.Less(t, bandByName(t, r, "10m").Reliability, bandByName(t, hi, "10m").Reliability)
}

func TestLocalHourWraps(t *testing.T) {
	g := pathGeometry{midLon: -150}
	assert.InDelta(t, 14.0, g.localHour(0), 1e-9)
	g = pathGeometry{midLon: 150}
	assert.InDelta(t, 8.0, g.localHour(22), 1e-9)
}

func TestComputeAcrossAntimeridianUsesGreatCircleMidpoint(t *testing.T) {
	from := geo.LatLon{Lat: 0, Lon: 170}
	to := geo.LatLon{Lat: 0, Lon: -170}
	midnight := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	g := newPathGeometry(from, to)
	assert.InDelta(t, 180.0, math.Abs(g.midLon), 1e-6)
	assert.InDelta(t, 12.0, g.localHour(0), 1e-6)

	// Local noon at the midpoint: daytime LUF, not the night value of 3.75.
	r := Compute(from, to, quietSun(), midnight)
	assert.InDelta(t, 5.3, r.LUF, 0.1)
}

func TestStatusAndSNR(t *testing.T) {
	tests := []struct {
		rel    int
		status string
		snr    string
	}{
		{99, StatusExcellent, "+10dB"},
		{80, StatusExcellent, "+10dB"},
		{70, StatusExcellent, "+3dB"},
		{60, StatusGood, "+3dB"},
		{50, StatusGood, "-5dB"},
		{40, StatusFair, "-5dB"},
		{30, StatusFair, "-12dB"},
		{20, StatusPoor, "-12dB"},
		{15, StatusPoor, "-20dB"},
		{1, StatusClosed, "-20dB"},
		{0, StatusClosed, "--"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.rel), "status %d", tt.rel)
		assert.Equal(t, tt.snr, SNRFor(tt.rel), "snr %d", tt.rel)
	}
}

type countingObserver struct {
	mu           sync.Mutex
	hits, misses int
}

func (o *countingObserver) ObserveCache(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func TestPredictorCaches(t *testing.T) {
	clock := clockwork.NewFakeClockAt(at1400)
	cache := NewCache(clock, 10*time.Minute)
	defer cache.Close()

	p := NewPredictor(solar.Static(quietSun()), cache, clock)
	obs := &countingObserver{}
	p.SetObserver(obs)

	first, err := p.Predict(context.Background(), westIberia, eastIberia)
	require.NoError(t, err)
	second, err := p.Predict(context.Background(), westIberia, eastIberia)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, cache.Len())

	// Sub-0.01 degree jitter shares the entry.
	_, err = p.Predict(context.Background(), geo.LatLon{Lat: 40.001, Lon: -3.001}, eastIberia)
	require.NoError(t, err)
	assert.Equal(t, 2, obs.hits)
}

func TestPredictorCachedResultsAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(at1400)
	cache := NewCache(clock, 10*time.Minute)
	defer cache.Close()

	p := NewPredictor(solar.Static(quietSun()), cache, clock)

	first, err := p.Predict(context.Background(), westIberia, eastIberia)
	require.NoError(t, err)
	want := first.clone()

	first.CurrentBands[0].Reliability = -1
	first.Hourly["20m"][14].Reliability = -1
	delete(first.Hourly, "40m")

	second, err := p.Predict(context.Background(), westIberia, eastIberia)
	require.NoError(t, err)
	assert.Equal(t, want, second)
}

func TestPredictorCacheExpires(t *testing.T) {
	clock := clockwork.NewFakeClockAt(at1400)
	cache := NewCache(clock, 10*time.Minute)
	defer cache.Close()

	p := NewPredictor(solar.Static(quietSun()), cache, clock)
	obs := &countingObserver{}
	p.SetObserver(obs)

	_, err := p.Predict(context.Background(), westIberia, eastIberia)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = p.Predict(context.Background(), westIberia, eastIberia)
	require.NoError(t, err)

	assert.Equal(t, 0, obs.hits)
	assert.Equal(t, 2, obs.misses)
}

func TestPredictorRejectsInvalidLocation(t *testing.T) {
	clock := clockwork.NewFakeClockAt(at1400)
	p := NewPredictor(solar.Static(quietSun()), nil, clock)

	_, err := p.Predict(context.Background(), geo.LatLon{Lat: 91}, eastIberia)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = p.Predict(context.Background(), westIberia, geo.LatLon{Lon: 181})
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestCacheCloseIsIdempotent(t *testing.T) {
	c := NewCache(clockwork.NewFakeClock(), 0)
	c.put(cacheKey{hour: 1}, Result{})
	c.Close()
	c.Close()
	assert.Equal(t, 0, c.Len())
}
