package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
)

func TestObserveAttemptOutcomes(t *testing.T) {
	m := NewMetricsForTesting()

	m.ObserveAttempt(source.Attempt{Source: "hamqth", Spots: 12, Dropped: 2, Duration: time.Second})
	m.ObserveAttempt(source.Attempt{Source: "dxsummit", Duration: time.Second})
	m.ObserveAttempt(source.Attempt{Source: "dxheat", Err: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceAttempts.WithLabelValues("hamqth", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceAttempts.WithLabelValues("dxsummit", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceAttempts.WithLabelValues("dxheat", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SpotsDropped.WithLabelValues("hamqth")))
}

func TestObserveCache(t *testing.T) {
	m := NewMetricsForTesting()

	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PropagationCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PropagationCache.WithLabelValues("miss")))
}

func TestWebsocketClientGauge(t *testing.T) {
	m := NewMetricsForTesting()

	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebsocketClients))
}

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.StoreSize.Set(7)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dx_aggregator_store_spots"])
	assert.Panics(t, func() { NewMetrics(reg) })
}
