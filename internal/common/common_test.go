package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
)

func load(t *testing.T) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return LoadConfig(v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, source.Auto, cfg.Source)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 180*time.Second, cfg.LowMemoryPollInterval)
	assert.Equal(t, 10*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 200, cfg.MaxSpots)
	assert.Equal(t, 30*time.Minute, cfg.Retention())
	assert.Equal(t, "/var/lib/ki7mt-dx", cfg.DataDir)
	assert.Equal(t, "/var/lib/ki7mt-dx/spots.sqlite", cfg.Snapshot.Path)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse.Addr())
	assert.Equal(t, "solar.indices_raw", cfg.ClickHouse.SolarTable)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 10*time.Minute, cfg.PropagationTTL)
	assert.Equal(t, 15*time.Minute, cfg.SolarTTL)
	assert.Equal(t, 60*time.Second, cfg.EffectivePollInterval())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SOURCE", "POTA")
	t.Setenv("LOW_MEMORY", "true")
	t.Setenv("POLL_INTERVAL", "30")
	t.Setenv("CLICKHOUSE_HOST", "ch.lab")
	t.Setenv("CLICKHOUSE_ENABLED", "true")
	t.Setenv("KI7MT_DATA_DIR", "/srv/dx")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "pota", cfg.Source)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 180*time.Second, cfg.EffectivePollInterval())
	assert.Equal(t, "ch.lab:9000", cfg.ClickHouse.Addr())
	assert.True(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, "/srv/dx", cfg.DataDir)
	assert.Equal(t, "/srv/dx/spots.sqlite", cfg.Snapshot.Path)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source: dxheat
max_spots: 50
clickhouse:
  enabled: true
  host: archive.lab
kafka:
  brokers: [k1:9092]
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, ReadConfigFile(v, path, "dx-aggregator"))
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "dxheat", cfg.Source)
	assert.Equal(t, 50, cfg.MaxSpots)
	assert.Equal(t, "archive.lab:9000", cfg.ClickHouse.Addr())
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
}

func TestReadConfigFileMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	v := viper.New()
	assert.NoError(t, ReadConfigFile(v, "", "dx-aggregator"))
	assert.Error(t, ReadConfigFile(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), "dx-aggregator"))
}

func TestAdapterTimeoutClamped(t *testing.T) {
	t.Setenv("ADAPTER_TIMEOUT", "2s")
	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, source.MinTimeout, cfg.AdapterTimeout)

	t.Setenv("ADAPTER_TIMEOUT", "1m")
	cfg, err = load(t)
	require.NoError(t, err)
	assert.Equal(t, source.MaxTimeout, cfg.AdapterTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"unknown source", "SOURCE", "rbn", "source"},
		{"bad duration", "POLL_INTERVAL", "soon", "poll_interval"},
		{"zero cap", "MAX_SPOTS", "0", "max_spots"},
		{"negative retention", "RETENTION_MINUTES", "-5", "retention_minutes"},
		{"bad format", "LOG_FORMAT", "xml", "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := load(t)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnknownSourceIsSentinel(t *testing.T) {
	t.Setenv("SOURCE", "rbn")
	_, err := load(t)
	assert.ErrorIs(t, err, source.ErrUnknownSource)
}

func TestParseBrokersFromList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, parseBrokers([]any{"a:1", " b:2 "}))
	assert.Nil(t, parseBrokers(""))
	assert.Nil(t, parseBrokers(nil))
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = NewLogger("loud", "text")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestStatsRecordAndReport(t *testing.T) {
	log, hook := test.NewNullLogger()
	clock := clockwork.NewFakeClock()
	s := NewStats(log, clock, time.Minute)

	s.RecordPoll(10, 4, 1, 2*time.Second)
	s.RecordPoll(0, 0, 0, time.Second)
	s.AddEvicted(3)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Polls)
	assert.Equal(t, uint64(1), snap.EmptyPolls)
	assert.Equal(t, uint64(10), snap.SpotsMerged)
	assert.Equal(t, uint64(4), snap.SpotsAdded)
	assert.Equal(t, uint64(4), snap.Evicted)
	assert.Equal(t, time.Second, snap.LastLatency)

	s.report()
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, uint64(2), entry.Data["polls"])
	assert.Equal(t, 2.0, entry.Data["added_avg"])

	s.Reset()
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestStatsReporterLifecycle(t *testing.T) {
	log, hook := test.NewNullLogger()
	clock := clockwork.NewFakeClock()
	s := NewStats(log, clock, time.Minute)

	s.StartReporter()
	s.StartReporter()
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(hook.AllEntries()) == 1 }, time.Second, 5*time.Millisecond)

	s.StopReporter()
	s.StopReporter()
}
