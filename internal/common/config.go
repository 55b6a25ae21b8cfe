// Package common provides configuration, logging and poll statistics shared
// by the KI7MT DX aggregator binaries.
package common

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
)

// ClickHouseConfig locates the spot archive and the solar history.
type ClickHouseConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Database   string
	User       string
	Password   string
	SpotTable  string
	SolarTable string
}

// Addr is host:port for the native protocol.
func (c ClickHouseConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SnapshotConfig controls last-known-good persistence.
type SnapshotConfig struct {
	Enabled bool
	Path    string
}

// KafkaConfig controls spot fan-out. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Config holds configuration for all applications.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	Source                string
	PollInterval          time.Duration
	LowMemory             bool
	LowMemoryPollInterval time.Duration
	AdapterTimeout        time.Duration
	MaxSpots              int
	RetentionMinutes      int
	FilterFile            string
	DataDir               string

	ClickHouse ClickHouseConfig
	Snapshot   SnapshotConfig
	Kafka      KafkaConfig

	PropagationTTL  time.Duration
	SolarTTL        time.Duration
	ShutdownTimeout time.Duration
}

// SetDefaults registers every key with its default and wires the
// environment: "clickhouse.host" reads CLICKHOUSE_HOST, and so on.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("source", source.Auto)
	v.SetDefault("poll_interval", "60s")
	v.SetDefault("low_memory", false)
	v.SetDefault("low_memory_poll_interval", "180s")
	v.SetDefault("adapter_timeout", "10s")
	v.SetDefault("max_spots", 200)
	v.SetDefault("retention_minutes", 30)
	v.SetDefault("filter_file", "")
	v.SetDefault("data_dir", "/var/lib/ki7mt-dx")

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "dx")
	v.SetDefault("clickhouse.user", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.spot_table", "spots_raw")
	v.SetDefault("clickhouse.solar_table", "solar.indices_raw")

	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.path", "")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "dx-spots")

	v.SetDefault("propagation_ttl", "10m")
	v.SetDefault("solar_ttl", "15m")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("data_dir", "KI7MT_DATA_DIR", "DATA_DIR")
}

// ReadConfigFile loads path into v, or $HOME/.<name>.yaml when path is
// empty. A missing default file is not an error; a missing explicit one is.
func ReadConfigFile(v *viper.Viper, path, name string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("home dir: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName("." + name)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// DefaultConfig returns configuration from defaults and the environment.
func DefaultConfig() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadConfig(v)
}

// LoadConfig reads and validates every key from v. SetDefaults must have
// been applied to v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var errs []error
	duration := func(key string) time.Duration {
		d, err := parseDuration(v.GetString(key))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v.GetString(key)))
		}
		return d
	}

	cfg := &Config{
		HTTPAddr:  v.GetString("http_addr"),
		LogLevel:  strings.ToLower(v.GetString("log_level")),
		LogFormat: strings.ToLower(v.GetString("log_format")),

		Source:                strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		PollInterval:          duration("poll_interval"),
		LowMemory:             v.GetBool("low_memory"),
		LowMemoryPollInterval: duration("low_memory_poll_interval"),
		AdapterTimeout:        source.ClampTimeout(duration("adapter_timeout")),
		MaxSpots:              v.GetInt("max_spots"),
		RetentionMinutes:      v.GetInt("retention_minutes"),
		FilterFile:            v.GetString("filter_file"),
		DataDir:               v.GetString("data_dir"),

		ClickHouse: ClickHouseConfig{
			Enabled:    v.GetBool("clickhouse.enabled"),
			Host:       v.GetString("clickhouse.host"),
			Port:       v.GetInt("clickhouse.port"),
			Database:   v.GetString("clickhouse.database"),
			User:       v.GetString("clickhouse.user"),
			Password:   v.GetString("clickhouse.password"),
			SpotTable:  v.GetString("clickhouse.spot_table"),
			SolarTable: v.GetString("clickhouse.solar_table"),
		},
		Snapshot: SnapshotConfig{
			Enabled: v.GetBool("snapshot.enabled"),
			Path:    v.GetString("snapshot.path"),
		},
		Kafka: KafkaConfig{
			Brokers: parseBrokers(v.Get("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},

		PropagationTTL:  duration("propagation_ttl"),
		SolarTTL:        duration("solar_ttl"),
		ShutdownTimeout: duration("shutdown_timeout"),
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = filepath.Join(cfg.DataDir, "spots.sqlite")
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	if c.Source != source.Auto && !contains(source.DefaultOrder, c.Source) {
		errs = append(errs, fmt.Errorf("source: %w: %q", source.ErrUnknownSource, c.Source))
	}
	if c.MaxSpots <= 0 {
		errs = append(errs, fmt.Errorf("max_spots: must be positive, got %d", c.MaxSpots))
	}
	if c.RetentionMinutes < 0 {
		errs = append(errs, fmt.Errorf("retention_minutes: must not be negative, got %d", c.RetentionMinutes))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.ClickHouse.Enabled {
		if c.ClickHouse.Host == "" {
			errs = append(errs, errors.New("clickhouse.host is required when clickhouse.enabled"))
		}
		if c.ClickHouse.Port <= 0 || c.ClickHouse.Port > 65535 {
			errs = append(errs, fmt.Errorf("clickhouse.port: out of range: %d", c.ClickHouse.Port))
		}
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	return errs
}

// EffectivePollInterval is the poll period after low-memory mode.
func (c *Config) EffectivePollInterval() time.Duration {
	if c.LowMemory {
		return c.LowMemoryPollInterval
	}
	return c.PollInterval
}

// Retention is RetentionMinutes as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// ExportDir returns the default directory for Parquet and CSV exports.
func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// parseBrokers accepts a comma-separated string (environment) or a list
// (config file).
func parseBrokers(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
	}

	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	if len(brokers) == 0 {
		return nil
	}
	return brokers
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
