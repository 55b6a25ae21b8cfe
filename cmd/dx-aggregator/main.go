// dx-aggregator - Poll DX spot providers and serve the aggregated views
//
// Spots are fetched from HamQTH, DXSummit, DXHeat, DXWatch or POTA (or the
// first of them with data, in "auto" mode), merged into a rolling store,
// and served over HTTP together with an HF propagation predictor.
//
// Optional outputs: SQLite last-known-good snapshot, ClickHouse archive,
// Kafka spot topic, websocket view push.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/dx-aggregator ./cmd/dx-aggregator

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/archive"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/common"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/filter"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/observability"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/propagation"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/publish"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/server"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/snapshot"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/solar"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/store"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "dx-aggregator",
	Short:         "Aggregate live DX spots and predict HF propagation",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		common.SetDefaults(v)
		if err := common.ReadConfigFile(v, cfgFile, "dx-aggregator"); err != nil {
			return err
		}
		for key, flag := range map[string]string{
			"http_addr":  "addr",
			"source":     "source",
			"log_level":  "log-level",
			"low_memory": "low-memory",
		} {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return err
			}
		}

		cfg, err := common.LoadConfig(v)
		if err != nil {
			return err
		}
		log, err := common.NewLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, log)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dx-aggregator.yaml)")
	rootCmd.Flags().String("addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("source", source.Auto, "Spot provider id, or auto")
	rootCmd.Flags().StringP("log-level", "l", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().Bool("low-memory", false, "Poll less often")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ===== Wiring =====

func run(ctx context.Context, cfg *common.Config, log *logrus.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	fetcher := source.NewFetcher(log)
	selector := source.NewSelector(log, source.Defaults(fetcher, source.Overrides{Timeout: cfg.AdapterTimeout})...)
	selector.SetObserver(metrics)

	initial, err := initialFilters(cfg)
	if err != nil {
		return err
	}
	filters := filter.NewHolder(initial)
	st := store.New(
		store.WithClock(clock),
		store.WithMaxSpots(cfg.MaxSpots),
		store.WithRetention(initial.Retention()),
	)

	// Solar: live NOAA, then ClickHouse history, then defaults
	feeds := []solar.Feed{solar.NewNOAAFeed(fetcher)}
	if cfg.ClickHouse.Enabled {
		history, err := solar.OpenHistory(ctx, solar.HistoryConfig{
			Addr:     cfg.ClickHouse.Addr(),
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.SolarTable,
		})
		if err != nil {
			log.WithError(err).Warn("solar history unavailable, live and defaults only")
		} else {
			defer history.Close()
			feeds = append(feeds, history)
		}
	}
	resolver := solar.NewResolver(log, clock, cfg.SolarTTL, feeds...)

	cache := propagation.NewCache(clock, cfg.PropagationTTL)
	defer cache.Close()
	predictor := propagation.NewPredictor(resolver, cache, clock)
	predictor.SetObserver(metrics)

	hub := publish.NewHub(log)
	hub.SetObserver(metrics)
	defer hub.Close()

	stats := common.NewStats(log, clock, 5*time.Minute)
	stats.StartReporter()
	defer stats.StopReporter()

	agg := aggregator.New(
		aggregator.Config{Interval: cfg.EffectivePollInterval(), Source: cfg.Source},
		selector, st, filters, log,
		aggregator.WithClock(clock),
		aggregator.WithMetrics(metrics),
		aggregator.WithStats(stats),
		aggregator.WithSinks(hub),
	)

	if cfg.Snapshot.Enabled {
		db, err := snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			log.WithError(err).WithField("path", cfg.Snapshot.Path).Warn("snapshot disabled")
		} else {
			defer db.Close()
			if spots, err := db.Load(ctx); err != nil {
				log.WithError(err).Warn("snapshot restore failed")
			} else {
				agg.Restore(spots)
			}
			agg.AddSink(db)
		}
	}

	if cfg.ClickHouse.Enabled {
		sink, err := archive.Dial(ctx, archive.Config{
			Addr:     cfg.ClickHouse.Addr(),
			Database: cfg.ClickHouse.Database,
			User:     cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.SpotTable,
		}, log)
		if err != nil {
			log.WithError(err).Warn("spot archive disabled")
		} else {
			defer sink.Close()
			agg.AddSink(sink)
		}
	}

	if cfg.Kafka.Enabled() {
		producer := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		agg.AddSink(producer)
	}

	srv := server.NewServer(cfg.HTTPAddr, server.Deps{
		Sources:    selector,
		Poller:     agg,
		Store:      st,
		Filters:    filters,
		FilterFile: cfg.FilterFile,
		Predictor:  predictor,
		Websocket:  hub,
		Gatherer:   prometheus.DefaultGatherer,
	}, log)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		agg.Run(ctx) //nolint:errcheck // returns nil on cancellation
	}()

	log.WithFields(logrus.Fields{
		"version":  Version,
		"source":   cfg.Source,
		"interval": cfg.EffectivePollInterval().String(),
	}).Info("dx-aggregator running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	cancelRun()
	<-loopDone
	return runErr
}

// initialFilters loads the filter file when present, else seeds retention
// from the config.
func initialFilters(cfg *common.Config) (filter.FilterSet, error) {
	if cfg.FilterFile != "" {
		f, err := filter.LoadFile(cfg.FilterFile)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return filter.FilterSet{}, err
		}
	}
	return filter.FilterSet{SpotRetentionMinutes: cfg.RetentionMinutes}, nil
}
