// dx-fetch - One-shot DX spot fetch, export and archive
//
// Fetches the current spot list from one provider (or the first provider
// with data, in "auto" mode) and prints it, optionally writing Parquet or
// gzipped CSV exports and archiving the batch to ClickHouse.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/dx-fetch ./cmd/dx-fetch

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/archive"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/common"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/snapshot"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

type options struct {
	configFile string
	source     string
	list       bool
	jsonOut    bool
	parquet    string
	csv        string
	exportDir  bool
	archive    bool
	timeout    time.Duration
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:           "dx-fetch",
		Short:         "Fetch DX spots once and print or export them",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "config file (default is $HOME/.dx-aggregator.yaml)")
	cmd.Flags().StringVar(&opts.source, "source", source.Auto, "Provider id, or auto")
	cmd.Flags().BoolVar(&opts.list, "list", false, "List providers and exit")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print spots as JSON")
	cmd.Flags().StringVar(&opts.parquet, "parquet", "", "Write a Parquet export to this path")
	cmd.Flags().StringVar(&opts.csv, "csv", "", "Write a gzipped CSV export to this path")
	cmd.Flags().BoolVar(&opts.exportDir, "export", false, "Write both exports to <data_dir>/exports")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "Insert the batch into the ClickHouse archive")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-provider timeout (clamped to 8-15s)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	v := viper.New()
	common.SetDefaults(v)
	if err := common.ReadConfigFile(v, opts.configFile, "dx-aggregator"); err != nil {
		return err
	}
	cfg, err := common.LoadConfig(v)
	if err != nil {
		return err
	}
	log, err := common.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	timeout := cfg.AdapterTimeout
	if opts.timeout > 0 {
		timeout = opts.timeout
	}
	fetcher := source.NewFetcher(log)
	selector := source.NewSelector(log, source.Defaults(fetcher, source.Overrides{Timeout: timeout})...)

	if opts.list {
		return printSources(out, selector.Sources())
	}

	start := time.Now()
	batch, err := selector.Fetch(ctx, opts.source)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(spot.WireAll(batch.Spots)); err != nil {
			return err
		}
	} else {
		printBatch(out, batch, time.Since(start))
	}

	parquetPath, csvPath := opts.parquet, opts.csv
	if opts.exportDir {
		stem := filepath.Join(cfg.ExportDir(), snapshot.ExportName(time.Now()))
		if parquetPath == "" {
			parquetPath = stem + ".parquet"
		}
		if csvPath == "" {
			csvPath = stem + ".csv.gz"
		}
	}
	if parquetPath != "" {
		if err := writeFile(parquetPath, func(w io.Writer) error { return snapshot.WriteParquet(w, batch.Spots) }); err != nil {
			return err
		}
		log.WithField("path", parquetPath).Info("wrote parquet export")
	}
	if csvPath != "" {
		if err := writeFile(csvPath, func(w io.Writer) error { return snapshot.WriteCSVGz(w, batch.Spots) }); err != nil {
			return err
		}
		log.WithField("path", csvPath).Info("wrote csv export")
	}

	if opts.archive {
		return archiveBatch(ctx, cfg, log, batch)
	}
	return nil
}

func archiveBatch(ctx context.Context, cfg *common.Config, log logrus.FieldLogger, batch source.Batch) error {
	sink, err := archive.Dial(ctx, archive.Config{
		Addr:     cfg.ClickHouse.Addr(),
		Database: cfg.ClickHouse.Database,
		User:     cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
		Table:    cfg.ClickHouse.SpotTable,
	}, log)
	if err != nil {
		return err
	}
	defer sink.Close()

	return sink.Publish(ctx, aggregator.Update{
		Seq:    uint64(time.Now().Unix()),
		Source: batch.Source,
		Batch:  batch.Spots,
		At:     time.Now(),
	})
}

// writeFile writes through a temp file so a failed export leaves nothing behind.
func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dx-export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ===== Output =====

func printSources(out io.Writer, infos []source.Info) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.Name, info.Description)
	}
	return tw.Flush()
}

func printBatch(out io.Writer, batch source.Batch, elapsed time.Duration) {
	fmt.Fprintln(out, "=========================================================")
	fmt.Fprintf(out, "DX Fetch v%s\n", Version)
	fmt.Fprintln(out, "=========================================================")
	for _, a := range batch.Attempts {
		status := "ok"
		switch {
		case a.Err != nil:
			status = a.Err.Error()
		case a.Spots == 0:
			status = "empty"
		}
		fmt.Fprintf(out, "  %-9s %4d spots  %4d dropped  %6s  %s\n",
			a.Source, a.Spots, a.Dropped, a.Duration.Round(time.Millisecond), status)
	}
	fmt.Fprintln(out, "---------------------------------------------------------")

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFREQ\tBAND\tMODE\tDX\tSPOTTER\tCOMMENT")
	for _, s := range batch.Spots {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.Time, s.Freq, s.Band(), s.Mode(), s.DXCall, s.Spotter, s.Comment)
	}
	tw.Flush()

	fmt.Fprintln(out, "=========================================================")
	served := batch.Source
	if served == "" {
		served = "none (all providers failed or empty)"
	}
	fmt.Fprintf(out, "Source: %s | Spots: %d | Elapsed: %s\n", served, len(batch.Spots), elapsed.Round(time.Millisecond))
	fmt.Fprintln(out, "=========================================================")
}
