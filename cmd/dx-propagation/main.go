// dx-propagation - Print an HF band reliability table for one path
//
// Locations are Maidenhead grids (FN31, FN31pr) or "lat,lon" pairs. Solar
// indices come from NOAA SWPC, then the ClickHouse solar history when
// enabled, then the built-in defaults; --sfi/--ssn/--k override them.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/dx-propagation ./cmd/dx-propagation

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/common"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/propagation"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/solar"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

type options struct {
	configFile string
	from, to   string
	at         string
	offline    bool
	jsonOut    bool
	sfi        float64
	ssn        float64
	k          float64
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:           "dx-propagation --from FN31 --to PM95",
		Short:         "Predict HF band reliability between two points",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "config file (default is $HOME/.dx-aggregator.yaml)")
	cmd.Flags().StringVar(&opts.from, "from", "", "Origin grid or lat,lon (required)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Destination grid or lat,lon (required)")
	cmd.Flags().StringVar(&opts.at, "at", "", "UTC time, RFC3339 (default now)")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Skip live solar data")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the full result as JSON")
	cmd.Flags().Float64Var(&opts.sfi, "sfi", 0, "Solar flux override")
	cmd.Flags().Float64Var(&opts.ssn, "ssn", 0, "Sunspot number override")
	cmd.Flags().Float64Var(&opts.k, "k", -1, "K-index override")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	from, err := geo.ParseLocation(opts.from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := geo.ParseLocation(opts.to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	at := time.Now().UTC()
	if opts.at != "" {
		if at, err = time.Parse(time.RFC3339, opts.at); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

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

	idx := resolveIndices(ctx, cfg, log, opts)
	res := propagation.Compute(from, to, idx, at)

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printTable(out, res)
	return nil
}

// resolveIndices runs the normal feed chain, then applies any overrides.
func resolveIndices(ctx context.Context, cfg *common.Config, log logrus.FieldLogger, opts options) solar.Indices {
	var feeds []solar.Feed
	if !opts.offline {
		feeds = append(feeds, solar.NewNOAAFeed(source.NewFetcher(log)))
		if cfg.ClickHouse.Enabled {
			history, err := solar.OpenHistory(ctx, solar.HistoryConfig{
				Addr:     cfg.ClickHouse.Addr(),
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.User,
				Password: cfg.ClickHouse.Password,
				Table:    cfg.ClickHouse.SolarTable,
			})
			if err != nil {
				log.WithError(err).Warn("solar history unavailable")
			} else {
				defer history.Close()
				feeds = append(feeds, history)
			}
		}
	}

	idx := solar.NewResolver(log, clockwork.NewRealClock(), cfg.SolarTTL, feeds...).Current(ctx)
	if opts.sfi > 0 {
		idx.SFI, idx.Sources.SFI = opts.sfi, "flag"
	}
	if opts.ssn > 0 {
		idx.SSN, idx.Sources.SSN = opts.ssn, "flag"
	}
	if opts.k >= 0 {
		idx.KIndex, idx.Sources.KIndex = opts.k, "flag"
	}
	return idx
}

// ===== Output =====

func printTable(out io.Writer, res propagation.Result) {
	fmt.Fprintln(out, "=========================================================")
	fmt.Fprintf(out, "DX Propagation v%s\n", Version)
	fmt.Fprintln(out, "=========================================================")
	fmt.Fprintf(out, "Path:   %s (%s) -> %s (%s)  %.0f km\n",
		res.From, geo.GridSquare(res.From.Lat, res.From.Lon),
		res.To, geo.GridSquare(res.To.Lat, res.To.Lon), res.DistanceKm)
	fmt.Fprintf(out, "Solar:  SFI %.0f (%s)  SSN %.0f (%s)  K %.1f (%s)\n",
		res.Solar.SFI, res.Solar.Sources.SFI,
		res.Solar.SSN, res.Solar.Sources.SSN,
		res.Solar.KIndex, res.Solar.Sources.KIndex)
	fmt.Fprintf(out, "Hour:   %02d UTC  MUF %.1f MHz  LUF %.1f MHz\n", res.CurrentHour, res.MUF, res.LUF)
	fmt.Fprintln(out, "---------------------------------------------------------")

	for _, b := range res.CurrentBands {
		fmt.Fprintf(out, "  %-5s %7.3f  %3d%%  %-9s %s\n", b.Band, b.FreqMHz, b.Reliability, b.Status, b.SNR)
	}

	fmt.Fprintln(out, "---------------------------------------------------------")
	fmt.Fprintf(out, "  %-5s ", "UTC")
	for h := 0; h < 24; h++ {
		fmt.Fprintf(out, "%2d", h%10)
	}
	fmt.Fprintln(out)
	for _, band := range propagation.HFBands {
		var row strings.Builder
		for _, p := range res.Hourly[band.Name] {
			row.WriteString(" " + heat(p.Reliability))
		}
		fmt.Fprintf(out, "  %-5s %s\n", band.Name, row.String())
	}
	fmt.Fprintln(out, "=========================================================")
	fmt.Fprintln(out, "  # excellent  + good  - fair  . poor  (blank) closed")
}

func heat(reliability int) string {
	switch propagation.StatusFor(reliability) {
	case propagation.StatusExcellent:
		return "#"
	case propagation.StatusGood:
		return "+"
	case propagation.StatusFair:
		return "-"
	case propagation.StatusPoor:
		return "."
	}
	return " "
}
