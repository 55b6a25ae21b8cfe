package snapshot

import (
	"encoding/csv"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// Row is the flat export shape of a spot.
type Row struct {
	DXCall   string  `parquet:"dx_call"`
	Spotter  string  `parquet:"spotter"`
	FreqMHz  float64 `parquet:"freq_mhz"`
	Band     string  `parquet:"band"`
	Mode     string  `parquet:"mode"`
	Time     string  `parquet:"time"`
	Comment  string  `parquet:"comment"`
	Source   string  `parquet:"source"`
	LastSeen int64   `parquet:"last_seen"` // unix seconds
	DXGrid   string  `parquet:"dx_grid"`
}

// csvHeader follows Row field order.
var csvHeader = []string{"dx_call", "spotter", "freq_mhz", "band", "mode", "time", "comment", "source", "last_seen", "dx_grid"}

// RowFor flattens s.
func RowFor(s spot.Spot) Row {
	var seen int64
	if !s.LastSeen.IsZero() {
		seen = s.LastSeen.Unix()
	}
	return Row{
		DXCall:   s.DXCall,
		Spotter:  s.Spotter,
		FreqMHz:  s.FreqMHz,
		Band:     s.Band(),
		Mode:     s.Mode(),
		Time:     s.Time,
		Comment:  s.Comment,
		Source:   s.Source,
		LastSeen: seen,
		DXGrid:   s.DXGrid,
	}
}

func rowsFor(spots []spot.Spot) []Row {
	rows := make([]Row, len(spots))
	for i, s := range spots {
		rows[i] = RowFor(s)
	}
	return rows
}

// WriteParquet writes spots as a single Parquet file to w.
func WriteParquet(w io.Writer, spots []spot.Spot) error {
	pw := parquet.NewGenericWriter[Row](w)
	if _, err := pw.Write(rowsFor(spots)); err != nil {
		return fmt.Errorf("parquet write: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

// ReadParquet reads every row of a Parquet export.
func ReadParquet(r io.ReaderAt, size int64) ([]Row, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("parquet open: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	out := make([]Row, 0, reader.NumRows())
	buf := make([]Row, 256)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parquet read: %w", err)
		}
		if n == 0 {
			return out, nil
		}
	}
}

// WriteCSVGz writes spots as gzip-compressed CSV with a header row.
func WriteCSVGz(w io.Writer, spots []spot.Spot) error {
	gz, err := pgzip.NewWriterLevel(w, pgzip.DefaultCompression)
	if err != nil {
		return err
	}
	if err := gz.SetConcurrency(256*1024, runtime.NumCPU()); err != nil {
		return err
	}

	cw := csv.NewWriter(gz)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rowsFor(spots) {
		if err := cw.Write([]string{
			r.DXCall,
			r.Spotter,
			strconv.FormatFloat(r.FreqMHz, 'f', 3, 64),
			r.Band,
			r.Mode,
			r.Time,
			r.Comment,
			r.Source,
			strconv.FormatInt(r.LastSeen, 10),
			r.DXGrid,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	return gz.Close()
}

// ExportName is the default file name stem for an export taken at t.
func ExportName(t time.Time) string {
	return "dx-spots-" + t.UTC().Format("20060102-150405")
}
