// Package archive writes every merged spot batch to ClickHouse over the
// native protocol, one columnar block per poll.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/sirupsen/logrus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// DefaultTable is the spot archive table inside the configured database.
const DefaultTable = "spots_raw"

// SpotBatch holds column data for native insert
type SpotBatch struct {
	Received *proto.ColDateTime
	Seq      *proto.ColUInt64
	Source   *proto.ColStr
	DXCall   *proto.ColStr
	Spotter  *proto.ColStr
	FreqMHz  *proto.ColFloat64
	Band     *proto.ColStr
	Mode     *proto.ColStr
	SpotTime *proto.ColStr
	Comment  *proto.ColStr
	DXGrid   *proto.ColStr
}

func NewSpotBatch() *SpotBatch {
	return &SpotBatch{
		Received: new(proto.ColDateTime),
		Seq:      new(proto.ColUInt64),
		Source:   new(proto.ColStr),
		DXCall:   new(proto.ColStr),
		Spotter:  new(proto.ColStr),
		FreqMHz:  new(proto.ColFloat64),
		Band:     new(proto.ColStr),
		Mode:     new(proto.ColStr),
		SpotTime: new(proto.ColStr),
		Comment:  new(proto.ColStr),
		DXGrid:   new(proto.ColStr),
	}
}

func (b *SpotBatch) Reset() {
	b.Received.Reset()
	b.Seq.Reset()
	b.Source.Reset()
	b.DXCall.Reset()
	b.Spotter.Reset()
	b.FreqMHz.Reset()
	b.Band.Reset()
	b.Mode.Reset()
	b.SpotTime.Reset()
	b.Comment.Reset()
	b.DXGrid.Reset()
}

func (b *SpotBatch) Len() int {
	return b.Received.Rows()
}

func (b *SpotBatch) Input() proto.Input {
	return proto.Input{
		{Name: "received", Data: b.Received},
		{Name: "seq", Data: b.Seq},
		{Name: "source", Data: b.Source},
		{Name: "dx_call", Data: b.DXCall},
		{Name: "spotter", Data: b.Spotter},
		{Name: "freq_mhz", Data: b.FreqMHz},
		{Name: "band", Data: b.Band},
		{Name: "mode", Data: b.Mode},
		{Name: "spot_time", Data: b.SpotTime},
		{Name: "comment", Data: b.Comment},
		{Name: "dx_grid", Data: b.DXGrid},
	}
}

// AddSpot appends one row.
func (b *SpotBatch) AddSpot(received time.Time, seq uint64, s spot.Spot) {
	b.Received.Append(received)
	b.Seq.Append(seq)
	b.Source.Append(s.Source)
	b.DXCall.Append(s.DXCall)
	b.Spotter.Append(s.Spotter)
	b.FreqMHz.Append(s.FreqMHz)
	b.Band.Append(s.Band())
	b.Mode.Append(s.Mode())
	b.SpotTime.Append(s.Time)
	b.Comment.Append(s.Comment)
	b.DXGrid.Append(s.DXGrid)
}

// createTableSQL is the archive schema; ReplacingMergeTree collapses the
// same observation re-sent across polls.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    received  DateTime,
    seq       UInt64,
    source    LowCardinality(String),
    dx_call   String,
    spotter   String,
    freq_mhz  Float64,
    band      LowCardinality(String),
    mode      LowCardinality(String),
    spot_time String,
    comment   String,
    dx_grid   String
) ENGINE = ReplacingMergeTree(received)
ORDER BY (dx_call, spotter, freq_mhz, spot_time)`

type doer interface {
	Do(ctx context.Context, q ch.Query) error
	Close() error
}

// Config locates the archive.
type Config struct {
	Addr     string
	Database string
	User     string
	Password string
	Table    string
}

// ClickHouseSink is an aggregator.Sink that archives each merged batch.
type ClickHouseSink struct {
	conn     doer
	tableFQN string
	log      logrus.FieldLogger
	batch    *SpotBatch
}

// Dial connects to ClickHouse and creates the archive table if needed.
func Dial(ctx context.Context, cfg Config, log logrus.FieldLogger) (*ClickHouseSink, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     cfg.Addr,
		Database:    cfg.Database,
		User:        cfg.User,
		Password:    cfg.Password,
		Compression: ch.CompressionLZ4,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse dial %s: %w", cfg.Addr, err)
	}

	s := newSink(conn, cfg, log)
	if err := s.EnsureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func newSink(conn doer, cfg Config, log logrus.FieldLogger) *ClickHouseSink {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	return &ClickHouseSink{
		conn:     conn,
		tableFQN: fmt.Sprintf("%s.%s", cfg.Database, table),
		log:      log,
		batch:    NewSpotBatch(),
	}
}

// EnsureTable creates the archive table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	if err := s.conn.Do(ctx, ch.Query{Body: fmt.Sprintf(createTableSQL, s.tableFQN)}); err != nil {
		return fmt.Errorf("create %s: %w", s.tableFQN, err)
	}
	return nil
}

// Name implements aggregator.Sink.
func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Publish inserts u.Batch. Filter-only updates carry no batch and are skipped.
func (s *ClickHouseSink) Publish(ctx context.Context, u aggregator.Update) error {
	if len(u.Batch) == 0 {
		return nil
	}

	s.batch.Reset()
	for _, sp := range u.Batch {
		s.batch.AddSpot(u.At, u.Seq, sp)
	}
	if err := flushBatch(ctx, s.conn, s.tableFQN, s.batch); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"seq":   u.Seq,
		"spots": s.batch.Len(),
		"table": s.tableFQN,
	}).Debug("archived batch")
	return nil
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

func flushBatch(ctx context.Context, conn doer, tableFQN string, batch *SpotBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (received, seq, source, dx_call, spotter, freq_mhz, band, mode, spot_time, comment, dx_grid) VALUES", tableFQN)
	if err := conn.Do(ctx, ch.Query{
		Body:  query,
		Input: batch.Input(),
	}); err != nil {
		return fmt.Errorf("insert %s: %w", tableFQN, err)
	}
	return nil
}
