package solar

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultHistoryTable is the table the solar ingest tools populate.
const DefaultHistoryTable = "solar.indices_raw"

// HistoryConfig locates the ClickHouse solar history.
type HistoryConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

type rowQuerier interface {
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
}

// HistoryFeed reads the most recent non-zero value of each index from the
// solar history table. Ingest runs write flux, SSN and Kp in separate rows,
// so each column is resolved on its own.
type HistoryFeed struct {
	conn  rowQuerier
	close func() error
	table string
}

// OpenHistory connects to ClickHouse and verifies the connection.
func OpenHistory(ctx context.Context, cfg HistoryConfig) (*HistoryFeed, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 10,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return newHistoryFeed(conn, conn.Close, cfg.Table), nil
}

func newHistoryFeed(conn rowQuerier, closeFn func() error, table string) *HistoryFeed {
	if table == "" {
		table = DefaultHistoryTable
	}
	return &HistoryFeed{conn: conn, close: closeFn, table: table}
}

// Name identifies the feed in Sources.
func (h *HistoryFeed) Name() string { return "clickhouse" }

// Fetch reads the latest stored indices.
func (h *HistoryFeed) Fetch(ctx context.Context) (Partial, error) {
	query := fmt.Sprintf(`SELECT
	argMaxIf(observed_flux, time, observed_flux > 0) AS sfi,
	argMaxIf(ssn, time, ssn > 0) AS ssn,
	argMaxIf(kp_index, time, kp_index > 0) AS kp_index,
	max(time) AS observed
FROM %s`, h.table)

	var idx Index
	if err := h.conn.QueryRow(ctx, query).ScanStruct(&idx); err != nil {
		return Partial{}, fmt.Errorf("query %s: %w", h.table, err)
	}

	return Partial{
		SFI:       float64(idx.SFI),
		SSN:       float64(idx.SSN),
		KIndex:    float64(idx.KpIndex),
		HasSFI:    idx.SFI > 0,
		HasSSN:    idx.SSN > 0,
		HasKIndex: idx.KpIndex > 0,
	}, nil
}

// Close releases the connection.
func (h *HistoryFeed) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}
