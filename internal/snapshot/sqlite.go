// Package snapshot persists the spot store between restarts and exports
// spots to Parquet and gzipped CSV.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

const schema = `
CREATE TABLE IF NOT EXISTS spots (
  dx_call      TEXT NOT NULL,
  freq         TEXT NOT NULL,
  spotter      TEXT NOT NULL,
  freq_mhz     REAL NOT NULL,
  comment      TEXT NOT NULL DEFAULT '',
  spot_time    TEXT NOT NULL DEFAULT '',
  source       TEXT NOT NULL,
  last_seen    INTEGER NOT NULL,
  spotter_lat  REAL,
  spotter_lon  REAL,
  dx_lat       REAL,
  dx_lon       REAL,
  spotter_grid TEXT NOT NULL DEFAULT '',
  dx_grid      TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (dx_call, freq, spotter)
);
CREATE TABLE IF NOT EXISTS meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`

// DB is the last-known-good spot snapshot.
type DB struct {
	sql *sql.DB
}

// Open opens or creates the snapshot database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Save replaces the snapshot with spots in one transaction.
func (d *DB) Save(ctx context.Context, seq uint64, spots []spot.Spot) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM spots`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO spots (dx_call, freq, spotter, freq_mhz, comment, spot_time, source, last_seen,
                   spotter_lat, spotter_lon, dx_lat, dx_lon, spotter_grid, dx_grid)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range spots {
		sLat, sLon := nullLoc(s.SpotterLoc)
		dLat, dLon := nullLoc(s.DXLoc)
		if _, err = stmt.ExecContext(ctx,
			s.DXCall, s.Freq, s.Spotter, s.FreqMHz, s.Comment, s.Time, s.Source, s.LastSeen.UnixNano(),
			sLat, sLon, dLat, dLon, s.SpotterGrid, s.DXGrid,
		); err != nil {
			return fmt.Errorf("save %s: %w", s.DXCall, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('seq', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatUint(seq, 10),
	); err != nil {
		return fmt.Errorf("save seq: %w", err)
	}
	return tx.Commit()
}

// Load returns the saved spots, newest first.
func (d *DB) Load(ctx context.Context) ([]spot.Spot, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT dx_call, freq, spotter, freq_mhz, comment, spot_time, source, last_seen,
       spotter_lat, spotter_lon, dx_lat, dx_lon, spotter_grid, dx_grid
FROM spots ORDER BY last_seen DESC, dx_call`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []spot.Spot
	for rows.Next() {
		var (
			s                      spot.Spot
			lastSeen               int64
			sLat, sLon, dLat, dLon sql.NullFloat64
		)
		if err := rows.Scan(&s.DXCall, &s.Freq, &s.Spotter, &s.FreqMHz, &s.Comment, &s.Time, &s.Source, &lastSeen,
			&sLat, &sLon, &dLat, &dLon, &s.SpotterGrid, &s.DXGrid); err != nil {
			return nil, err
		}
		s.LastSeen = time.Unix(0, lastSeen).UTC()
		s.SpotterLoc = loc(sLat, sLon)
		s.DXLoc = loc(dLat, dLon)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastSeq returns the poll sequence of the last Save, or 0.
func (d *DB) LastSeq(ctx context.Context) (uint64, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'seq'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad seq %q: %w", v, err)
	}
	return seq, nil
}

// Name implements aggregator.Sink.
func (d *DB) Name() string { return "snapshot" }

// Publish saves the store contents after every poll or purge.
func (d *DB) Publish(ctx context.Context, u aggregator.Update) error {
	return d.Save(ctx, u.Seq, u.Spots)
}

func nullLoc(p *geo.LatLon) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lon, Valid: true}
}

func loc(lat, lon sql.NullFloat64) *geo.LatLon {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.LatLon{Lat: lat.Float64, Lon: lon.Float64}
}
