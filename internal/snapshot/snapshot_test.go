package snapshot

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixtureSpots(t *testing.T) []spot.Spot {
	t.Helper()
	a, ok := spot.New("K1ABC", "JA1XYZ", 14.074, "FT8 -10dB", "12:00z", "hamqth")
	require.True(t, ok)
	a.LastSeen = epoch
	a.DXLoc = &geo.LatLon{Lat: 35.7, Lon: 139.7}
	a.DXGrid = "PM95"

	b, ok := spot.New("DL1ABC", "VK2DEF", 7.010, "CW 22 wpm", "11:58z", "dxsummit")
	require.True(t, ok)
	b.LastSeen = epoch.Add(-2 * time.Minute)
	return []spot.Spot{a, b}
}

func TestSaveAndLoad(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "spots.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	in := fixtureSpots(t)
	require.NoError(t, db.Save(ctx, 42, in))

	out, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, in[0].Key(), out[0].Key())
	assert.Equal(t, epoch, out[0].LastSeen)
	require.NotNil(t, out[0].DXLoc)
	assert.InDelta(t, 139.7, out[0].DXLoc.Lon, 1e-9)
	assert.Nil(t, out[0].SpotterLoc)
	assert.Equal(t, "PM95", out[0].DXGrid)
	assert.Equal(t, "VK2DEF", out[1].DXCall)

	seq, err := db.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "spots.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	in := fixtureSpots(t)
	require.NoError(t, db.Save(ctx, 1, in))
	require.NoError(t, db.Publish(ctx, aggregator.Update{Seq: 2, Spots: in[:1]}))

	out, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestEmptyDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "spots.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	out, err := db.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)

	seq, err := db.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestParquetExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, fixtureSpots(t)))

	rows, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "JA1XYZ", rows[0].DXCall)
	assert.Equal(t, "20m", rows[0].Band)
	assert.Equal(t, "FT8", rows[0].Mode)
	assert.Equal(t, epoch.Unix(), rows[0].LastSeen)
	assert.Equal(t, "40m", rows[1].Band)
	assert.Equal(t, "CW", rows[1].Mode)
}

func TestCSVGzExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSVGz(&buf, fixtureSpots(t)))

	gz, err := pgzip.NewReader(&buf)
	require.NoError(t, err)
	defer gz.Close()

	records, err := csv.NewReader(gz).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"JA1XYZ", "K1ABC", "14.074", "20m", "FT8", "12:00z", "FT8 -10dB", "hamqth", "1714564800", "PM95"}, records[1])
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "dx-spots-20240501-120000", ExportName(epoch))
}
