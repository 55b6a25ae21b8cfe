package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

type fakeConn struct {
	queries []ch.Query
	rows    []int
	err     error
	closed  bool
}

func (f *fakeConn) Do(_ context.Context, q ch.Query) error {
	f.queries = append(f.queries, q)
	rows := 0
	if len(q.Input) > 0 {
		rows = q.Input[0].Data.Rows()
	}
	f.rows = append(f.rows, rows)
	return f.err
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func mkSpot(t *testing.T, dx string, freq float64) spot.Spot {
	t.Helper()
	s, ok := spot.New("K1ABC", dx, freq, "FT8 -12dB", "12:00z", "hamqth")
	require.True(t, ok)
	return s
}

func TestPublishInsertsBatch(t *testing.T) {
	log, _ := test.NewNullLogger()
	conn := &fakeConn{}
	sink := newSink(conn, Config{Database: "dx"}, log)

	err := sink.Publish(context.Background(), aggregator.Update{
		Seq:   7,
		At:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Batch: []spot.Spot{mkSpot(t, "JA1XYZ", 14.074), mkSpot(t, "DL1ABC", 7.074)},
	})
	require.NoError(t, err)

	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0].Body, "INSERT INTO dx.spots_raw")
	assert.Equal(t, 2, conn.rows[0])
	assert.Len(t, conn.queries[0].Input, 11)

	assert.Equal(t, "20m", sink.batch.Band.Row(0))
	assert.Equal(t, "FT8", sink.batch.Mode.Row(0))
	assert.Equal(t, uint64(7), sink.batch.Seq.Row(1))
}

func TestPublishSkipsFilterOnlyUpdates(t *testing.T) {
	log, _ := test.NewNullLogger()
	conn := &fakeConn{}
	sink := newSink(conn, Config{Database: "dx", Table: "archive"}, log)

	require.NoError(t, sink.Publish(context.Background(), aggregator.Update{Seq: 3}))
	assert.Empty(t, conn.queries)
}

func TestPublishResetsBetweenBatches(t *testing.T) {
	log, _ := test.NewNullLogger()
	conn := &fakeConn{}
	sink := newSink(conn, Config{Database: "dx"}, log)

	for seq := uint64(1); seq <= 2; seq++ {
		require.NoError(t, sink.Publish(context.Background(), aggregator.Update{
			Seq:   seq,
			Batch: []spot.Spot{mkSpot(t, "JA1XYZ", 14.074)},
		}))
	}
	assert.Equal(t, []int{1, 1}, conn.rows)
}

func TestPublishWrapsInsertError(t *testing.T) {
	log, _ := test.NewNullLogger()
	conn := &fakeConn{err: errors.New("connection reset")}
	sink := newSink(conn, Config{Database: "dx"}, log)

	err := sink.Publish(context.Background(), aggregator.Update{Batch: []spot.Spot{mkSpot(t, "JA1XYZ", 14.074)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert dx.spots_raw")
}

func TestEnsureTableAndClose(t *testing.T) {
	log, _ := test.NewNullLogger()
	conn := &fakeConn{}
	sink := newSink(conn, Config{Database: "dx"}, log)

	require.NoError(t, sink.EnsureTable(context.Background()))
	assert.Contains(t, conn.queries[0].Body, "CREATE TABLE IF NOT EXISTS dx.spots_raw")
	require.NoError(t, sink.Close())
	assert.True(t, conn.closed)
}
