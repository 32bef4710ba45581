package linewatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/storage"
)

type fakeBoard struct {
	board *hafas.Board
	err   error

	lastStopID string
	lastLine   string
}

func (f *fakeBoard) DepartureBoard(ctx context.Context, stopID, line string) (*hafas.Board, error) {
	f.lastStopID = stopID
	f.lastLine = line
	return f.board, f.err
}

func boardFromJSON(t *testing.T, raw string) *hafas.Board {
	var board hafas.Board
	require.NoError(t, json.Unmarshal([]byte(raw), &board))
	return &board
}

func testIngestor(t *testing.T, raw string) (*Ingestor, *fakeBoard, storage.Storage) {
	fake := &fakeBoard{board: boardFromJSON(t, raw)}
	store := storage.NewMemoryStorage()
	ing := NewIngestor(fake, store, "703")
	ing.Location = time.UTC
	ing.Now = func() time.Time { return time.Date(2025, 3, 14, 9, 35, 0, 0, time.UTC) }
	return ing, fake, store
}

func TestIngestorDelayFromRealtime(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "09:30:00",
				"rtDate": "2025-03-14", "rtTime": "09:37:30",
				"direction": "Gare Centrale",
				"Product": [{"line": "703", "operatorInfo": {"name": "AVL"}}]
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)

	d := departures[0]
	// 7m30s rounds to 8.
	assert.Equal(t, 8, d.DelayMinutes)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), d.Scheduled)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 37, 30, 0, time.UTC), d.Actual)
	assert.Equal(t, "703", d.Line)
	assert.Equal(t, "AVL", d.Operator)
	assert.Equal(t, "s1", d.StopID)
}

func TestIngestorNoRealtimeMeansZeroDelay(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "09:30:00",
				"Product": [{"line": "703"}]
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)

	d := departures[0]
	assert.Equal(t, 0, d.DelayMinutes)
	assert.Equal(t, d.Scheduled, d.Actual)
}

func TestIngestorPartialRealtimeIgnored(t *testing.T) {
	// rtDate without rtTime does not count as realtime data.
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "09:30:00",
				"rtDate": "2025-03-14",
				"Product": [{"line": "703"}]
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)
	assert.Equal(t, 0, departures[0].DelayMinutes)
}

func TestIngestorEarlyDepartureNegativeDelay(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "09:30:00",
				"rtDate": "2025-03-14", "rtTime": "09:28:00",
				"Product": [{"line": "703"}]
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)
	assert.Equal(t, -2, departures[0].DelayMinutes)
}

func TestIngestorMidnightRollover(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "23:58:00",
				"rtDate": "2025-03-15", "rtTime": "00:03:00",
				"Product": [{"line": "703"}]
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)
	assert.Equal(t, 5, departures[0].DelayMinutes)
}

func TestIngestorFiltersOtherLines(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{"date": "2025-03-14", "time": "09:30:00", "Product": [{"line": "703"}]},
			{"date": "2025-03-14", "time": "09:31:00", "Product": [{"line": "16"}]},
			{"date": "2025-03-14", "time": "09:32:00", "Product": [{"line": "703"}]},
			{"date": "2025-03-14", "time": "09:33:00"}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "")
	require.NoError(t, err)
	require.Len(t, departures, 2)
	for _, d := range departures {
		assert.Equal(t, "703", d.Line)
	}
}

func TestIngestorDropsUnparseableEntries(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{"date": "garbage", "time": "garbage", "Product": [{"line": "703"}]},
			{"date": "2025-03-14", "time": "09:32:00", "Product": [{"line": "703"}]}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 32, 0, 0, time.UTC), departures[0].Scheduled)
}

func TestIngestorMissingNestedFields(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "09:30:00",
				"ProductAtStop": {"line": "703"}
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)

	d := departures[0]
	assert.Equal(t, "Unknown", d.Operator)
	assert.Equal(t, "Unknown", d.JourneyStatus)
	assert.Empty(t, d.IconFg)
	assert.Empty(t, d.JourneyRef)
}

func TestIngestorProductAtStopPreferred(t *testing.T) {
	ing, _, _ := testIngestor(t, `{
		"Departure": [
			{
				"date": "2025-03-14", "time": "09:30:00",
				"ProductAtStop": {"line": "703", "displayNumber": "703A"},
				"Product": [{"line": "703", "displayNumber": "703B"}]
			}
		]
	}`)

	departures, err := ing.Fetch(context.Background(), "s1", "703")
	require.NoError(t, err)
	require.Len(t, departures, 1)
	assert.Equal(t, "703A", departures[0].DisplayNumber)
}

func TestIngestorScopesUnfilteredFetchToOwnLine(t *testing.T) {
	ing, fake, _ := testIngestor(t, `{"Departure": []}`)

	_, err := ing.Fetch(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "", fake.lastLine)

	_, err = ing.Fetch(context.Background(), "s1", "16")
	require.NoError(t, err)
	assert.Equal(t, "16", fake.lastLine)
}

func TestIngestorFetchAndStore(t *testing.T) {
	ing, _, store := testIngestor(t, `{
		"Departure": [
			{"date": "2025-03-14", "time": "09:30:00", "Product": [{"line": "703"}]},
			{"date": "2025-03-14", "time": "09:45:00", "Product": [{"line": "703"}]}
		]
	}`)

	n, err := ing.FetchAndStore(context.Background(), "s1", "703")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := store.CountDepartures()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
