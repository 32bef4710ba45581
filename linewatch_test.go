package linewatch_test

// End to end: real client against a fake HAFAS server, through
// discovery and a poll tick, down to storage.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch.dev/linewatch"
	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/storage"
	"linewatch.dev/linewatch/testutil"
)

func TestDiscoverAndPoll(t *testing.T) {
	fake := testutil.NewFakeHafas(t)
	fake.StopList = testutil.StopListJSON(
		testutil.StopEntry{ID: "s1", Name: "Hamilius", Lat: 49.611, Lon: 6.129},
		testutil.StopEntry{ID: "s2", Name: "Gare", Lat: 49.600, Lon: 6.133},
		testutil.StopEntry{ID: "s3", Name: "Kirchberg", Lat: 49.630, Lon: 6.150},
	)
	fake.Boards["s1"] = testutil.BoardJSON(testutil.BoardEntry{
		Line: "703", Direction: "Gare Centrale",
		Date: "2025-03-14", Time: "09:30:00",
		RtDate: "2025-03-14", RtTime: "09:34:00",
	})
	// s2 serves another line, s3 serves nothing.
	fake.Boards["s2"] = testutil.BoardJSON(testutil.BoardEntry{
		Line: "16", Date: "2025-03-14", Time: "09:30:00",
	})

	quota := hafas.NewQuota("key-a", "key-b")
	client := hafas.NewClient(quota)
	client.BaseURL = fake.Server.URL
	client.RetryDelay = time.Millisecond

	store := testutil.BuildStorage(t, "sqlite")
	ing := linewatch.NewIngestor(client, store, "703")
	ing.Location = time.UTC

	d := linewatch.NewDiscovery(client, ing, store, quota)
	d.WindowDelay = 0
	d.BatchDelay = 0

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Discovered)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, fake.ListCalls)
	assert.Equal(t, 3, fake.BoardCalls)

	// One listing plus one board per candidate, all on one quota.
	assert.Equal(t, 4, quota.Requests())

	ids, err := store.StopIDsServingLine("703")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	// A poll tick fetches the confirmed stop again and records the
	// observed delay.
	p := linewatch.NewPoller(ing, store, quota, "703")
	p.Location = time.UTC

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	p.Stop()

	assert.Equal(t, []string{"s1"}, p.Monitored())

	departures, err := store.ListDepartures(storage.DepartureFilter{StopID: "s1"})
	require.NoError(t, err)
	require.Len(t, departures, 2)
	assert.Equal(t, 4, departures[0].DelayMinutes)
	assert.Equal(t, "Test Operator", departures[0].Operator)
}
