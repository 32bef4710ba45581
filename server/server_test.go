package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch.dev/linewatch"
	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/model"
	"linewatch.dev/linewatch/server"
	"linewatch.dev/linewatch/storage"
)

func seededStorage(t *testing.T) storage.Storage {
	s := storage.NewMemoryStorage()
	require.NoError(t, s.UpsertStop(model.Stop{ID: "s1", Name: "Hamilius", Lat: 49.61, Lon: 6.13}))
	require.NoError(t, s.UpsertStop(model.Stop{ID: "s2", Name: "Gare", Lat: 49.60, Lon: 6.13}))

	scheduled := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.WriteDepartures([]model.Departure{
		{StopID: "s1", Line: "703", Scheduled: scheduled, Actual: scheduled.Add(3 * time.Minute), DelayMinutes: 3, CreatedAt: scheduled},
		{StopID: "s2", Line: "703", Scheduled: scheduled.Add(5 * time.Minute), Actual: scheduled.Add(5 * time.Minute), CreatedAt: scheduled},
	}))
	return s
}

func serveRequest(t *testing.T, h *server.Handler, target string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) server.Response {
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp server.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleStops(t *testing.T) {
	h := server.NewHandler(seededStorage(t), "703")

	w := serveRequest(t, h, "/api/stops")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "703", resp.Line)

	stops, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, stops, 2)
	first := stops[0].(map[string]interface{})
	assert.Equal(t, "Gare", first["name"])
}

type boardForAll struct {
	stops []model.Stop
}

func (f *boardForAll) NearbyStops(ctx context.Context, lat, lon float64, radiusMeters, maxResults int) ([]model.Stop, error) {
	return f.stops, nil
}

func (f *boardForAll) DepartureBoard(ctx context.Context, stopID, line string) (*hafas.Board, error) {
	return &hafas.Board{Departures: []hafas.RawDeparture{
		{
			Date: "2025-03-14", Time: "09:30:00",
			Products: []hafas.Product{{Line: "703"}},
		},
	}}, nil
}

func TestHandleStopsForceRefresh(t *testing.T) {
	store := storage.NewMemoryStorage()
	fake := &boardForAll{stops: []model.Stop{
		{ID: "s1", Name: "Hamilius", Lat: 49.61, Lon: 6.13},
	}}

	ing := linewatch.NewIngestor(fake, store, "703")
	ing.Location = time.UTC
	d := linewatch.NewDiscovery(fake, ing, store, hafas.NewQuota("a", "b"))
	d.WindowDelay = 0
	d.BatchDelay = 0

	h := server.NewHandler(store, "703")
	h.Discovery = d

	w := serveRequest(t, h, "/api/stops?force_refresh=true")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, 1, resp.Count)

	// Discovery only runs against an empty stop table.
	count, err := store.CountDepartures()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	w = serveRequest(t, h, "/api/stops?force_refresh=true")
	require.Equal(t, http.StatusOK, w.Code)
	count, err = store.CountDepartures()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandleDepartures(t *testing.T) {
	h := server.NewHandler(seededStorage(t), "703")

	w := serveRequest(t, h, "/api/departures")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode(t, w).Count)

	w = serveRequest(t, h, "/api/departures?stop_id=s1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode(t, w).Count)

	w = serveRequest(t, h, "/api/departures?start=2025-03-14T10:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode(t, w).Count)

	w = serveRequest(t, h, "/api/departures?start=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStatistics(t *testing.T) {
	h := server.NewHandler(seededStorage(t), "703")

	w := serveRequest(t, h, "/api/statistics")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	lines, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 1)
	line := lines[0].(map[string]interface{})
	assert.Equal(t, "703", line["line_name"])
	assert.InDelta(t, 1.5, line["avg_delay"].(float64), 0.0001)
}

func TestHandleStopStatistics(t *testing.T) {
	h := server.NewHandler(seededStorage(t), "703")

	w := serveRequest(t, h, "/api/stops/statistics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode(t, w).Count)
}

func TestHandleRouteAnalysis(t *testing.T) {
	h := server.NewHandler(seededStorage(t), "703")

	w := serveRequest(t, h, "/api/route/analysis")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "703", resp.Line)

	byDirection, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	legs, ok := byDirection["unknown"].([]interface{})
	require.True(t, ok)
	assert.Len(t, legs, 2)
}

func TestHandleRouteAnalysisEmpty(t *testing.T) {
	h := server.NewHandler(storage.NewMemoryStorage(), "703")

	w := serveRequest(t, h, "/api/route/analysis?line=999")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	byDirection, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, byDirection)
}

func TestMetricsRoute(t *testing.T) {
	h := server.NewHandler(storage.NewMemoryStorage(), "703")
	h.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := serveRequest(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)

	h2 := server.NewHandler(storage.NewMemoryStorage(), "703")
	w = serveRequest(t, h2, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
