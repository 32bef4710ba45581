// Package server exposes the recorded delay data over HTTP.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"linewatch.dev/linewatch"
	"linewatch.dev/linewatch/model"
	"linewatch.dev/linewatch/storage"
)

// Handler handles HTTP requests.
type Handler struct {
	Storage storage.Storage
	Line    string

	// Discovery, if set, backs the force_refresh path of /api/stops.
	Discovery *linewatch.Discovery

	// Metrics, if set, is mounted at /metrics.
	Metrics http.Handler
}

func NewHandler(store storage.Storage, line string) *Handler {
	return &Handler{Storage: store, Line: line}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")
	r.HandleFunc("/api/stops", h.handleStops).Methods("GET")
	r.HandleFunc("/api/departures", h.handleDepartures).Methods("GET")
	r.HandleFunc("/api/statistics", h.handleStatistics).Methods("GET")
	r.HandleFunc("/api/stops/statistics", h.handleStopStatistics).Methods("GET")
	r.HandleFunc("/api/route/analysis", h.handleRouteAnalysis).Methods("GET")
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods("GET")
	}
	r.Use(loggingMiddleware)
}

// Response wraps API responses.
type Response struct {
	Data    interface{} `json:"data"`
	Count   int         `json:"count,omitempty"`
	Line    string      `json:"line,omitempty"`
	Updated string      `json:"updated,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{
		"title": "linewatch",
		"line":  h.Line,
	})
}

// handleStops lists the known stops. With force_refresh=true a
// discovery pass runs first when the table is empty, so a fresh
// deployment can bootstrap itself over HTTP.
func (h *Handler) handleStops(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("force_refresh") == "true" && h.Discovery != nil {
		count, err := h.Storage.CountStops()
		if err != nil {
			h.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if count == 0 {
			if _, err := h.Discovery.Run(r.Context()); err != nil {
				h.writeError(w, err.Error(), http.StatusBadGateway)
				return
			}
		}
	}

	stops, err := h.Storage.ListStops()
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: stops, Count: len(stops), Line: h.Line})
}

func (h *Handler) handleDepartures(w http.ResponseWriter, r *http.Request) {
	filter := storage.DepartureFilter{
		StopID: r.URL.Query().Get("stop_id"),
		Line:   r.URL.Query().Get("line"),
	}

	var err error
	filter.Start, err = parseTimeParam(r, "start")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.End, err = parseTimeParam(r, "end")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	departures, err := h.Storage.ListDepartures(filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: departures, Count: len(departures)})
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	filter := storage.DepartureFilter{Line: r.URL.Query().Get("line")}
	if filter.Line == "" {
		filter.Line = h.Line
	}

	stats, err := h.Storage.LineStatistics(filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: stats, Updated: time.Now().Format(time.RFC3339)})
}

func (h *Handler) handleStopStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Storage.StopStatistics()
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: stats, Count: len(stats)})
}

func (h *Handler) handleRouteAnalysis(w http.ResponseWriter, r *http.Request) {
	line := r.URL.Query().Get("line")
	if line == "" {
		line = h.Line
	}

	analysis, err := h.Storage.RouteAnalysis(line)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if analysis == nil {
		analysis = map[string][]model.RouteLegStatistics{}
	}
	h.writeJSON(w, Response{Data: analysis, Line: line})
}

func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/metrics" {
			// keep scrapes out of the log
			return
		}
		log.Printf("%s %s %s", r.Method, r.RequestURI, time.Since(start))
	})
}
