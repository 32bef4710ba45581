package storage

import (
	"errors"
	"math"
	"time"

	"linewatch.dev/linewatch/model"
)

// ErrInvalidStop is returned when a stop is missing its identity.
// There is no point retrying these writes.
var ErrInvalidStop = errors.New("stop id and name are required")

type Storage interface {
	// Creates or refreshes a stop record. Upserts by ID: name and
	// coordinates are replaced, no duplicate rows are ever
	// created. Stops are never deleted.
	UpsertStop(stop model.Stop) error

	// All known stops, ordered by name.
	ListStops() ([]model.Stop, error)

	CountStops() (int, error)
	CountDepartures() (int, error)

	// IDs of stops with at least one recorded departure for the
	// given line. Seeds the poll scheduler's registry.
	StopIDsServingLine(line string) ([]string, error)

	// Appends departure records. Records are immutable once
	// stored; every observation is its own row.
	WriteDepartures(departures []model.Departure) error

	// Departure records matching the filter, most recently
	// scheduled first.
	ListDepartures(filter DepartureFilter) ([]model.Departure, error)

	// Delay distribution for a stop over records created at or
	// after since. Drives the adaptive poll interval.
	DelayStats(stopID string, since time.Time) (model.DelayStats, error)

	// Per-stop delay aggregates, worst average first.
	StopStatistics() ([]model.StopStatistics, error)

	// Per-line delay aggregates matching the filter.
	LineStatistics(filter DepartureFilter) ([]model.LineStatistics, error)

	// Per-direction stop sequences for a line, with delay
	// profiles. Sequence position is inferred from the earliest
	// scheduled departure seen at each stop.
	RouteAnalysis(line string) (map[string][]model.RouteLegStatistics, error)

	Close() error
}

// Filter for ListDepartures and LineStatistics. Zero times mean an
// unbounded window; the window applies to CreatedAt.
type DepartureFilter struct {
	StopID string
	Line   string
	Start  time.Time
	End    time.Time
}

func validateStop(stop model.Stop) error {
	if stop.ID == "" || stop.Name == "" {
		return ErrInvalidStop
	}
	return nil
}

// statsFromMoments converts count/sum/sum-of-squares into mean and
// sample standard deviation. Shared across backends so SQLite and
// Postgres report identical statistics.
func statsFromMoments(n int, sum, sumsq float64) model.DelayStats {
	if n == 0 {
		return model.DelayStats{}
	}
	mean := sum / float64(n)
	stats := model.DelayStats{Mean: mean, Samples: n}
	if n > 1 {
		variance := (sumsq - float64(n)*mean*mean) / float64(n-1)
		if variance > 0 {
			stats.StdDev = math.Sqrt(variance)
		}
	}
	return stats
}

// delayPercentage guards the division for empty groups.
func delayPercentage(delayed, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(delayed)/float64(total)*1000) / 10
}
