package storage

import (
	"sort"
	"sync"
	"time"

	"linewatch.dev/linewatch/model"
)

// In memory implementation of Storage. Used in tests and handy for
// running without a database. Guarded by a mutex since discovery
// workers write concurrently.

type MemoryStorage struct {
	mu         sync.RWMutex
	stops      map[string]model.Stop
	departures []model.Departure
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stops: map[string]model.Stop{},
	}
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) UpsertStop(stop model.Stop) error {
	if err := validateStop(stop); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops[stop.ID] = stop
	return nil
}

func (s *MemoryStorage) ListStops() ([]model.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stops := make([]model.Stop, 0, len(s.stops))
	for _, stop := range s.stops {
		stops = append(stops, stop)
	}
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].Name < stops[j].Name
	})
	return stops, nil
}

func (s *MemoryStorage) CountStops() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stops), nil
}

func (s *MemoryStorage) CountDepartures() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.departures), nil
}

func (s *MemoryStorage) StopIDsServingLine(line string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	for _, d := range s.departures {
		if d.Line != line {
			continue
		}
		if _, known := s.stops[d.StopID]; !known {
			continue
		}
		seen[d.StopID] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStorage) WriteDepartures(departures []model.Departure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departures = append(s.departures, departures...)
	return nil
}

func matchesFilter(d model.Departure, filter DepartureFilter) bool {
	if filter.StopID != "" && d.StopID != filter.StopID {
		return false
	}
	if filter.Line != "" && d.Line != filter.Line {
		return false
	}
	if !filter.Start.IsZero() && d.CreatedAt.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && d.CreatedAt.After(filter.End) {
		return false
	}
	return true
}

func (s *MemoryStorage) ListDepartures(filter DepartureFilter) ([]model.Departure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	departures := []model.Departure{}
	for _, d := range s.departures {
		if matchesFilter(d, filter) {
			departures = append(departures, d)
		}
	}
	sort.Slice(departures, func(i, j int) bool {
		return departures[i].Scheduled.After(departures[j].Scheduled)
	})
	return departures, nil
}

func (s *MemoryStorage) DelayStats(stopID string, since time.Time) (model.DelayStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	var sum, sumsq float64
	for _, d := range s.departures {
		if d.StopID != stopID || d.CreatedAt.Before(since) {
			continue
		}
		n++
		v := float64(d.DelayMinutes)
		sum += v
		sumsq += v * v
	}
	return statsFromMoments(n, sum, sumsq), nil
}

func (s *MemoryStorage) StopStatistics() ([]model.StopStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		sum     float64
		total   int
		delayed int
		byHour  map[int]int
	}
	aggs := map[string]*agg{}
	for _, d := range s.departures {
		if _, known := s.stops[d.StopID]; !known {
			continue
		}
		a := aggs[d.StopID]
		if a == nil {
			a = &agg{byHour: map[int]int{}}
			aggs[d.StopID] = a
		}
		a.sum += float64(d.DelayMinutes)
		a.total++
		if d.DelayMinutes > 1 {
			a.delayed++
			a.byHour[d.Scheduled.Hour()]++
		}
	}

	stats := []model.StopStatistics{}
	for id, a := range aggs {
		peakHour, peakCount := 0, 0
		for hour, count := range a.byHour {
			if count > peakCount || (count == peakCount && hour < peakHour) {
				peakHour, peakCount = hour, count
			}
		}
		stats = append(stats, model.StopStatistics{
			StopID:            id,
			StopName:          s.stops[id].Name,
			AvgDelay:          a.sum / float64(a.total),
			TotalDepartures:   a.total,
			DelayedDepartures: a.delayed,
			PeakDelayHour:     peakHour,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].AvgDelay != stats[j].AvgDelay {
			return stats[i].AvgDelay > stats[j].AvgDelay
		}
		return stats[i].StopID < stats[j].StopID
	})
	return stats, nil
}

func (s *MemoryStorage) LineStatistics(filter DepartureFilter) ([]model.LineStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		sum     float64
		total   int
		delayed int
	}
	aggs := map[string]*agg{}
	for _, d := range s.departures {
		if !matchesFilter(d, filter) {
			continue
		}
		a := aggs[d.Line]
		if a == nil {
			a = &agg{}
			aggs[d.Line] = a
		}
		a.sum += float64(d.DelayMinutes)
		a.total++
		if d.DelayMinutes > 0 {
			a.delayed++
		}
	}

	stats := []model.LineStatistics{}
	for line, a := range aggs {
		stats = append(stats, model.LineStatistics{
			Line:              line,
			AvgDelay:          a.sum / float64(a.total),
			TotalDepartures:   a.total,
			DelayedDepartures: a.delayed,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Line < stats[j].Line
	})
	return stats, nil
}

func (s *MemoryStorage) RouteAnalysis(line string) (map[string][]model.RouteLegStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type legKey struct {
		direction string
		stopID    string
	}
	type agg struct {
		first   time.Time
		sum     float64
		total   int
		delayed int
	}

	aggs := map[legKey]*agg{}
	for _, d := range s.departures {
		if d.Line != line {
			continue
		}
		if _, known := s.stops[d.StopID]; !known {
			continue
		}
		key := legKey{d.DirectionFlag, d.StopID}
		a := aggs[key]
		if a == nil {
			a = &agg{first: d.Scheduled}
			aggs[key] = a
		}
		if d.Scheduled.Before(a.first) {
			a.first = d.Scheduled
		}
		a.sum += float64(d.DelayMinutes)
		a.total++
		if d.DelayMinutes > 5 {
			a.delayed++
		}
	}

	type leg struct {
		key legKey
		agg *agg
	}
	byDirection := map[string][]leg{}
	for key, a := range aggs {
		direction := key.direction
		if direction == "" {
			direction = "unknown"
		}
		byDirection[direction] = append(byDirection[direction], leg{key, a})
	}

	analysis := map[string][]model.RouteLegStatistics{}
	for direction, legs := range byDirection {
		sort.Slice(legs, func(i, j int) bool {
			return legs[i].agg.first.Before(legs[j].agg.first)
		})
		for i, l := range legs {
			analysis[direction] = append(analysis[direction], model.RouteLegStatistics{
				Sequence:          i + 1,
				StopID:            l.key.stopID,
				StopName:          s.stops[l.key.stopID].Name,
				AvgDelay:          l.agg.sum / float64(l.agg.total),
				TotalDepartures:   l.agg.total,
				DelayedDepartures: l.agg.delayed,
				DelayPercentage:   delayPercentage(l.agg.delayed, l.agg.total),
			})
		}
	}
	return analysis, nil
}
