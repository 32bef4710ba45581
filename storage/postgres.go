package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"linewatch.dev/linewatch/model"
)

type PSQLStorage struct {
	db *sql.DB
}

// Creates a new Postgres Storage using the provided connection
// string.
//
// If clearDB is true, the tables are dropped on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS departures;
DROP TABLE IF EXISTS stops;
`)
		if err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS stops (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    lat DOUBLE PRECISION,
    lon DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS departures (
    id SERIAL PRIMARY KEY,
    stop_id TEXT NOT NULL REFERENCES stops(id),
    line_name TEXT,
    display_number TEXT,
    internal_name TEXT,
    scheduled_time TIMESTAMPTZ,
    actual_time TIMESTAMPTZ,
    delay_minutes INTEGER,
    operator TEXT,
    operator_short TEXT,
    journey_ref TEXT,
    journey_status TEXT,
    direction TEXT,
    direction_flag TEXT,
    category_code TEXT,
    category_out TEXT,
    category_in TEXT,
    icon_fg_color TEXT,
    icon_bg_color TEXT,
    reachable BOOLEAN,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS departures_stop_created
    ON departures (stop_id, created_at);`)
	if err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PSQLStorage{db: db}, nil
}

func (s *PSQLStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) UpsertStop(stop model.Stop) error {
	if err := validateStop(stop); err != nil {
		return err
	}

	_, err := s.db.Exec(`
INSERT INTO stops (id, name, lat, lon)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    lat = excluded.lat,
    lon = excluded.lon`,
		stop.ID, stop.Name, stop.Lat, stop.Lon,
	)
	if err != nil {
		return fmt.Errorf("upserting stop %s: %w", stop.ID, err)
	}
	return nil
}

func (s *PSQLStorage) ListStops() ([]model.Stop, error) {
	rows, err := s.db.Query(`SELECT id, name, lat, lon FROM stops ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing stops: %w", err)
	}
	defer rows.Close()

	var stops []model.Stop
	for rows.Next() {
		var stop model.Stop
		if err := rows.Scan(&stop.ID, &stop.Name, &stop.Lat, &stop.Lon); err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, stop)
	}
	return stops, rows.Err()
}

func (s *PSQLStorage) CountStops() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM stops`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting stops: %w", err)
	}
	return count, nil
}

func (s *PSQLStorage) CountDepartures() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM departures`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting departures: %w", err)
	}
	return count, nil
}

func (s *PSQLStorage) StopIDsServingLine(line string) ([]string, error) {
	rows, err := s.db.Query(`
SELECT DISTINCT s.id
FROM stops s
INNER JOIN departures d ON s.id = d.stop_id
WHERE d.line_name = $1
ORDER BY s.id`, line)
	if err != nil {
		return nil, fmt.Errorf("listing stops serving line %s: %w", line, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stop id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PSQLStorage) WriteDepartures(departures []model.Departure) error {
	if len(departures) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO departures (
    stop_id, line_name, display_number, internal_name,
    scheduled_time, actual_time, delay_minutes,
    operator, operator_short, journey_ref, journey_status,
    direction, direction_flag,
    category_code, category_out, category_in,
    icon_fg_color, icon_bg_color, reachable, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range departures {
		_, err = stmt.Exec(
			d.StopID, d.Line, d.DisplayNumber, d.InternalName,
			d.Scheduled, d.Actual, d.DelayMinutes,
			d.Operator, d.OperatorShort, d.JourneyRef, d.JourneyStatus,
			d.Direction, d.DirectionFlag,
			d.CatCode, d.CatOut, d.CatIn,
			d.IconFg, d.IconBg, d.Reachable, d.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("writing departure for stop %s: %w", d.StopID, err)
		}
	}

	return tx.Commit()
}

func (s *PSQLStorage) ListDepartures(filter DepartureFilter) ([]model.Departure, error) {
	query := `
SELECT
    stop_id, line_name, display_number, internal_name,
    scheduled_time, actual_time, delay_minutes,
    operator, operator_short, journey_ref, journey_status,
    direction, direction_flag,
    category_code, category_out, category_in,
    icon_fg_color, icon_bg_color, reachable, created_at
FROM departures`

	conditions := []string{}
	params := []interface{}{}
	if filter.StopID != "" {
		params = append(params, filter.StopID)
		conditions = append(conditions, fmt.Sprintf("stop_id = $%d", len(params)))
	}
	if filter.Line != "" {
		params = append(params, filter.Line)
		conditions = append(conditions, fmt.Sprintf("line_name = $%d", len(params)))
	}
	if !filter.Start.IsZero() {
		params = append(params, filter.Start)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(params)))
	}
	if !filter.End.IsZero() {
		params = append(params, filter.End)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(params)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scheduled_time DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing departures: %w", err)
	}
	defer rows.Close()

	var departures []model.Departure
	for rows.Next() {
		var d model.Departure
		err := rows.Scan(
			&d.StopID, &d.Line, &d.DisplayNumber, &d.InternalName,
			&d.Scheduled, &d.Actual, &d.DelayMinutes,
			&d.Operator, &d.OperatorShort, &d.JourneyRef, &d.JourneyStatus,
			&d.Direction, &d.DirectionFlag,
			&d.CatCode, &d.CatOut, &d.CatIn,
			&d.IconFg, &d.IconBg, &d.Reachable, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning departure: %w", err)
		}
		departures = append(departures, d)
	}
	return departures, rows.Err()
}

func (s *PSQLStorage) DelayStats(stopID string, since time.Time) (model.DelayStats, error) {
	var n int
	var sum, sumsq sql.NullFloat64
	err := s.db.QueryRow(`
SELECT
    COUNT(*),
    SUM(delay_minutes),
    SUM(delay_minutes * delay_minutes)
FROM departures
WHERE stop_id = $1 AND created_at >= $2`, stopID, since).Scan(&n, &sum, &sumsq)
	if err != nil {
		return model.DelayStats{}, fmt.Errorf("querying delay stats for stop %s: %w", stopID, err)
	}
	return statsFromMoments(n, sum.Float64, sumsq.Float64), nil
}

func (s *PSQLStorage) StopStatistics() ([]model.StopStatistics, error) {
	rows, err := s.db.Query(`
SELECT
    s.id,
    s.name,
    AVG(d.delay_minutes),
    COUNT(*),
    SUM(CASE WHEN d.delay_minutes > 1 THEN 1 ELSE 0 END)
FROM stops s
JOIN departures d ON s.id = d.stop_id
GROUP BY s.id, s.name
ORDER BY 3 DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying stop statistics: %w", err)
	}
	defer rows.Close()

	var stats []model.StopStatistics
	for rows.Next() {
		var row model.StopStatistics
		err := rows.Scan(&row.StopID, &row.StopName, &row.AvgDelay,
			&row.TotalDepartures, &row.DelayedDepartures)
		if err != nil {
			return nil, fmt.Errorf("scanning stop statistics: %w", err)
		}
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	peaks, err := s.peakDelayHours()
	if err != nil {
		return nil, err
	}
	for i := range stats {
		stats[i].PeakDelayHour = peaks[stats[i].StopID]
	}
	return stats, nil
}

func (s *PSQLStorage) peakDelayHours() (map[string]int, error) {
	rows, err := s.db.Query(`
SELECT
    stop_id,
    EXTRACT(HOUR FROM scheduled_time)::int AS hr,
    COUNT(*) AS cnt
FROM departures
WHERE delay_minutes > 1
GROUP BY stop_id, hr
ORDER BY cnt DESC, hr ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying peak delay hours: %w", err)
	}
	defer rows.Close()

	peaks := map[string]int{}
	for rows.Next() {
		var stopID string
		var hour, count int
		if err := rows.Scan(&stopID, &hour, &count); err != nil {
			return nil, fmt.Errorf("scanning peak delay hour: %w", err)
		}
		if _, ok := peaks[stopID]; !ok {
			peaks[stopID] = hour
		}
	}
	return peaks, rows.Err()
}

func (s *PSQLStorage) LineStatistics(filter DepartureFilter) ([]model.LineStatistics, error) {
	query := `
SELECT
    line_name,
    AVG(delay_minutes),
    COUNT(*),
    SUM(CASE WHEN delay_minutes > 0 THEN 1 ELSE 0 END)
FROM departures`

	conditions := []string{}
	params := []interface{}{}
	if filter.StopID != "" {
		params = append(params, filter.StopID)
		conditions = append(conditions, fmt.Sprintf("stop_id = $%d", len(params)))
	}
	if filter.Line != "" {
		params = append(params, filter.Line)
		conditions = append(conditions, fmt.Sprintf("line_name = $%d", len(params)))
	}
	if !filter.Start.IsZero() {
		params = append(params, filter.Start)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(params)))
	}
	if !filter.End.IsZero() {
		params = append(params, filter.End)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(params)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " GROUP BY line_name ORDER BY line_name"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying line statistics: %w", err)
	}
	defer rows.Close()

	var stats []model.LineStatistics
	for rows.Next() {
		var row model.LineStatistics
		err := rows.Scan(&row.Line, &row.AvgDelay,
			&row.TotalDepartures, &row.DelayedDepartures)
		if err != nil {
			return nil, fmt.Errorf("scanning line statistics: %w", err)
		}
		stats = append(stats, row)
	}
	return stats, rows.Err()
}

func (s *PSQLStorage) RouteAnalysis(line string) (map[string][]model.RouteLegStatistics, error) {
	rows, err := s.db.Query(`
WITH first_times AS (
    SELECT stop_id, direction_flag, MIN(scheduled_time) AS first_time
    FROM departures
    WHERE line_name = $1
    GROUP BY stop_id, direction_flag
), seq AS (
    SELECT
        f.stop_id,
        s.name AS stop_name,
        f.direction_flag,
        ROW_NUMBER() OVER (
            PARTITION BY f.direction_flag ORDER BY f.first_time
        ) AS stop_seq
    FROM first_times f
    JOIN stops s ON f.stop_id = s.id
)
SELECT
    seq.direction_flag,
    seq.stop_seq,
    seq.stop_id,
    seq.stop_name,
    AVG(d.delay_minutes),
    COUNT(*),
    SUM(CASE WHEN d.delay_minutes > 5 THEN 1 ELSE 0 END)
FROM seq
JOIN departures d
    ON seq.stop_id = d.stop_id AND seq.direction_flag = d.direction_flag
WHERE d.line_name = $1
GROUP BY seq.direction_flag, seq.stop_seq, seq.stop_id, seq.stop_name
ORDER BY seq.direction_flag, seq.stop_seq`, line)
	if err != nil {
		return nil, fmt.Errorf("querying route analysis: %w", err)
	}
	defer rows.Close()

	analysis := map[string][]model.RouteLegStatistics{}
	for rows.Next() {
		var direction string
		var leg model.RouteLegStatistics
		err := rows.Scan(&direction, &leg.Sequence, &leg.StopID, &leg.StopName,
			&leg.AvgDelay, &leg.TotalDepartures, &leg.DelayedDepartures)
		if err != nil {
			return nil, fmt.Errorf("scanning route analysis: %w", err)
		}
		if direction == "" {
			direction = "unknown"
		}
		leg.DelayPercentage = delayPercentage(leg.DelayedDepartures, leg.TotalDepartures)
		analysis[direction] = append(analysis[direction], leg)
	}
	return analysis, rows.Err()
}
