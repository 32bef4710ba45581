package model

import (
	"time"
)

// Holds all external facing types shared between storage, ingestion
// and the HTTP facade.

// A transit stop as reported by the provider. IDs are assigned
// externally and stable. Coordinates may be absent in listings.
type Stop struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// A single observed departure event at a stop. Records are append
// only; one row per observation, never updated.
type Departure struct {
	StopID        string    `json:"stop_id"`
	Line          string    `json:"line_name"`
	DisplayNumber string    `json:"display_number,omitempty"`
	InternalName  string    `json:"internal_name,omitempty"`
	Scheduled     time.Time `json:"scheduled_time"`
	Actual        time.Time `json:"actual_time"`

	// Minutes between Actual and Scheduled, rounded. Zero when the
	// provider sent no realtime data, which conflates "on time"
	// with "unknown".
	DelayMinutes int `json:"delay_minutes"`

	Operator      string    `json:"operator"`
	OperatorShort string    `json:"operator_short,omitempty"`
	JourneyRef    string    `json:"journey_ref,omitempty"`
	JourneyStatus string    `json:"journey_status"`
	Direction     string    `json:"direction,omitempty"`
	DirectionFlag string    `json:"direction_flag,omitempty"`
	CatCode       string    `json:"category_code,omitempty"`
	CatOut        string    `json:"category_out,omitempty"`
	CatIn         string    `json:"category_in,omitempty"`
	IconFg        string    `json:"icon_fg_color,omitempty"`
	IconBg        string    `json:"icon_bg_color,omitempty"`
	Reachable     bool      `json:"reachable"`
	CreatedAt     time.Time `json:"created_at"`
}

// Delay distribution for one stop over a trailing window. Feeds the
// poll interval calculation.
type DelayStats struct {
	Mean    float64
	StdDev  float64
	Samples int
}

// Per-stop aggregate served by the facade.
type StopStatistics struct {
	StopID            string  `json:"id" csv:"stop_id"`
	StopName          string  `json:"stop_name" csv:"stop_name"`
	AvgDelay          float64 `json:"avg_delay" csv:"avg_delay"`
	TotalDepartures   int     `json:"total_departures" csv:"total_departures"`
	DelayedDepartures int     `json:"delayed_departures" csv:"delayed_departures"`
	PeakDelayHour     int     `json:"peak_delay_hour" csv:"peak_delay_hour"`
}

// Per-line aggregate served by the facade.
type LineStatistics struct {
	Line              string  `json:"line_name"`
	AvgDelay          float64 `json:"avg_delay"`
	TotalDepartures   int     `json:"total_departures"`
	DelayedDepartures int     `json:"delayed_departures"`
}

// One stop in a direction's inferred route sequence, with its delay
// profile. Sequence is ordered by earliest scheduled departure, which
// approximates the order the line visits its stops.
type RouteLegStatistics struct {
	Sequence          int     `json:"sequence"`
	StopID            string  `json:"stopId"`
	StopName          string  `json:"stopName"`
	AvgDelay          float64 `json:"avgDelay"`
	TotalDepartures   int     `json:"totalDepartures"`
	DelayedDepartures int     `json:"delayedDepartures"`
	DelayPercentage   float64 `json:"delayPercentage"`
}
