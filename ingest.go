// Package linewatch monitors a single bus line: it discovers the
// stops the line serves, polls their departure boards on an adaptive
// schedule, and records the observed delays.
package linewatch

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/model"
	"linewatch.dev/linewatch/storage"
)

// BoardFetcher is the slice of the transit client the ingestor needs.
type BoardFetcher interface {
	DepartureBoard(ctx context.Context, stopID, line string) (*hafas.Board, error)
}

// Ingestor fetches a stop's departure board and normalizes it into
// canonical departure records.
type Ingestor struct {
	Client  BoardFetcher
	Storage storage.Storage
	Line    string

	// Location interprets the provider's local timestamps.
	// Defaults to time.Local.
	Location *time.Location

	// Now is overridable for tests.
	Now func() time.Time
}

func NewIngestor(client BoardFetcher, store storage.Storage, line string) *Ingestor {
	return &Ingestor{
		Client:  client,
		Storage: store,
		Line:    line,
	}
}

// Fetch retrieves and normalizes the departure board for a stop.
// When line is blank the board is fetched unscoped and filtered down
// to the ingestor's target line. Entries that cannot be normalized
// are dropped individually; they never fail the whole board.
func (ing *Ingestor) Fetch(ctx context.Context, stopID, line string) ([]model.Departure, error) {
	filter := line
	if filter == "" {
		filter = ing.Line
	}

	board, err := ing.Client.DepartureBoard(ctx, stopID, line)
	if err != nil {
		return nil, err
	}

	now := ing.now()
	departures := []model.Departure{}
	for i := range board.Departures {
		raw := &board.Departures[i]
		if raw.Line() != filter {
			continue
		}
		d, err := ing.normalize(raw, stopID, now)
		if err != nil {
			continue
		}
		departures = append(departures, d)
	}
	return departures, nil
}

// FetchAndStore persists everything Fetch returns. Returns the
// number of records written.
func (ing *Ingestor) FetchAndStore(ctx context.Context, stopID, line string) (int, error) {
	departures, err := ing.Fetch(ctx, stopID, line)
	if err != nil {
		return 0, err
	}
	if err := ing.Storage.WriteDepartures(departures); err != nil {
		return 0, errors.Wrap(err, "storing departures")
	}
	return len(departures), nil
}

func (ing *Ingestor) normalize(raw *hafas.RawDeparture, stopID string, now time.Time) (model.Departure, error) {
	scheduled, err := ing.parseTime(raw.Date, raw.Time)
	if err != nil {
		return model.Departure{}, errors.Wrapf(err, "departure at stop %s", stopID)
	}

	// No realtime data is recorded as delay 0 with the scheduled
	// time standing in for the actual one. This conflates "on
	// time" with "unknown"; the stored history inherits that bias.
	actual := scheduled
	delay := 0
	if raw.RtDate != "" && raw.RtTime != "" {
		actual, err = ing.parseTime(raw.RtDate, raw.RtTime)
		if err != nil {
			return model.Departure{}, errors.Wrapf(err, "realtime departure at stop %s", stopID)
		}
		delay = int(math.Round(actual.Sub(scheduled).Minutes()))
	}

	d := model.Departure{
		StopID:        stopID,
		Scheduled:     scheduled,
		Actual:        actual,
		DelayMinutes:  delay,
		Operator:      "Unknown",
		JourneyRef:    raw.JourneyRef(),
		JourneyStatus: raw.JourneyStatus,
		Direction:     raw.Direction,
		DirectionFlag: raw.DirectionFlag,
		Reachable:     raw.Reachable,
		CreatedAt:     now,
	}
	if d.JourneyStatus == "" {
		d.JourneyStatus = "Unknown"
	}

	if p := raw.Product(); p != nil {
		d.Line = p.Line
		d.DisplayNumber = p.DisplayNumber
		d.InternalName = p.InternalName
		d.CatCode = p.CatCode
		d.CatOut = p.CatOut
		d.CatIn = p.CatIn
		if op := p.OperatorInfo; op != nil {
			if op.Name != "" {
				d.Operator = op.Name
			}
			d.OperatorShort = op.NameShort
		}
		if ic := p.Icon; ic != nil {
			if ic.ForegroundColor != nil {
				d.IconFg = ic.ForegroundColor.Hex
			}
			if ic.BackgroundColor != nil {
				d.IconBg = ic.BackgroundColor.Hex
			}
		}
	}

	return d, nil
}

func (ing *Ingestor) parseTime(date, clock string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, ing.location())
}

func (ing *Ingestor) location() *time.Location {
	if ing.Location != nil {
		return ing.Location
	}
	return time.Local
}

func (ing *Ingestor) now() time.Time {
	if ing.Now != nil {
		return ing.Now()
	}
	return time.Now()
}
