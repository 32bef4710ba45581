package linewatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/model"
	"linewatch.dev/linewatch/storage"
)

// Discovery throttles itself independently of the quota budget; the
// provider is touchy about bursts regardless of how much quota is
// left.
const (
	DefaultDiscoveryBatchSize   = 5
	DefaultDiscoveryConcurrency = 2
	DefaultDiscoveryWindowDelay = 2 * time.Second
	DefaultDiscoveryBatchDelay  = 3 * time.Second
)

// StopLister is the slice of the transit client discovery needs.
type StopLister interface {
	NearbyStops(ctx context.Context, lat, lon float64, radiusMeters, maxResults int) ([]model.Stop, error)
}

// Result aggregates a discovery run. Per-stop failures are counted,
// not raised.
type Result struct {
	Discovered int
	Failed     int
}

// Discovery walks the provider's nearby-stops listing and works out
// which stops the target line serves. Confirmed stops end up in
// storage together with their first departure records.
type Discovery struct {
	Lister   StopLister
	Ingestor *Ingestor
	Storage  storage.Storage
	Quota    *hafas.Quota

	OriginLat  float64
	OriginLon  float64
	RadiusM    int
	MaxResults int

	BatchSize   int
	Concurrency int
	WindowDelay time.Duration
	BatchDelay  time.Duration

	// OnConfirmed, if set, is called for each stop confirmed to
	// serve the line. The poll scheduler hooks in here.
	OnConfirmed func(stopID string)

	// Now is overridable for tests.
	Now func() time.Time
}

func NewDiscovery(lister StopLister, ing *Ingestor, store storage.Storage, quota *hafas.Quota) *Discovery {
	return &Discovery{
		Lister:      lister,
		Ingestor:    ing,
		Storage:     store,
		Quota:       quota,
		BatchSize:   DefaultDiscoveryBatchSize,
		Concurrency: DefaultDiscoveryConcurrency,
		WindowDelay: DefaultDiscoveryWindowDelay,
		BatchDelay:  DefaultDiscoveryBatchDelay,
	}
}

// Run performs one full discovery pass. Only the initial listing
// call failing (or cancellation) aborts the run; individual stop
// checks fail soft and are tallied in the result.
func (d *Discovery) Run(ctx context.Context) (Result, error) {
	stops, err := d.Lister.NearbyStops(ctx, d.OriginLat, d.OriginLon, d.RadiusM, d.MaxResults)
	if err != nil {
		return Result{}, fmt.Errorf("listing nearby stops: %w", err)
	}
	log.Printf("[discovery] checking %d candidate stops for line %s", len(stops), d.Ingestor.Line)

	var res Result
	var mu sync.Mutex

	for start := 0; start < len(stops); start += d.BatchSize {
		// The shared counter resets on credential rotation, so
		// this only trips when rotation can't help (single
		// credential). Waiting out the hour matches what the
		// provider will do anyway.
		if d.Quota.Exhausted() {
			reset := hafas.NextReset(d.now())
			log.Printf("[discovery] hourly quota reached, pausing until %s", reset.Format(time.RFC3339))
			if err := sleepUntil(ctx, d.now(), reset); err != nil {
				return res, err
			}
			d.Quota.Reset()
		}

		batch := stops[start:min(start+d.BatchSize, len(stops))]

		for wstart := 0; wstart < len(batch); wstart += d.Concurrency {
			window := batch[wstart:min(wstart+d.Concurrency, len(batch))]

			var g errgroup.Group
			for _, stop := range window {
				stop := stop
				g.Go(func() error {
					confirmed, err := d.checkStop(ctx, stop)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						log.Printf("[discovery] stop %s (%s): %v", stop.ID, stop.Name, err)
						res.Failed++
						return nil
					}
					if confirmed {
						res.Discovered++
						if d.OnConfirmed != nil {
							d.OnConfirmed(stop.ID)
						}
					}
					return nil
				})
			}
			_ = g.Wait()

			if len(window) == d.Concurrency {
				if err := sleep(ctx, d.WindowDelay); err != nil {
					return res, err
				}
			}
		}

		if err := sleep(ctx, d.BatchDelay); err != nil {
			return res, err
		}
	}

	log.Printf("[discovery] done: %d stops serve line %s, %d failed",
		res.Discovered, d.Ingestor.Line, res.Failed)
	return res, nil
}

// checkStop records the stop's metadata and probes its departure
// board for the target line. Reports whether the stop is confirmed
// to serve the line.
func (d *Discovery) checkStop(ctx context.Context, stop model.Stop) (bool, error) {
	if err := d.Storage.UpsertStop(stop); err != nil {
		return false, fmt.Errorf("storing stop: %w", err)
	}

	departures, err := d.Ingestor.Fetch(ctx, stop.ID, "")
	if err != nil {
		return false, err
	}
	if len(departures) == 0 {
		return false, nil
	}

	if err := d.Storage.WriteDepartures(departures); err != nil {
		return false, fmt.Errorf("storing departures: %w", err)
	}
	return true, nil
}

func (d *Discovery) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func sleepUntil(ctx context.Context, now, until time.Time) error {
	return sleep(ctx, until.Sub(now))
}
