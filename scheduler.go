package linewatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/model"
	"linewatch.dev/linewatch/storage"
)

const (
	// Poll interval bounds. The tick cadence equals the minimum.
	MinPollInterval = 5 * time.Minute
	MaxPollInterval = 30 * time.Minute

	// Trailing window and minimum sample count for the delay
	// statistics feeding the interval calculation.
	statsWindow = 24 * time.Hour
	minSamples  = 5
)

// PollerMetrics receives poll accounting from the scheduler.
type PollerMetrics interface {
	PollInc(outcome string)
	DeparturesStoredAdd(n int)
	QuotaPauseInc()
	TickObserve(seconds float64)
}

// pollState tracks one monitored stop. Owned by the scheduler; lost
// on restart and rebuilt from stored history.
type pollState struct {
	nextPoll time.Time
	interval time.Duration
}

// Poller is the adaptive poll scheduler. One goroutine ticks at the
// minimum interval and services every stop whose next poll is due,
// then recomputes that stop's interval from its trailing delay
// profile. Stops that poll clean and stable drift toward the maximum
// interval; volatile ones stay at the minimum.
type Poller struct {
	Ingestor *Ingestor
	Storage  storage.Storage
	Quota    *hafas.Quota
	Line     string

	MinInterval time.Duration
	MaxInterval time.Duration

	// Location decides which wall clock the peak-hour windows
	// apply to. Defaults to time.Local.
	Location *time.Location

	// Now is overridable for tests.
	Now func() time.Time

	Metrics PollerMetrics

	mu     sync.Mutex
	states map[string]*pollState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPoller(ing *Ingestor, store storage.Storage, quota *hafas.Quota, line string) *Poller {
	return &Poller{
		Ingestor:    ing,
		Storage:     store,
		Quota:       quota,
		Line:        line,
		MinInterval: MinPollInterval,
		MaxInterval: MaxPollInterval,
		states:      map[string]*pollState{},
	}
}

// Start seeds the registry from stops known to serve the line and
// launches the tick loop.
func (p *Poller) Start(ctx context.Context) error {
	ids, err := p.Storage.StopIDsServingLine(p.Line)
	if err != nil {
		return fmt.Errorf("seeding poll registry: %w", err)
	}
	for _, id := range ids {
		p.Register(id)
	}
	log.Printf("[poll] monitoring %d stops on line %s", len(ids), p.Line)

	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Register adds a stop to the registry. New stops start at the
// maximum interval but are due immediately, so the first board
// arrives on the next tick. Registering a known stop is a no-op.
func (p *Poller) Register(stopID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[stopID]; ok {
		return
	}
	p.states[stopID] = &pollState{
		nextPoll: p.now(),
		interval: p.MaxInterval,
	}
}

// Monitored returns the registered stop IDs, sorted.
func (p *Poller) Monitored() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.Tick(ctx)

	ticker := time.NewTicker(p.MinInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick services every due stop once. Exported so the serve command
// and tests can drive the scheduler without the timer.
func (p *Poller) Tick(ctx context.Context) {
	started := time.Now()
	now := p.now()

	if p.Quota.Paused(now) {
		return
	}

	for _, stopID := range p.due(now) {
		err := p.pollStop(ctx, stopID)
		if err == nil {
			continue
		}
		if errors.Is(err, hafas.ErrQuotaExceeded) {
			until := hafas.NextReset(p.now())
			p.Quota.Pause(until)
			if p.Metrics != nil {
				p.Metrics.QuotaPauseInc()
			}
			log.Printf("[poll] provider quota exhausted, pausing until %s", until.Format(time.RFC3339))
			break
		}
		log.Printf("[poll] stop %s: %v", stopID, err)
	}

	if p.Metrics != nil {
		p.Metrics.TickObserve(time.Since(started).Seconds())
	}
}

// due returns the stops whose next poll has elapsed, sorted for
// deterministic servicing order.
func (p *Poller) due(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := []string{}
	for id, state := range p.states {
		if !state.nextPoll.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// pollStop fetches and stores one stop's board, then schedules the
// next poll. Any failure backs the stop off to the maximum interval;
// no immediate retry.
func (p *Poller) pollStop(ctx context.Context, stopID string) error {
	stored, err := p.Ingestor.FetchAndStore(ctx, stopID, "")
	if err != nil {
		p.setInterval(stopID, p.MaxInterval)
		if p.Metrics != nil {
			p.Metrics.PollInc("error")
		}
		return err
	}
	if p.Metrics != nil {
		p.Metrics.PollInc("success")
		p.Metrics.DeparturesStoredAdd(stored)
	}

	interval := p.MaxInterval
	stats, err := p.Storage.DelayStats(stopID, p.now().Add(-statsWindow))
	if err != nil {
		// Poll sparsely until the stats are readable again.
		log.Printf("[poll] stats for stop %s: %v", stopID, err)
	} else {
		interval = computeInterval(stats, p.localHour(), p.MinInterval, p.MaxInterval)
	}
	p.setInterval(stopID, interval)
	return nil
}

func (p *Poller) setInterval(stopID string, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[stopID]
	if !ok {
		return
	}
	state.interval = interval
	state.nextPoll = p.now().Add(interval)
}

// computeInterval picks a stop's next poll interval from its
// trailing delay profile and the hour of day. This is a heuristic
// control loop, not a statistically optimal estimator: it trades
// precision for simplicity and a bounded request volume. The result
// always lands in [min, max].
func computeInterval(stats model.DelayStats, hour int, min, max time.Duration) time.Duration {
	// Too little history to judge volatility: poll sparsely.
	if stats.Samples < minSamples {
		return max
	}

	interval := min
	if stats.Mean < 5 && stats.StdDev < 3 {
		// Consistently punctual: poll rarely.
		interval = max
	} else if stats.Mean < 10 && stats.StdDev < 5 {
		interval = (min + max) / 2
	}

	// Rush hours get twice the attention, floored at the minimum.
	if (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 18) {
		interval /= 2
		if interval < min {
			interval = min
		}
	}
	return interval
}

func (p *Poller) localHour() int {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	return p.now().In(loc).Hour()
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
