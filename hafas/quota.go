package hafas

import (
	"sync"
	"time"
)

// The shared hourly request budget across both credentials.
const DefaultHourlyLimit = 800

// Quota tracks request volume against the provider's hourly cap and
// owns the active/backup credential pair. When the counter reaches
// the cap the credentials are swapped and the counter starts over;
// rotation is best-effort load spreading, not a hard stop. It assumes
// the backup credential has an independent quota upstream, which the
// provider does not guarantee.
//
// All mutation goes through the mutex. Concurrent discovery workers
// and the poll scheduler share a single Quota.
type Quota struct {
	mu          sync.Mutex
	active      string
	backup      string
	requests    int
	limit       int
	pausedUntil time.Time

	// OnRotate, if set, is called after each credential rotation.
	OnRotate func()
}

// NewQuota returns a Quota with primary active and the default
// hourly limit. A blank secondary disables rotation in practice
// (swapping equal credentials is harmless).
func NewQuota(primary, secondary string) *Quota {
	if secondary == "" {
		secondary = primary
	}
	return &Quota{
		active: primary,
		backup: secondary,
		limit:  DefaultHourlyLimit,
	}
}

// Acquire returns the credential to use for one request and counts
// it against the shared budget. The count happens before the network
// call is attempted, so failed calls consume quota too. When the
// counter reaches the cap the credentials rotate and the counter
// resets to zero.
func (q *Quota) Acquire() string {
	q.mu.Lock()
	id := q.active
	q.requests++
	var rotated bool
	if q.requests >= q.limit {
		q.active, q.backup = q.backup, q.active
		q.requests = 0
		rotated = true
	}
	onRotate := q.OnRotate
	q.mu.Unlock()

	if rotated && onRotate != nil {
		onRotate()
	}
	return id
}

// Requests reports the count tracked against the active credential.
func (q *Quota) Requests() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requests
}

// Active reports the credential currently in use.
func (q *Quota) Active() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Exhausted reports whether the tracked counter has reached the cap.
// With rotation enabled this only stays true when both credentials
// are the same.
func (q *Quota) Exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requests >= q.limit
}

// Reset zeroes the tracked counter, e.g. after waiting out an hour
// boundary.
func (q *Quota) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = 0
}

// Pause records that the provider reported quota exhaustion and that
// no requests should be issued before the given time.
func (q *Quota) Pause(until time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if until.After(q.pausedUntil) {
		q.pausedUntil = until
	}
}

// Paused reports whether a provider-side quota pause is in effect.
func (q *Quota) Paused(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return now.Before(q.pausedUntil)
}

// NextReset returns the top of the hour following now, when the
// provider's rolling quota window opens again.
func NextReset(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
}
