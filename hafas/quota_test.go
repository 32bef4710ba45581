package hafas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaRotatesAtCap(t *testing.T) {
	q := NewQuota("primary", "secondary")

	// The full budget runs on the primary credential.
	for i := 0; i < DefaultHourlyLimit; i++ {
		assert.Equal(t, "primary", q.Acquire())
	}

	// The next request runs on the secondary, with the counter
	// started over.
	assert.Equal(t, "secondary", q.Acquire())
	assert.Equal(t, 1, q.Requests())
	assert.Equal(t, "secondary", q.Active())
}

func TestQuotaRotationCallback(t *testing.T) {
	q := NewQuota("a", "b")
	q.limit = 3

	rotations := 0
	q.OnRotate = func() { rotations++ }

	q.Acquire()
	q.Acquire()
	assert.Equal(t, 0, rotations)
	q.Acquire()
	assert.Equal(t, 1, rotations)

	// Second rotation swaps back to the original credential.
	q.Acquire()
	q.Acquire()
	assert.Equal(t, "b", q.Acquire())
	assert.Equal(t, 2, rotations)
	assert.Equal(t, "a", q.Active())
}

func TestQuotaSingleCredential(t *testing.T) {
	q := NewQuota("only", "")
	q.limit = 2

	assert.Equal(t, "only", q.Acquire())
	assert.Equal(t, "only", q.Acquire())
	assert.Equal(t, "only", q.Acquire())
	assert.Equal(t, "only", q.Active())
}

func TestQuotaReset(t *testing.T) {
	q := NewQuota("a", "b")
	q.Acquire()
	q.Acquire()
	require.Equal(t, 2, q.Requests())

	q.Reset()
	assert.Equal(t, 0, q.Requests())
}

func TestQuotaPause(t *testing.T) {
	q := NewQuota("a", "b")
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.False(t, q.Paused(now))

	q.Pause(now.Add(30 * time.Minute))
	assert.True(t, q.Paused(now))
	assert.True(t, q.Paused(now.Add(29*time.Minute)))
	assert.False(t, q.Paused(now.Add(30*time.Minute)))

	// An earlier pause never shortens an existing one.
	q.Pause(now.Add(10 * time.Minute))
	assert.True(t, q.Paused(now.Add(29*time.Minute)))
}

func TestNextReset(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Luxembourg")
	require.NoError(t, err)

	for _, tc := range []struct {
		now  time.Time
		want time.Time
	}{
		{
			time.Date(2025, 3, 14, 9, 26, 53, 12345, loc),
			time.Date(2025, 3, 14, 10, 0, 0, 0, loc),
		},
		{
			time.Date(2025, 3, 14, 23, 59, 59, 0, loc),
			time.Date(2025, 3, 15, 0, 0, 0, 0, loc),
		},
		{
			time.Date(2025, 3, 14, 9, 0, 0, 0, loc),
			time.Date(2025, 3, 14, 10, 0, 0, 0, loc),
		},
	} {
		assert.True(t, tc.want.Equal(NextReset(tc.now)), "NextReset(%s)", tc.now)
	}
}
