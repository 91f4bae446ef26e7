package submitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumebot/lumebot/pkg/ledger"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker("test")
	b.FailureThreshold = 3
	b.FailureWindow = time.Minute
	b.Cooldown = 30 * time.Second
	b.now = clock.Now
	return b, clock
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 2; i++ {
		assert.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	// rejected immediately, no network call attempted
	err := b.Allow()
	var open *ledger.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestCircuitBreaker_FailuresOutsideWindowIgnored(t *testing.T) {
	b, clock := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State(), "stale failures must not count")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(31 * time.Second)

	// exactly one probe is admitted
	assert.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	err := b.Allow()
	var open *ledger.CircuitOpenError
	assert.ErrorAs(t, err, &open)

	// a failed probe re-opens
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	// next cooldown, a successful probe closes
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestCircuitBreaker_AbortProbeFreesTheSlot(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)

	require.NoError(t, b.Allow())
	b.AbortProbe()

	assert.NoError(t, b.Allow(), "aborted probe should admit another")
}
