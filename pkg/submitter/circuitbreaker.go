package submitter

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/ledger"
)

var breakerStateMetrics = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lumebot_circuit_breaker_state",
		Help: "circuit breaker state: 0 closed, 1 open, 2 half-open",
	}, []string{"class"})

var breakerFailuresMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lumebot_circuit_breaker_failures_total",
		Help: "failures recorded by the circuit breaker",
	}, []string{"class"})

var breakerTripsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lumebot_circuit_breaker_trips_total",
		Help: "closed-to-open transitions",
	}, []string{"class"})

func init() {
	prometheus.MustRegister(
		breakerStateMetrics,
		breakerFailuresMetrics,
		breakerTripsMetrics,
	)
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker trips after a run of consecutive network-layer failures
// inside a sliding window, rejecting submissions for a cooldown period so a
// degraded network is not hammered with sequence-consuming retries. After
// the cooldown exactly one probe is allowed through (half-open); its result
// decides between closing and re-opening.
type CircuitBreaker struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures []time.Time
	openedAt time.Time
	probing  bool

	class  string
	now    func() time.Time
	logger log.FieldLogger
}

func NewCircuitBreaker(class string) *CircuitBreaker {
	b := &CircuitBreaker{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		Cooldown:         30 * time.Second,
		state:            BreakerClosed,
		class:            class,
		now:              time.Now,
		logger:           log.WithField("breaker", class),
	}
	b.updateMetrics()
	return b
}

// Allow reports whether a call may proceed. While open it fails with a
// CircuitOpenError carrying a retry-after hint; after the cooldown it
// admits a single half-open probe.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if remaining := b.openedAt.Add(b.Cooldown).Sub(now); remaining > 0 {
			return &ledger.CircuitOpenError{RetryAfter: remaining}
		}

		b.transition(BreakerHalfOpen)
		b.probing = true
		return nil

	case BreakerHalfOpen:
		if b.probing {
			return &ledger.CircuitOpenError{RetryAfter: b.Cooldown}
		}
		b.probing = true
		return nil
	}

	return nil
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = b.failures[:0]
	b.probing = false
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// AbortProbe returns an admitted half-open probe without recording an
// outcome, for calls that never reached the network.
func (b *CircuitBreaker) AbortProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
}

// RecordFailure notes one network-layer failure. A half-open probe failure
// re-opens immediately; in closed state the breaker trips once the
// consecutive-failure count within the window reaches the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	breakerFailuresMetrics.WithLabelValues(b.class).Inc()

	if b.state == BreakerHalfOpen {
		b.probing = false
		b.openedAt = now
		b.transition(BreakerOpen)
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)

	if b.state == BreakerClosed && len(b.failures) >= b.FailureThreshold {
		b.openedAt = now
		b.failures = b.failures[:0]
		breakerTripsMetrics.WithLabelValues(b.class).Inc()
		b.transition(BreakerOpen)
	}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.FailureWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

func (b *CircuitBreaker) transition(next BreakerState) {
	if b.state != next {
		b.logger.Warnf("circuit breaker %s -> %s", b.state, next)
	}
	b.state = next
	b.updateMetrics()
}

func (b *CircuitBreaker) updateMetrics() {
	var v float64
	switch b.state {
	case BreakerOpen:
		v = 1
	case BreakerHalfOpen:
		v = 2
	}
	breakerStateMetrics.WithLabelValues(b.class).Set(v)
}
