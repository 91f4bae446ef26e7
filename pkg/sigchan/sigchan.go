// Package sigchan provides a coalescing signal channel: emits while the
// buffer is full are dropped, so a burst of updates wakes the consumer once.
package sigchan

import "time"

type Chan chan struct{}

func New(cap int) Chan {
	return make(Chan, cap)
}

// Drain consumes queued signals until quiet for the given duration or the
// deadline passes, returning how many were consumed.
func (c Chan) Drain(duration, deadline time.Duration) (cnt int) {
	deadlineC := time.After(deadline)
	for {
		select {
		case <-c:
			cnt++

		case <-deadlineC:
			return cnt

		case <-time.After(duration):
			return cnt
		}
	}
}

func (c Chan) Emit() {
	select {
	case c <- struct{}{}:
	default:
	}
}

func (c Chan) Close() {
	close(c)
}
