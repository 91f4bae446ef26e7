package sequence

import (
	"github.com/pkg/errors"

	"github.com/lumebot/lumebot/pkg/ledger"
)

type slotState int

const (
	slotPending slotState = iota
	slotReleased
	slotRetired
	slotSuperseded
)

// Slot is an in-flight reservation of one sequence number for one account.
// It is owned exclusively by the caller that reserved it until released,
// retired, or invalidated by a resync.
type Slot struct {
	st *accountState

	accountID string
	sequence  int64
	state     slotState

	// maybeApplied is set during resync for slots whose sequence is at or
	// below the authoritative value: the transaction may already have been
	// applied, so the logical operation must not be blindly resubmitted.
	maybeApplied bool
}

func (s *Slot) AccountID() string {
	return s.accountID
}

func (s *Slot) Sequence() int64 {
	return s.sequence
}

// Superseded reports whether a resync invalidated this slot.
func (s *Slot) Superseded() bool {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.state == slotSuperseded
}

// MaybeApplied reports whether the slot's transaction may already have
// reached the ledger. Only meaningful after a resync.
func (s *Slot) MaybeApplied() bool {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.maybeApplied
}

func (s *Slot) checkLive() error {
	switch s.state {
	case slotPending:
		return nil
	case slotSuperseded:
		return errors.Wrapf(ledger.ErrSuperseded, "slot %d for account %s", s.sequence, s.accountID)
	default:
		return errors.Errorf("slot %d for account %s is already settled", s.sequence, s.accountID)
	}
}
