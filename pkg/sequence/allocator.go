// Package sequence hands out collision-free per-account sequence numbers.
// The cached next sequence is the only shared mutable state, guarded by a
// per-account lock so unrelated accounts stay fully concurrent.
package sequence

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/ledger"
)

// Options controls allocator behavior.
type Options struct {
	// EnablePipelining permits multiple outstanding slots per account.
	// Callers then determine submission order but accept out-of-order
	// confirmation risk. Off by default: strict ordering.
	EnablePipelining bool
}

// Allocator owns the cached per-account sequence numbers and the set of
// outstanding slots.
type Allocator struct {
	client ledger.NetworkClient
	opts   Options

	mu       sync.Mutex
	accounts map[string]*accountState

	logger log.FieldLogger
}

type accountState struct {
	mu sync.Mutex

	// cached is the last sequence known consumed on the ledger; the next
	// transaction uses cached+1.
	cached     int64
	haveCached bool

	pending []*Slot
}

func NewAllocator(client ledger.NetworkClient, opts Options) *Allocator {
	return &Allocator{
		client:   client,
		opts:     opts,
		accounts: make(map[string]*accountState),
		logger:   log.WithField("component", "sequence"),
	}
}

func (a *Allocator) account(accountID string) *accountState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.accounts[accountID]
	if !ok {
		st = &accountState{}
		a.accounts[accountID] = st
	}
	return st
}

// Reserve hands out the next free sequence number for the account as an
// exclusively-owned slot. With pipelining disabled it fails with ErrBusy
// while another slot is outstanding. When no sequence is cached yet, the
// account is loaded through the network client; without a client it fails
// with ErrUnknownAccount.
func (a *Allocator) Reserve(ctx context.Context, accountID string) (*Slot, error) {
	st := a.account(accountID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.haveCached {
		if a.client == nil {
			return nil, errors.Wrapf(ledger.ErrUnknownAccount, "account %s", accountID)
		}

		snapshot, err := a.client.GetAccount(ctx, accountID)
		if err != nil {
			return nil, errors.Wrapf(err, "can not load account %s for sequence bootstrap", accountID)
		}

		st.cached = snapshot.Sequence
		st.haveCached = true

		a.logger.WithField("account", accountID).
			Infof("bootstrapped sequence %d", st.cached)
	}

	if !a.opts.EnablePipelining && len(st.pending) > 0 {
		return nil, errors.Wrapf(ledger.ErrBusy, "account %s", accountID)
	}

	// the next number follows the highest live reservation, not the
	// pending count: retiring a lower slot must never hand a still-live
	// higher slot's sequence out a second time
	next := st.cached
	for _, outstanding := range st.pending {
		if outstanding.sequence > next {
			next = outstanding.sequence
		}
	}

	slot := &Slot{
		st:        st,
		accountID: accountID,
		sequence:  next + 1,
		state:     slotPending,
	}
	st.pending = append(st.pending, slot)

	return slot, nil
}

// Release marks the slot's transaction as applied by the ledger and
// advances the cached sequence. Releasing an invalidated slot returns
// ErrSuperseded.
func (a *Allocator) Release(slot *Slot) error {
	st := slot.st

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := slot.checkLive(); err != nil {
		return err
	}

	slot.state = slotReleased
	if slot.sequence > st.cached {
		st.cached = slot.sequence
	}
	st.removeLocked(slot)

	return nil
}

// Retire drops the slot without advancing the cached sequence. Only valid
// when the transaction is known never to have reached the network.
// Retiring an invalidated slot returns ErrSuperseded.
func (a *Allocator) Retire(slot *Slot) error {
	st := slot.st

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := slot.checkLive(); err != nil {
		return err
	}

	slot.state = slotRetired
	st.removeLocked(slot)

	return nil
}

// Resync force-overwrites the cached sequence with an authoritative value
// observed from the network and invalidates every outstanding slot for the
// account. Slots above the authoritative value are known unused; slots at
// or below it may already have been applied, so their callers must query
// actual ledger state before resubmitting the same logical operation.
func (a *Allocator) Resync(accountID string, authoritative int64) {
	st := a.account(accountID)

	st.mu.Lock()
	defer st.mu.Unlock()

	invalidated := len(st.pending)
	for _, slot := range st.pending {
		slot.state = slotSuperseded
		slot.maybeApplied = slot.sequence <= authoritative
	}
	st.pending = st.pending[:0]

	st.cached = authoritative
	st.haveCached = true

	if invalidated > 0 {
		a.logger.WithFields(log.Fields{
			"account":  accountID,
			"sequence": authoritative,
		}).Warnf("resync invalidated %d outstanding slots", invalidated)
	}
}

// CachedSequence returns the cached sequence for the account, false when
// nothing is cached yet.
func (a *Allocator) CachedSequence(accountID string) (int64, bool) {
	st := a.account(accountID)

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.cached, st.haveCached
}

// PendingSlots returns how many slots are outstanding for the account.
func (a *Allocator) PendingSlots(accountID string) int {
	st := a.account(accountID)

	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.pending)
}

func (st *accountState) removeLocked(slot *Slot) {
	for i, s := range st.pending {
		if s == slot {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			return
		}
	}
}
