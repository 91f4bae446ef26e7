// Package reserve computes an account's minimum required native balance.
// Everything here is pure computation on an account snapshot; no I/O.
package reserve

import (
	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/types"
)

// Calculator derives minimum-balance figures from account snapshots.
// Zero value is not usable; construct with NewCalculator.
type Calculator struct {
	// BaseAccountReserve is the floor every account must hold regardless
	// of entries.
	BaseAccountReserve fixedpoint.Value `json:"baseAccountReserve" yaml:"baseAccountReserve"`

	// EntryReserve is the additional reserve required per ledger entry
	// (trustline, offer, data entry, signer beyond the master key).
	EntryReserve fixedpoint.Value `json:"entryReserve" yaml:"entryReserve"`
}

// NewCalculator returns a calculator with the network's default base
// reserves: 1 native unit per account plus 0.5 per entry.
func NewCalculator() *Calculator {
	return &Calculator{
		BaseAccountReserve: fixedpoint.NewFromInt(1),
		EntryReserve:       fixedpoint.NewFromFloat(0.5),
	}
}

// EntryCount sums the reserve-bearing entries of the account: trustlines,
// open offers, auxiliary data entries, and signers beyond the first.
func EntryCount(a *types.AccountSnapshot) int {
	n := len(a.Trustlines) + len(a.Offers) + a.DataEntries
	if extra := len(a.Signers) - 1; extra > 0 {
		n += extra
	}
	return n
}

// MinimumBalance returns the minimum native balance the account must
// retain. Monotonic non-decreasing in the number of entries.
func (c *Calculator) MinimumBalance(a *types.AccountSnapshot) fixedpoint.Value {
	entries := fixedpoint.NewFromInt(EntryCount(a))
	return c.BaseAccountReserve.Add(c.EntryReserve.Mul(entries))
}

// AvailableBalance returns balance minus the minimum reserve, clamped at
// zero. belowReserve is set when the balance is already under the minimum;
// that is a pre-existing-violation signal, not an error.
func (c *Calculator) AvailableBalance(a *types.AccountSnapshot) (available fixedpoint.Value, belowReserve bool) {
	available = a.NativeBalance.Sub(c.MinimumBalance(a))
	if available.Sign() < 0 {
		return fixedpoint.Zero, true
	}
	return available, false
}

// WouldExceedReserve reports whether applying an operation that adds
// newEntries ledger entries and spends outgoing native balance would leave
// the account under its minimum reserve. Call this before any
// entry-adding operation and before any payment that reduces balance.
func (c *Calculator) WouldExceedReserve(a *types.AccountSnapshot, newEntries int, outgoing fixedpoint.Value) bool {
	entries := fixedpoint.NewFromInt(EntryCount(a) + newEntries)
	minimum := c.BaseAccountReserve.Add(c.EntryReserve.Mul(entries))
	return a.NativeBalance.Sub(outgoing).Compare(minimum) < 0
}
