package reserve

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/types"
)

func snapshotWith(trustlines, offers, signers, dataEntries int) *types.AccountSnapshot {
	a := &types.AccountSnapshot{
		AccountID:   "GACC",
		DataEntries: dataEntries,
	}
	for i := 0; i < trustlines; i++ {
		a.Trustlines = append(a.Trustlines, types.Trustline{
			Asset: types.Asset{Code: fmt.Sprintf("TOK%d", i), Issuer: "GISSUER"},
		})
	}
	for i := 0; i < offers; i++ {
		a.Offers = append(a.Offers, types.Offer{OfferID: int64(i + 1)})
	}
	for i := 0; i < signers; i++ {
		a.Signers = append(a.Signers, types.Signer{Key: fmt.Sprintf("S%d", i), Weight: 1})
	}
	return a
}

func TestMinimumBalance(t *testing.T) {
	c := NewCalculator()

	// bare account: base reserve only
	assert.Equal(t, fixedpoint.NewFromInt(1), c.MinimumBalance(snapshotWith(0, 0, 1, 0)))

	// 100 trustlines: 1 + 100*0.5 = 51
	a := snapshotWith(100, 0, 1, 0)
	assert.Equal(t, fixedpoint.NewFromFloat(51.0), c.MinimumBalance(a))

	// the master signer is free, extra signers are entries
	assert.Equal(t, fixedpoint.NewFromFloat(2.0), c.MinimumBalance(snapshotWith(0, 0, 3, 0)))
}

func TestMinimumBalanceMonotonic(t *testing.T) {
	c := NewCalculator()

	prev := fixedpoint.Zero
	for trustlines := 0; trustlines <= 20; trustlines++ {
		for offers := 0; offers <= 20; offers += 5 {
			min := c.MinimumBalance(snapshotWith(trustlines, offers, 1, 0))
			assert.GreaterOrEqual(t, min.Int64(), prev.Int64(),
				"adding entries must never lower the requirement")
		}
		prev = c.MinimumBalance(snapshotWith(trustlines, 0, 1, 0))
	}
}

func TestAvailableBalance(t *testing.T) {
	c := NewCalculator()

	a := snapshotWith(100, 0, 1, 0)
	a.NativeBalance = fixedpoint.NewFromInt(100)

	available, belowReserve := c.AvailableBalance(a)
	assert.False(t, belowReserve)
	assert.Equal(t, fixedpoint.NewFromFloat(49.0), available)
}

func TestAvailableBalanceBelowReserve(t *testing.T) {
	c := NewCalculator()

	a := snapshotWith(100, 0, 1, 0)
	a.NativeBalance = fixedpoint.NewFromInt(50) // minimum is 51

	available, belowReserve := c.AvailableBalance(a)
	assert.True(t, belowReserve)
	assert.Equal(t, fixedpoint.Zero, available, "clamped at zero")
}

func TestWouldExceedReserve(t *testing.T) {
	c := NewCalculator()

	a := snapshotWith(100, 0, 1, 0)
	a.NativeBalance = fixedpoint.NewFromInt(100)

	// available is 49; a payment of 60 must be rejected before any network call
	assert.True(t, c.WouldExceedReserve(a, 0, fixedpoint.NewFromInt(60)))
	assert.False(t, c.WouldExceedReserve(a, 0, fixedpoint.NewFromInt(40)))

	// adding an entry raises the requirement by 0.5
	assert.True(t, c.WouldExceedReserve(a, 1, fixedpoint.NewFromFloat(48.8)))
	assert.False(t, c.WouldExceedReserve(a, 1, fixedpoint.NewFromFloat(48.0)))
}
