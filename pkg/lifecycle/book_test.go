package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/types"
)

func bookOrder(id string, offerID int64, status types.OrderStatus, createdAt time.Time) types.Order {
	order := types.Order{
		Status:       status,
		OfferID:      offerID,
		CreationTime: createdAt,
	}
	order.ClientOrderID = id
	order.Quantity = fixedpoint.NewFromInt(1)
	return order
}

func TestOrderBook_OfferIndex(t *testing.T) {
	b := NewOrderBook("GACC")

	b.Add(bookOrder("a", 0, types.OrderStatusSubmitted, time.Now()))
	_, ok := b.GetByOfferID(7)
	assert.False(t, ok)

	// the offer id becomes known later
	order, _ := b.Get("a")
	order.OfferID = 7
	require.True(t, b.Update(order))

	got, ok := b.GetByOfferID(7)
	require.True(t, ok)
	assert.Equal(t, "a", got.ClientOrderID)
}

func TestOrderBook_UpdateUnknownOrderIgnored(t *testing.T) {
	b := NewOrderBook("GACC")
	assert.False(t, b.Update(bookOrder("ghost", 0, types.OrderStatusOpen, time.Now())))
	assert.Equal(t, 0, b.NumOfOrders())
}

func TestOrderBook_OrdersSortedByCreation(t *testing.T) {
	b := NewOrderBook("GACC")
	base := time.Now()

	b.Add(bookOrder("late", 2, types.OrderStatusOpen, base.Add(time.Second)))
	b.Add(bookOrder("early", 1, types.OrderStatusFilled, base))

	orders := b.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "early", orders[0].ClientOrderID)
	assert.Equal(t, "late", orders[1].ClientOrderID)

	open := b.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, "late", open[0].ClientOrderID)
}

func TestOrderBook_SignalCoalesces(t *testing.T) {
	b := NewOrderBook("GACC")

	for i := 0; i < 10; i++ {
		b.Add(bookOrder("a", 0, types.OrderStatusPending, time.Now()))
	}

	// burst of updates wakes the consumer at least once, never blocks
	select {
	case <-b.C:
	default:
		t.Fatal("expected a queued signal")
	}
}
