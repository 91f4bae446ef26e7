package lifecycle

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/lumebot/lumebot/pkg/sigchan"
	"github.com/lumebot/lumebot/pkg/types"
)

// OrderBook tracks the locally known orders of one account, keyed by
// client order id with a secondary index on ledger offer id.
type OrderBook struct {
	AccountID string

	mu      sync.Mutex
	orders  map[string]types.Order
	byOffer map[int64]string

	// C is emitted whenever an order is added or updated.
	C sigchan.Chan
}

func NewOrderBook(accountID string) *OrderBook {
	return &OrderBook{
		AccountID: accountID,
		orders:    make(map[string]types.Order),
		byOffer:   make(map[int64]string),
		C:         sigchan.New(1),
	}
}

func (b *OrderBook) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Orders())
}

func (b *OrderBook) Add(order types.Order) {
	b.mu.Lock()
	b.setLocked(order)
	b.mu.Unlock()

	b.C.Emit()
}

// Update stores the new version of an already tracked order; unknown
// orders are ignored.
func (b *OrderBook) Update(order types.Order) bool {
	b.mu.Lock()
	_, ok := b.orders[order.ClientOrderID]
	if ok {
		b.setLocked(order)
	}
	b.mu.Unlock()

	if ok {
		b.C.Emit()
	}
	return ok
}

// Apply mutates the stored copy of an order while holding the book lock,
// so concurrent writers always build on the current state instead of
// writing back stale reads. Unknown orders report false and fn never runs.
func (b *OrderBook) Apply(clientOrderID string, fn func(order *types.Order)) (types.Order, bool) {
	b.mu.Lock()
	order, ok := b.orders[clientOrderID]
	if !ok {
		b.mu.Unlock()
		return types.Order{}, false
	}

	fn(&order)
	b.setLocked(order)
	b.mu.Unlock()

	b.C.Emit()
	return order, true
}

func (b *OrderBook) setLocked(order types.Order) {
	b.orders[order.ClientOrderID] = order
	if order.OfferID != 0 {
		b.byOffer[order.OfferID] = order.ClientOrderID
	}
}

func (b *OrderBook) Get(clientOrderID string) (types.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[clientOrderID]
	return order, ok
}

func (b *OrderBook) GetByOfferID(offerID int64) (types.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byOffer[offerID]
	if !ok {
		return types.Order{}, false
	}

	order, ok := b.orders[id]
	return order, ok
}

func (b *OrderBook) Exists(clientOrderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.orders[clientOrderID]
	return ok
}

func (b *OrderBook) NumOfOrders() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.orders)
}

// Orders returns all tracked orders sorted by creation time.
func (b *OrderBook) Orders() []types.Order {
	b.mu.Lock()
	orders := make([]types.Order, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, o)
	}
	b.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreationTime.Before(orders[j].CreationTime)
	})
	return orders
}

// OpenOrders returns the tracked orders that are still working on the
// ledger or on their way to it.
func (b *OrderBook) OpenOrders() []types.Order {
	var open []types.Order
	for _, o := range b.Orders() {
		if !o.Status.IsTerminal() {
			open = append(open, o)
		}
	}
	return open
}
