package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
)

type SideType string

const (
	SideTypeBuy  SideType = "BUY"
	SideTypeSell SideType = "SELL"
)

type OrderStatus string

const (
	// OrderStatusPending means the order was created locally and has not
	// been handed to the network yet.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusSubmitted means a transaction carrying the order left the
	// submitter but the ledger has not acknowledged it.
	OrderStatusSubmitted OrderStatus = "SUBMITTED"

	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is final. A terminal order never
// transitions again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// SubmitOrder is the caller-supplied intent for a new order.
type SubmitOrder struct {
	ClientOrderID string `json:"clientOrderID"`

	Pair TradingPair `json:"pair"`
	Side SideType    `json:"side"`

	Quantity fixedpoint.Value `json:"quantity"`
	Price    fixedpoint.Value `json:"price"`

	// ExpireAt, when set, expires the order locally once the deadline
	// passes while the order is still non-terminal.
	ExpireAt time.Time `json:"expireAt,omitempty"`
}

func (o SubmitOrder) String() string {
	return fmt.Sprintf("%s %s %s @ %s x %s", o.ClientOrderID, o.Side, o.Pair, o.Price, o.Quantity)
}

// SellingBuying maps the order side onto the ledger's selling/buying asset
// orientation.
func (o SubmitOrder) SellingBuying() (selling, buying Asset) {
	if o.Side == SideTypeBuy {
		return o.Pair.Quote, o.Pair.Base
	}
	return o.Pair.Base, o.Pair.Quote
}

// Order is a tracked trading order. It is mutated only by the lifecycle
// manager, in response to submission results or ledger events.
type Order struct {
	SubmitOrder

	// OfferID is the ledger-assigned offer id, zero until the ledger
	// acknowledges the order.
	OfferID int64 `json:"offerID,omitempty"`

	Status           OrderStatus      `json:"status"`
	ExecutedQuantity fixedpoint.Value `json:"executedQuantity"`

	// CancelPending marks an order whose cancel submission timed out; the
	// true outcome is unknown until a ledger event or a reconcile sweep
	// resolves it.
	CancelPending bool `json:"cancelPending,omitempty"`

	RetryCount int    `json:"retryCount,omitempty"`
	LastError  string `json:"lastError,omitempty"`

	CreationTime time.Time `json:"creationTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

func (o Order) String() string {
	return fmt.Sprintf("order %s (%s) %s %s @ %s x %s, executed %s",
		o.ClientOrderID, o.Status, o.Side, o.Pair, o.Price, o.Quantity, o.ExecutedQuantity)
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() fixedpoint.Value {
	return fixedpoint.Max(o.Quantity.Sub(o.ExecutedQuantity), fixedpoint.Zero)
}

// NewClientOrderID generates a caller-side unique order id.
func NewClientOrderID() string {
	return uuid.NewString()
}
