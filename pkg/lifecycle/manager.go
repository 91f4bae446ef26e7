// Package lifecycle owns the state machine for trading orders: create,
// amend, cancel, fill tracking, expiry, and the reconcile sweep that keeps
// local state honest against the ledger.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/metrics"
	"github.com/lumebot/lumebot/pkg/persistence"
	"github.com/lumebot/lumebot/pkg/reserve"
	"github.com/lumebot/lumebot/pkg/sequence"
	"github.com/lumebot/lumebot/pkg/submitter"
	"github.com/lumebot/lumebot/pkg/types"
	"github.com/lumebot/lumebot/pkg/util/backoff"
)

type Config struct {
	AccountID string `json:"accountID" yaml:"accountID"`

	// ReconcileInterval is the cadence of the drift-correction sweep.
	ReconcileInterval types.Duration `json:"reconcileInterval" yaml:"reconcileInterval"`

	// ExpiryCheckInterval is how often caller-supplied order deadlines are
	// evaluated.
	ExpiryCheckInterval types.Duration `json:"expiryCheckInterval" yaml:"expiryCheckInterval"`
}

func (c *Config) defaults() {
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = types.Duration(time.Minute)
	}
	if c.ExpiryCheckInterval == 0 {
		c.ExpiryCheckInterval = types.Duration(5 * time.Second)
	}
}

// Manager coordinates all mutating operations for one account's orders.
// Exactly one mutating operation per order may be in flight at a time; a
// second request fails with ErrOperationInProgress so callers get explicit
// backpressure instead of silent queuing.
type Manager struct {
	config Config

	client    ledger.NetworkClient
	sub       *submitter.Submitter
	allocator *sequence.Allocator
	calc      *reserve.Calculator
	store     persistence.Store

	book *OrderBook

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	accountMu sync.Mutex
	account   *types.AccountSnapshot
	halted    bool

	statusChangedCallbacks []func(order types.Order)
	filledCallbacks        []func(order types.Order)
	canceledCallbacks      []func(order types.Order)
	callbackMu             sync.Mutex

	logger log.FieldLogger
}

func NewManager(
	config Config,
	client ledger.NetworkClient,
	sub *submitter.Submitter,
	allocator *sequence.Allocator,
	calc *reserve.Calculator,
) *Manager {
	config.defaults()

	return &Manager{
		config:    config,
		client:    client,
		sub:       sub,
		allocator: allocator,
		calc:      calc,
		book:      NewOrderBook(config.AccountID),
		inflight:  make(map[string]struct{}),
		logger: log.WithFields(log.Fields{
			"component": "lifecycle",
			"account":   config.AccountID,
		}),
	}
}

// SetStore enables state checkpointing through the given persistence store.
func (m *Manager) SetStore(store persistence.Store) {
	m.store = store
}

func (m *Manager) OnStatusChanged(cb func(order types.Order)) {
	m.callbackMu.Lock()
	m.statusChangedCallbacks = append(m.statusChangedCallbacks, cb)
	m.callbackMu.Unlock()
}

func (m *Manager) OnFilled(cb func(order types.Order)) {
	m.callbackMu.Lock()
	m.filledCallbacks = append(m.filledCallbacks, cb)
	m.callbackMu.Unlock()
}

func (m *Manager) OnCanceled(cb func(order types.Order)) {
	m.callbackMu.Lock()
	m.canceledCallbacks = append(m.canceledCallbacks, cb)
	m.callbackMu.Unlock()
}

// Orders returns all tracked orders.
func (m *Manager) Orders() []types.Order {
	return m.book.Orders()
}

// Order looks up one tracked order.
func (m *Manager) Order(clientOrderID string) (types.Order, bool) {
	return m.book.Get(clientOrderID)
}

// Account returns the last observed account snapshot, nil before the first
// refresh.
func (m *Manager) Account() *types.AccountSnapshot {
	m.accountMu.Lock()
	defer m.accountMu.Unlock()
	return m.account
}

// PlaceOrder validates the intent against the account's reserve, submits a
// manage-offer transaction, and tracks the resulting order. The returned
// order reflects the state after submission settled; on ErrSuperseded and
// ErrTimedOut it stays Submitted pending reconciliation.
func (m *Manager) PlaceOrder(ctx context.Context, so types.SubmitOrder) (types.Order, error) {
	if err := m.checkHalted(); err != nil {
		return types.Order{}, err
	}

	if so.ClientOrderID == "" {
		so.ClientOrderID = types.NewClientOrderID()
	}
	if so.Quantity.Sign() <= 0 {
		return types.Order{}, errors.Errorf("invalid quantity %s", so.Quantity)
	}
	if so.Price.Sign() <= 0 {
		return types.Order{}, errors.Errorf("invalid price %s", so.Price)
	}

	if err := m.acquire(so.ClientOrderID); err != nil {
		return types.Order{}, err
	}
	defer m.release(so.ClientOrderID)

	if m.book.Exists(so.ClientOrderID) {
		return types.Order{}, errors.Errorf("duplicate client order id %s", so.ClientOrderID)
	}

	now := time.Now()
	order := types.Order{
		SubmitOrder:  so,
		Status:       types.OrderStatusPending,
		CreationTime: now,
		UpdateTime:   now,
	}
	m.book.Add(order)
	m.publishOpenOrdersGauge()

	if err := m.precheckReserve(ctx, so); err != nil {
		order = m.setStatus(so.ClientOrderID, types.OrderStatusFailed, err.Error())
		return order, err
	}

	selling, buying := so.SellingBuying()
	op := types.ManageOfferOp{
		Selling: selling,
		Buying:  buying,
		Amount:  so.Quantity,
		Price:   so.Price,
	}

	order = m.setStatus(so.ClientOrderID, types.OrderStatusSubmitted, "")

	result, err := m.sub.Submit(ctx, submitter.OperationClassSubmission, m.config.AccountID, op)
	if err != nil {
		return m.settlePlaceError(so.ClientOrderID, err)
	}

	order = m.setStatus(so.ClientOrderID, types.OrderStatusOpen, "", func(o *types.Order) {
		o.OfferID = result.OfferID
	})

	m.refreshAccount(ctx)

	return order, nil
}

func (m *Manager) settlePlaceError(clientOrderID string, err error) (types.Order, error) {
	switch ledger.Classify(err) {
	case ledger.ClassSuperseded:
		// the intent must be re-validated against fresh account state;
		// the order stays Submitted until the caller or the reconcile
		// sweep resolves it
		return m.annotate(clientOrderID, err.Error()), err

	case ledger.ClassTransient:
		if errors.Is(err, ledger.ErrTimedOut) {
			// outcome unknown: the order stays Submitted until a ledger
			// event or the reconcile sweep resolves it
			return m.annotate(clientOrderID, err.Error(), func(o *types.Order) {
				o.RetryCount++
			}), err
		}

		// retries exhausted on failures that never reached the network
		return m.setStatus(clientOrderID, types.OrderStatusFailed, err.Error()), err

	case ledger.ClassBackpressure, ledger.ClassCircuitOpen:
		// nothing reached the network; the order goes back to Pending so a
		// later attempt can pick it up
		return m.setStatus(clientOrderID, types.OrderStatusPending, err.Error()), err

	case ledger.ClassFatal:
		m.halt(err)
		return m.setStatus(clientOrderID, types.OrderStatusFailed, err.Error()), err

	default:
		return m.setStatus(clientOrderID, types.OrderStatusFailed, err.Error()), err
	}
}

// CancelOrder cancels a tracked order. A Pending order is cancelled
// synchronously with no network call; a working order goes through a
// ledger-cancel transaction. A timed-out cancel leaves the order in its
// prior state with CancelPending set: it is never assumed cancelled
// without confirmation.
func (m *Manager) CancelOrder(ctx context.Context, clientOrderID string) error {
	if err := m.checkHalted(); err != nil {
		return err
	}

	if err := m.acquire(clientOrderID); err != nil {
		return err
	}
	defer m.release(clientOrderID)

	order, ok := m.book.Get(clientOrderID)
	if !ok {
		return errors.Errorf("unknown order %s", clientOrderID)
	}

	if order.Status.IsTerminal() {
		return errors.Errorf("order %s is already %s", clientOrderID, order.Status)
	}

	if order.Status == types.OrderStatusPending {
		m.setStatus(clientOrderID, types.OrderStatusCancelled, "")
		return nil
	}

	if order.OfferID == 0 {
		// submitted but the ledger has not told us the offer id yet; flag
		// it and let the reconcile sweep finish the job
		m.annotate(clientOrderID, "cancel requested before offer id known", func(o *types.Order) {
			o.CancelPending = true
		})
		return nil
	}

	op := types.ManageOfferOp{
		OfferID: order.OfferID,
		Selling: mustSelling(order.SubmitOrder),
		Buying:  mustBuying(order.SubmitOrder),
		Amount:  fixedpoint.Zero,
		Price:   order.Price,
	}

	_, err := m.sub.Submit(ctx, submitter.OperationClassCancellation, m.config.AccountID, op)
	if err != nil {
		switch ledger.Classify(err) {
		case ledger.ClassTransient, ledger.ClassSuperseded:
			m.annotate(clientOrderID, err.Error(), func(o *types.Order) {
				o.CancelPending = true
			})
			return err

		case ledger.ClassBusinessRejection:
			var rejection *ledger.RejectionError
			if errors.As(err, &rejection) && rejection.Code == ledger.ResultOfferNotFound {
				// the offer already left the book; the next event or sweep
				// settles whether it filled or was cancelled externally
				m.annotate(clientOrderID, "offer not found on cancel", func(o *types.Order) {
					o.CancelPending = true
				})
			}
			return err

		case ledger.ClassFatal:
			m.halt(err)
			return err

		default:
			return err
		}
	}

	m.setStatus(clientOrderID, types.OrderStatusCancelled, "")
	m.refreshAccount(ctx)
	return nil
}

// AmendOrder changes price and/or quantity of a working order by issuing a
// manage-offer update for the same ledger offer id.
func (m *Manager) AmendOrder(
	ctx context.Context, clientOrderID string, newQuantity, newPrice fixedpoint.Value,
) (types.Order, error) {
	if err := m.checkHalted(); err != nil {
		return types.Order{}, err
	}

	if err := m.acquire(clientOrderID); err != nil {
		return types.Order{}, err
	}
	defer m.release(clientOrderID)

	order, ok := m.book.Get(clientOrderID)
	if !ok {
		return types.Order{}, errors.Errorf("unknown order %s", clientOrderID)
	}

	switch order.Status {
	case types.OrderStatusOpen, types.OrderStatusPartiallyFilled:
	default:
		return order, errors.Errorf("order %s is %s, only working orders can be amended",
			clientOrderID, order.Status)
	}

	if order.CancelPending {
		return order, errors.Errorf("order %s has a cancel pending", clientOrderID)
	}

	if newQuantity.Sign() <= 0 || newPrice.Sign() <= 0 {
		return order, errors.New("amend requires positive quantity and price")
	}

	op := types.ManageOfferOp{
		OfferID: order.OfferID,
		Selling: mustSelling(order.SubmitOrder),
		Buying:  mustBuying(order.SubmitOrder),
		Amount:  newQuantity,
		Price:   newPrice,
	}

	_, err := m.sub.Submit(ctx, submitter.OperationClassSubmission, m.config.AccountID, op)
	if err != nil {
		switch ledger.Classify(err) {
		case ledger.ClassTransient, ledger.ClassSuperseded:
			order = m.annotate(clientOrderID, err.Error(), func(o *types.Order) {
				o.RetryCount++
			})
		case ledger.ClassFatal:
			m.halt(err)
		}
		return order, err
	}

	order = m.annotate(clientOrderID, "", func(o *types.Order) {
		o.Quantity = newQuantity
		o.Price = newPrice
	})
	m.refreshAccount(ctx)

	return order, nil
}

// HandleEvent applies one ledger event to local state.
func (m *Manager) HandleEvent(ev ledger.Event) {
	switch ev.Type {
	case ledger.EventOfferFilled:
		order, ok := m.book.GetByOfferID(ev.OfferID)
		if !ok {
			m.logger.WithField("offerID", ev.OfferID).
				Debug("fill event for untracked offer")
			return
		}
		if order.Status.IsTerminal() {
			return
		}

		// the status is decided from the merged fill total, not the copy
		// read above, so a concurrent transition never loses this fill
		filled := false
		updated, ok := m.mutateOrder(order.ClientOrderID, func(o *types.Order) {
			o.ExecutedQuantity = o.ExecutedQuantity.Add(ev.FilledQuantity)
			if o.Remaining().IsZero() || ev.Remaining.IsZero() {
				o.Status = types.OrderStatusFilled
				o.LastError = ""
				filled = true
			} else {
				o.Status = types.OrderStatusPartiallyFilled
				o.LastError = ""
			}
		})
		if !ok {
			return
		}
		m.emitStatusChanged(updated)
		if filled {
			m.emitFilled(updated)
		}

	case ledger.EventOfferRemoved:
		order, ok := m.book.GetByOfferID(ev.OfferID)
		if !ok || order.Status.IsTerminal() {
			return
		}
		m.resolveRemovedOffer(order, "event")

	case ledger.EventAccountUpdated:
		if ev.Account != nil {
			m.accountMu.Lock()
			m.account = ev.Account
			m.accountMu.Unlock()
		}
	}
}

// resolveRemovedOffer decides the terminal state of an order whose offer
// left the ledger book without a full local fill record.
func (m *Manager) resolveRemovedOffer(order types.Order, source string) {
	// the terminal state is picked from the book copy under the lock so a
	// fill merged moments ago still counts
	var drifted bool
	updated, ok := m.mutateOrder(order.ClientOrderID, func(o *types.Order) {
		switch {
		case o.Remaining().IsZero():
			o.Status = types.OrderStatusFilled
			o.LastError = ""

		case o.CancelPending:
			o.Status = types.OrderStatusCancelled
			o.LastError = ""

		default:
			// removed without our doing: either filled via events we missed
			// or cancelled externally; flag the drift and close it out
			drifted = true
			o.Status = types.OrderStatusCancelled
			o.LastError = "closed by reconciliation"
		}
	})
	if !ok {
		return
	}

	if drifted {
		m.logger.WithFields(log.Fields{
			"order":  order.ClientOrderID,
			"source": source,
		}).Warn("data integrity: offer removed outside local tracking, marking cancelled")
		metrics.ReconcileCorrectionsTotal.WithLabelValues(m.config.AccountID).Inc()
	}

	m.emitStatusChanged(updated)
	switch updated.Status {
	case types.OrderStatusFilled:
		m.emitFilled(updated)
	case types.OrderStatusCancelled:
		m.emitCanceled(updated)
	}
}

func (m *Manager) precheckReserve(ctx context.Context, so types.SubmitOrder) error {
	snapshot := m.refreshAccount(ctx)
	if snapshot == nil {
		return errors.Wrapf(ledger.ErrUnknownAccount, "account %s", m.config.AccountID)
	}

	selling, buying := so.SellingBuying()

	if !snapshot.HasTrustline(buying) {
		return &ledger.RejectionError{
			Code:      ledger.ResultNoTrustline,
			AccountID: m.config.AccountID,
		}
	}

	var outgoing fixedpoint.Value
	if selling.IsNative() {
		outgoing = so.Quantity
		if so.Side == types.SideTypeBuy {
			outgoing = so.Quantity.Mul(so.Price)
		}
	}

	// a new offer adds one ledger entry
	if m.calc.WouldExceedReserve(snapshot, 1, outgoing) {
		available, _ := m.calc.AvailableBalance(snapshot)
		return errors.Wrapf(ledger.ErrBelowReserve,
			"available %s, required %s", available, outgoing)
	}

	return nil
}

func (m *Manager) refreshAccount(ctx context.Context) *types.AccountSnapshot {
	var snapshot *types.AccountSnapshot

	err := backoff.RetryQuery(ctx, func() (err2 error) {
		snapshot, err2 = m.client.GetAccount(ctx, m.config.AccountID)
		return err2
	})
	if err != nil {
		m.logger.WithError(err).Warn("can not refresh account snapshot")
		m.accountMu.Lock()
		defer m.accountMu.Unlock()
		return m.account
	}

	m.accountMu.Lock()
	m.account = snapshot
	m.accountMu.Unlock()
	return snapshot
}

func (m *Manager) checkHalted() error {
	m.accountMu.Lock()
	defer m.accountMu.Unlock()

	if m.halted {
		return errors.Wrapf(ledger.ErrHalted, "account %s", m.config.AccountID)
	}
	return nil
}

func (m *Manager) halt(cause error) {
	m.accountMu.Lock()
	m.halted = true
	m.accountMu.Unlock()

	m.logger.WithError(cause).Error("fatal error, halting all operations for this account")
}

// Resume lifts a halt after manual or automated reconciliation.
func (m *Manager) Resume() {
	m.accountMu.Lock()
	m.halted = false
	m.accountMu.Unlock()
}

func (m *Manager) acquire(clientOrderID string) error {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	if _, ok := m.inflight[clientOrderID]; ok {
		return errors.Wrapf(ledger.ErrOperationInProgress, "order %s", clientOrderID)
	}
	m.inflight[clientOrderID] = struct{}{}
	return nil
}

func (m *Manager) release(clientOrderID string) {
	m.inflightMu.Lock()
	delete(m.inflight, clientOrderID)
	m.inflightMu.Unlock()
}

// mutateOrder applies a transition to the current book copy of the order
// under the book lock, enforcing terminal-state immutability. Concurrent
// updates (a fill event landing during an in-flight cancel) are never
// overwritten by stale reads. The bool is false when the order is unknown
// or terminal.
func (m *Manager) mutateOrder(clientOrderID string, mutate func(o *types.Order)) (types.Order, bool) {
	var refused types.OrderStatus

	updated, ok := m.book.Apply(clientOrderID, func(o *types.Order) {
		if o.Status.IsTerminal() {
			refused = o.Status
			return
		}

		mutate(o)
		o.UpdateTime = time.Now()
		if o.Status.IsTerminal() {
			o.CancelPending = false
		}
	})
	if !ok {
		return updated, false
	}

	if refused != "" {
		m.logger.WithFields(log.Fields{
			"order": clientOrderID,
			"from":  refused,
		}).Error("data integrity: refusing transition out of terminal state")
		return updated, false
	}

	m.publishOpenOrdersGauge()
	return updated, true
}

// setStatus applies a status transition plus optional field mutations and
// emits callbacks. It returns the updated order.
func (m *Manager) setStatus(
	clientOrderID string, status types.OrderStatus, lastError string, mutations ...func(o *types.Order),
) types.Order {
	updated, ok := m.mutateOrder(clientOrderID, func(o *types.Order) {
		for _, mutate := range mutations {
			mutate(o)
		}
		o.Status = status
		o.LastError = lastError
	})
	if !ok {
		return updated
	}

	m.emitStatusChanged(updated)
	switch updated.Status {
	case types.OrderStatusFilled:
		m.emitFilled(updated)
	case types.OrderStatusCancelled:
		m.emitCanceled(updated)
	}

	return updated
}

// annotate updates bookkeeping fields without a status transition.
func (m *Manager) annotate(
	clientOrderID string, lastError string, mutations ...func(o *types.Order),
) types.Order {
	updated, _ := m.mutateOrder(clientOrderID, func(o *types.Order) {
		for _, mutate := range mutations {
			mutate(o)
		}
		o.LastError = lastError
	})
	return updated
}

func (m *Manager) publishOpenOrdersGauge() {
	metrics.OpenOrders.WithLabelValues(m.config.AccountID).
		Set(float64(len(m.book.OpenOrders())))
}

func (m *Manager) emitStatusChanged(order types.Order) {
	m.callbackMu.Lock()
	cbs := m.statusChangedCallbacks
	m.callbackMu.Unlock()

	for _, cb := range cbs {
		cb(order)
	}
}

func (m *Manager) emitFilled(order types.Order) {
	m.callbackMu.Lock()
	cbs := m.filledCallbacks
	m.callbackMu.Unlock()

	for _, cb := range cbs {
		cb(order)
	}
}

func (m *Manager) emitCanceled(order types.Order) {
	m.callbackMu.Lock()
	cbs := m.canceledCallbacks
	m.callbackMu.Unlock()

	for _, cb := range cbs {
		cb(order)
	}
}

func mustSelling(so types.SubmitOrder) types.Asset {
	selling, _ := so.SellingBuying()
	return selling
}

func mustBuying(so types.SubmitOrder) types.Asset {
	_, buying := so.SellingBuying()
	return buying
}
