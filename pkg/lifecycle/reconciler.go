package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/metrics"
	"github.com/lumebot/lumebot/pkg/submitter"
	"github.com/lumebot/lumebot/pkg/types"
	"github.com/lumebot/lumebot/pkg/util/backoff"
)

// Run consumes the account's ledger event stream and drives the periodic
// reconcile and expiry sweeps. It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	events := make(chan ledger.Event)

	go m.streamLoop(ctx, events)

	reconcileTicker := time.NewTicker(m.config.ReconcileInterval.Duration())
	defer reconcileTicker.Stop()

	expiryTicker := time.NewTicker(m.config.ExpiryCheckInterval.Duration())
	defer expiryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-events:
			m.HandleEvent(ev)

		case <-reconcileTicker.C:
			if err := m.Reconcile(ctx); err != nil {
				m.logger.WithError(err).Warn("reconcile sweep failed")
			}

		case <-expiryTicker.C:
			m.expireStaleOrders(ctx, time.Now())
		}
	}
}

// streamLoop keeps an event stream open, reconnecting with backoff when
// the transport drops it.
func (m *Manager) streamLoop(ctx context.Context, events chan<- ledger.Event) {
	for {
		var stream ledger.EventStream

		err := backoff.RetryGeneral(ctx, func() (err2 error) {
			stream, err2 = m.client.StreamEvents(ctx, m.config.AccountID)
			return err2
		})
		if err != nil {
			if ctx.Err() == nil {
				m.logger.WithError(err).Error("can not open event stream")
			}
			return
		}

		for ev := range stream.Events() {
			select {
			case events <- ev:
			case <-ctx.Done():
				_ = stream.Close()
				return
			}
		}

		if ctx.Err() != nil {
			return
		}

		if streamErr := stream.Err(); streamErr != nil {
			m.logger.WithError(streamErr).Warn("event stream dropped, reconnecting")
		}
	}
}

// Reconcile compares locally tracked working orders against the ledger's
// authoritative open-offer list and corrects any drift. Every correction
// is logged as a data-integrity event. It also unsticks sequence slots
// leaked by timed-out submissions.
func (m *Manager) Reconcile(ctx context.Context) error {
	offers, err := m.client.OpenOffers(ctx, m.config.AccountID)
	if err != nil {
		return errors.Wrap(err, "can not list open offers")
	}

	onLedger := make(map[int64]types.Offer, len(offers))
	for _, offer := range offers {
		onLedger[offer.OfferID] = offer
	}

	var errs error

	for _, order := range m.book.OpenOrders() {
		switch order.Status {
		case types.OrderStatusOpen, types.OrderStatusPartiallyFilled:
			offer, stillOpen := onLedger[order.OfferID]
			if !stillOpen {
				m.resolveRemovedOffer(order, "reconcile")
				continue
			}

			// a fill we missed shrinks the resting amount
			executed := order.Quantity.Sub(offer.Amount)
			if executed.Compare(order.ExecutedQuantity) > 0 {
				m.logger.WithFields(log.Fields{
					"order":    order.ClientOrderID,
					"tracked":  order.ExecutedQuantity.String(),
					"observed": executed.String(),
				}).Warn("data integrity: missed fill recovered by reconcile")
				metrics.ReconcileCorrectionsTotal.WithLabelValues(m.config.AccountID).Inc()

				m.setStatus(order.ClientOrderID, types.OrderStatusPartiallyFilled, "",
					func(o *types.Order) {
						if executed.Compare(o.ExecutedQuantity) > 0 {
							o.ExecutedQuantity = executed
						}
					})
			}

			if order.CancelPending {
				// a cancel we could not confirm: the offer is still there,
				// so retry the cancel through the normal path
				if cancelErr := m.CancelOrder(ctx, order.ClientOrderID); cancelErr != nil {
					errs = multierr.Append(errs,
						errors.Wrapf(cancelErr, "retry cancel %s", order.ClientOrderID))
				}
			}

		case types.OrderStatusSubmitted:
			// a submission whose outcome never came back; try to match it
			// to a ledger offer by denomination, price, and amount
			if order.OfferID != 0 {
				continue
			}

			if offer, matched := matchOffer(onLedger, order); matched {
				m.logger.WithFields(log.Fields{
					"order":   order.ClientOrderID,
					"offerID": offer.OfferID,
				}).Warn("data integrity: submitted order recovered from ledger state")
				metrics.ReconcileCorrectionsTotal.WithLabelValues(m.config.AccountID).Inc()

				delete(onLedger, offer.OfferID)
				m.setStatus(order.ClientOrderID, types.OrderStatusOpen, "",
					func(o *types.Order) {
						o.OfferID = offer.OfferID
					})
			}
		}
	}

	// unstick sequence slots left pending by timed-out submissions
	if m.allocator != nil && m.allocator.PendingSlots(m.config.AccountID) > 0 {
		if snapshot := m.refreshAccount(ctx); snapshot != nil {
			m.logger.Warn("data integrity: resyncing sequence to clear stuck slots")
			m.allocator.Resync(m.config.AccountID, snapshot.Sequence)
		}
	}

	return errs
}

// matchOffer pairs an orphaned submitted order with an untracked ledger
// offer carrying the same denomination, price, and full amount.
func matchOffer(onLedger map[int64]types.Offer, order types.Order) (types.Offer, bool) {
	selling, buying := order.SellingBuying()
	for _, offer := range onLedger {
		if offer.Selling == selling && offer.Buying == buying &&
			offer.Price == order.Price && offer.Amount == order.Quantity {
			return offer, true
		}
	}
	return types.Offer{}, false
}

// expireStaleOrders transitions non-terminal orders past their
// caller-supplied deadline to Expired, issuing a best-effort ledger cancel
// for orders that are still resting.
func (m *Manager) expireStaleOrders(ctx context.Context, now time.Time) {
	for _, order := range m.book.OpenOrders() {
		if order.ExpireAt.IsZero() || now.Before(order.ExpireAt) {
			continue
		}

		// an in-flight user operation owns the order right now; this sweep
		// runs again soon enough, so skip rather than queue behind it
		if err := m.acquire(order.ClientOrderID); err != nil {
			continue
		}

		if order.OfferID != 0 {
			op := types.ManageOfferOp{
				OfferID: order.OfferID,
				Selling: mustSelling(order.SubmitOrder),
				Buying:  mustBuying(order.SubmitOrder),
				Price:   order.Price,
			}
			if _, err := m.sub.Submit(ctx, submitter.OperationClassCancellation, m.config.AccountID, op); err != nil {
				m.logger.WithError(err).
					WithField("order", order.ClientOrderID).
					Warn("best-effort cancel of expired order failed")
			}
		}

		m.setStatus(order.ClientOrderID, types.OrderStatusExpired, "expired by caller-supplied deadline")
		m.release(order.ClientOrderID)
	}
}
