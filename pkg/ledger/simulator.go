package ledger

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/types"
)

// Simulator is an in-memory NetworkClient used by local runs and tests.
// It applies sequence checking, reserve checking, and offer bookkeeping
// with the same result codes a real network returns, and feeds fills and
// removals to event stream subscribers.
type Simulator struct {
	mu sync.Mutex

	accounts map[string]*types.AccountSnapshot

	ledgerSeq   int64
	nextOfferID int64

	baseReserve  fixedpoint.Value
	entryReserve fixedpoint.Value

	subscribers map[string][]*simStream

	logger log.FieldLogger
}

func NewSimulator() *Simulator {
	return &Simulator{
		accounts:     make(map[string]*types.AccountSnapshot),
		ledgerSeq:    1,
		nextOfferID:  1,
		baseReserve:  fixedpoint.One,
		entryReserve: fixedpoint.NewFromFloat(0.5),
		subscribers:  make(map[string][]*simStream),
		logger:       log.WithField("component", "simulator"),
	}
}

// AddAccount seeds an account. The snapshot is copied.
func (s *Simulator) AddAccount(snapshot types.AccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.UpdatedAt = time.Now()
	s.accounts[snapshot.AccountID] = &snapshot
}

func (s *Simulator) GetAccount(ctx context.Context, accountID string) (*types.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, errors.Errorf("account %s not found", accountID)
	}

	snapshot := *account
	snapshot.Trustlines = append([]types.Trustline(nil), account.Trustlines...)
	snapshot.Offers = append([]types.Offer(nil), account.Offers...)
	snapshot.Signers = append([]types.Signer(nil), account.Signers...)
	return &snapshot, nil
}

func (s *Simulator) SubmitTransaction(ctx context.Context, tx *types.SignedTransaction) (*SubmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[tx.SourceAccount]
	if !ok {
		return &SubmissionResult{Code: ResultBadSequence}, nil
	}

	if len(tx.Signatures) == 0 {
		return &SubmissionResult{Code: ResultBadSignature}, nil
	}

	if tx.Sequence != account.Sequence+1 {
		return &SubmissionResult{Code: ResultBadSequence}, nil
	}

	// the sequence is consumed by any well-formed transaction, accepted
	// or not, matching real ledger semantics
	account.Sequence = tx.Sequence
	s.ledgerSeq++

	var txHash string
	if digest, err := tx.Transaction.Hash(); err == nil {
		txHash = hex.EncodeToString(digest)
	}

	result := &SubmissionResult{
		Code:      ResultSuccess,
		TxHash:    txHash,
		LedgerSeq: s.ledgerSeq,
	}

	for _, op := range tx.Operations {
		code, offerID := s.applyLocked(account, op)
		if code != ResultSuccess {
			// all operations apply atomically
			return &SubmissionResult{Code: code, TxHash: result.TxHash}, nil
		}
		if offerID != 0 {
			result.OfferID = offerID
		}
	}

	account.UpdatedAt = time.Now()
	snapshot := *account
	s.broadcastLocked(Event{
		Type:      EventAccountUpdated,
		AccountID: account.AccountID,
		Account:   &snapshot,
	})

	return result, nil
}

func (s *Simulator) applyLocked(account *types.AccountSnapshot, op types.Operation) (ResultCode, int64) {
	switch o := op.(type) {
	case types.ManageOfferOp:
		return s.applyManageOfferLocked(account, o)

	case types.PaymentOp:
		return s.applyPaymentLocked(account, o.Destination, o.Asset, o.Amount), 0

	case types.PathPaymentOp:
		// conversion depth is not modeled; the send side is debited at
		// the destination amount
		return s.applyPaymentLocked(account, o.Destination, o.DestAsset, o.DestAmount), 0

	default:
		return ResultTooLate, 0
	}
}

func (s *Simulator) applyManageOfferLocked(account *types.AccountSnapshot, op types.ManageOfferOp) (ResultCode, int64) {
	if op.OfferID != 0 {
		idx := -1
		for i := range account.Offers {
			if account.Offers[i].OfferID == op.OfferID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ResultOfferNotFound, 0
		}

		if op.IsCancel() {
			account.Offers = append(account.Offers[:idx], account.Offers[idx+1:]...)
			s.broadcastLocked(Event{
				Type:      EventOfferRemoved,
				AccountID: account.AccountID,
				OfferID:   op.OfferID,
			})
			return ResultSuccess, op.OfferID
		}

		account.Offers[idx].Amount = op.Amount
		account.Offers[idx].Price = op.Price
		return ResultSuccess, op.OfferID
	}

	if !op.Buying.IsNative() && !account.HasTrustline(op.Buying) {
		return ResultNoTrustline, 0
	}

	// a new offer adds one ledger entry
	if op.Selling.IsNative() {
		outgoing := op.Amount
		if s.wouldBreakReserveLocked(account, 1, outgoing) {
			return ResultBelowReserve, 0
		}
	} else if s.wouldBreakReserveLocked(account, 1, fixedpoint.Zero) {
		return ResultBelowReserve, 0
	}

	s.nextOfferID++
	offer := types.Offer{
		OfferID: s.nextOfferID,
		Selling: op.Selling,
		Buying:  op.Buying,
		Amount:  op.Amount,
		Price:   op.Price,
	}
	account.Offers = append(account.Offers, offer)

	return ResultSuccess, offer.OfferID
}

func (s *Simulator) applyPaymentLocked(source *types.AccountSnapshot, destination string, asset types.Asset, amount fixedpoint.Value) ResultCode {
	if asset.IsNative() {
		if s.wouldBreakReserveLocked(source, 0, amount) {
			return ResultBelowReserve
		}
		source.NativeBalance = source.NativeBalance.Sub(amount)

		if dest, ok := s.accounts[destination]; ok {
			dest.NativeBalance = dest.NativeBalance.Add(amount)
		}
		return ResultSuccess
	}

	for i := range source.Trustlines {
		if source.Trustlines[i].Asset == asset {
			if source.Trustlines[i].Balance.Compare(amount) < 0 {
				return ResultInsufficientBalance
			}
			source.Trustlines[i].Balance = source.Trustlines[i].Balance.Sub(amount)
			return ResultSuccess
		}
	}
	return ResultNoTrustline
}

func (s *Simulator) wouldBreakReserveLocked(account *types.AccountSnapshot, newEntries int, outgoing fixedpoint.Value) bool {
	entries := len(account.Trustlines) + len(account.Offers) + account.DataEntries + newEntries
	if extra := len(account.Signers) - 1; extra > 0 {
		entries += extra
	}

	minimum := s.baseReserve.Add(s.entryReserve.Mul(fixedpoint.NewFromInt(entries)))
	return account.NativeBalance.Sub(outgoing).Compare(minimum) < 0
}

// Fill simulates a counterparty consuming part of an offer, emitting fill
// and removal events the way a network stream would.
func (s *Simulator) Fill(accountID string, offerID int64, amount fixedpoint.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return errors.Errorf("account %s not found", accountID)
	}

	for i := range account.Offers {
		offer := &account.Offers[i]
		if offer.OfferID != offerID {
			continue
		}

		if amount.Compare(offer.Amount) >= 0 {
			filled := offer.Amount
			account.Offers = append(account.Offers[:i], account.Offers[i+1:]...)
			s.broadcastLocked(Event{
				Type:           EventOfferFilled,
				AccountID:      accountID,
				OfferID:        offerID,
				FilledQuantity: filled,
				FilledPrice:    offer.Price,
				Remaining:      fixedpoint.Zero,
			})
			return nil
		}

		offer.Amount = offer.Amount.Sub(amount)
		s.broadcastLocked(Event{
			Type:           EventOfferFilled,
			AccountID:      accountID,
			OfferID:        offerID,
			FilledQuantity: amount,
			FilledPrice:    offer.Price,
			Remaining:      offer.Amount,
		})
		return nil
	}

	return errors.Errorf("offer %d not found", offerID)
}

func (s *Simulator) OpenOffers(ctx context.Context, accountID string) ([]types.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, errors.Errorf("account %s not found", accountID)
	}

	return append([]types.Offer(nil), account.Offers...), nil
}

func (s *Simulator) StreamEvents(ctx context.Context, accountID string) (EventStream, error) {
	stream := &simStream{
		sim:       s,
		accountID: accountID,
		events:    make(chan Event, 64),
	}

	s.mu.Lock()
	s.subscribers[accountID] = append(s.subscribers[accountID], stream)
	s.mu.Unlock()

	return stream, nil
}

func (s *Simulator) broadcastLocked(ev Event) {
	for _, stream := range s.subscribers[ev.AccountID] {
		select {
		case stream.events <- ev:
		default:
			s.logger.WithField("account", ev.AccountID).
				Warn("subscriber buffer full, dropping event")
		}
	}
}

type simStream struct {
	sim       *Simulator
	accountID string

	events chan Event

	closeOnce sync.Once
}

func (st *simStream) Events() <-chan Event {
	return st.events
}

func (st *simStream) Err() error {
	return nil
}

func (st *simStream) Close() error {
	st.closeOnce.Do(func() {
		st.sim.mu.Lock()
		subs := st.sim.subscribers[st.accountID]
		for i, sub := range subs {
			if sub == st {
				st.sim.subscribers[st.accountID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		st.sim.mu.Unlock()

		close(st.events)
	})
	return nil
}
