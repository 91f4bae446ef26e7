// Package ledger defines the contract between the trading core and the
// network client that talks to the ledger's public API, together with the
// shared error taxonomy the core uses to classify outcomes.
package ledger

import (
	"context"
	"time"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/types"
)

// NetworkClient is the transport-level collaborator. Implementations own
// HTTP/streaming concerns, transport retries and endpoint failover; the
// core only classifies the results it gets back.
type NetworkClient interface {
	// GetAccount loads the current snapshot of an account.
	GetAccount(ctx context.Context, accountID string) (*types.AccountSnapshot, error)

	// SubmitTransaction submits a signed transaction and reports the
	// ledger's verdict. A transport-level failure is returned as an error;
	// a transaction the ledger saw and rejected is a result with a
	// non-success code, not an error.
	SubmitTransaction(ctx context.Context, tx *types.SignedTransaction) (*SubmissionResult, error)

	// StreamEvents opens an event stream for the account. The stream ends
	// when ctx is cancelled or the transport drops.
	StreamEvents(ctx context.Context, accountID string) (EventStream, error)

	// OpenOffers lists the account's resting offers as the ledger sees
	// them, used by the reconcile sweep.
	OpenOffers(ctx context.Context, accountID string) ([]types.Offer, error)
}

// ResultCode is the ledger's verdict on a submitted transaction.
type ResultCode string

const (
	ResultSuccess ResultCode = "SUCCESS"

	// ResultBadSequence means the transaction's sequence number did not
	// match the account's next expected value. The sequence was not
	// consumed.
	ResultBadSequence ResultCode = "BAD_SEQUENCE"

	ResultInsufficientBalance ResultCode = "INSUFFICIENT_BALANCE"
	ResultBelowReserve        ResultCode = "BELOW_RESERVE"
	ResultNoTrustline         ResultCode = "NO_TRUSTLINE"
	ResultNotAuthorized       ResultCode = "NOT_AUTHORIZED"
	ResultBadSignature        ResultCode = "BAD_SIGNATURE"
	ResultOfferNotFound       ResultCode = "OFFER_NOT_FOUND"
	ResultNoPath              ResultCode = "NO_PATH"
	ResultTooLate             ResultCode = "TOO_LATE"
)

// SubmissionResult is the outcome of a transaction the ledger processed.
type SubmissionResult struct {
	Code      ResultCode `json:"code"`
	TxHash    string     `json:"txHash"`
	LedgerSeq int64      `json:"ledgerSeq"`

	// OfferID is set for manage-offer transactions that created or kept a
	// resting offer.
	OfferID int64 `json:"offerID,omitempty"`
}

func (r *SubmissionResult) OK() bool {
	return r.Code == ResultSuccess
}

type EventType string

const (
	// EventOfferFilled reports a (possibly partial) fill against one of
	// the account's offers.
	EventOfferFilled EventType = "OFFER_FILLED"

	// EventOfferRemoved reports that an offer left the book: fully
	// consumed, cancelled, or pruned by the ledger.
	EventOfferRemoved EventType = "OFFER_REMOVED"

	// EventAccountUpdated reports a balance/sequence change.
	EventAccountUpdated EventType = "ACCOUNT_UPDATED"
)

// Event is one entry of an account's event stream.
type Event struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"accountID"`
	OfferID   int64     `json:"offerID,omitempty"`

	// FilledQuantity is the base amount traded in this fill event.
	FilledQuantity fixedpoint.Value `json:"filledQuantity,omitempty"`
	FilledPrice    fixedpoint.Value `json:"filledPrice,omitempty"`

	// Remaining is the amount still resting after the fill; zero means the
	// offer was fully consumed.
	Remaining fixedpoint.Value `json:"remaining,omitempty"`

	Account *types.AccountSnapshot `json:"account,omitempty"`

	LedgerSeq int64     `json:"ledgerSeq"`
	Time      time.Time `json:"time"`
}

// EventStream delivers ledger events in order. Err reports why the stream
// ended once the Events channel is closed.
type EventStream interface {
	Events() <-chan Event
	Err() error
	Close() error
}
