package types

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
)

type OperationType string

const (
	OperationTypeManageOffer OperationType = "MANAGE_OFFER"
	OperationTypePayment     OperationType = "PAYMENT"
	OperationTypePathPayment OperationType = "PATH_PAYMENT"
)

// Operation is one ledger-mutating entry of a transaction.
type Operation interface {
	OperationType() OperationType
}

// ManageOfferOp creates, amends, or cancels a resting offer. OfferID zero
// creates a new offer; a non-zero OfferID with Amount zero cancels it.
type ManageOfferOp struct {
	OfferID int64            `json:"offerID"`
	Selling Asset            `json:"selling"`
	Buying  Asset            `json:"buying"`
	Amount  fixedpoint.Value `json:"amount"`
	Price   fixedpoint.Value `json:"price"`
}

func (ManageOfferOp) OperationType() OperationType { return OperationTypeManageOffer }

// IsCancel reports whether the operation removes an existing offer.
func (op ManageOfferOp) IsCancel() bool {
	return op.OfferID != 0 && op.Amount.IsZero()
}

type PaymentOp struct {
	Destination string           `json:"destination"`
	Asset       Asset            `json:"asset"`
	Amount      fixedpoint.Value `json:"amount"`
}

func (PaymentOp) OperationType() OperationType { return OperationTypePayment }

// PathPaymentOp converts SendAsset through the given intermediate assets so
// the destination receives DestAmount of DestAsset. The ledger applies the
// whole conversion atomically.
type PathPaymentOp struct {
	SendAsset   Asset            `json:"sendAsset"`
	SendMax     fixedpoint.Value `json:"sendMax"`
	Destination string           `json:"destination"`
	DestAsset   Asset            `json:"destAsset"`
	DestAmount  fixedpoint.Value `json:"destAmount"`
	Path        []Asset          `json:"path,omitempty"`
}

func (PathPaymentOp) OperationType() OperationType { return OperationTypePathPayment }

// Transaction is an unsigned, sequence-numbered bundle of operations for a
// single source account. The wire-level encoding belongs to the network
// client; the core only needs a stable digest to sign.
type Transaction struct {
	SourceAccount string      `json:"sourceAccount"`
	Sequence      int64       `json:"sequence"`
	Operations    []Operation `json:"operations"`
	Memo          string      `json:"memo,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type txEnvelope struct {
	SourceAccount string       `json:"sourceAccount"`
	Sequence      int64        `json:"sequence"`
	Operations    []opEnvelope `json:"operations"`
	Memo          string       `json:"memo,omitempty"`
}

type opEnvelope struct {
	Type OperationType `json:"type"`
	Body Operation     `json:"body"`
}

// Hash returns the digest the signing backend signs. CreatedAt is excluded
// so rebuilding the same logical transaction yields the same digest.
func (tx *Transaction) Hash() ([]byte, error) {
	env := txEnvelope{
		SourceAccount: tx.SourceAccount,
		Sequence:      tx.Sequence,
		Memo:          tx.Memo,
	}
	for _, op := range tx.Operations {
		env.Operations = append(env.Operations, opEnvelope{Type: op.OperationType(), Body: op})
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(payload)
	return sum[:], nil
}

// Signature is a single decorated signature over a transaction hash.
type Signature struct {
	KeyHint string `json:"keyHint"`
	Payload []byte `json:"payload"`
}

// SignedTransaction is what the network client submits.
type SignedTransaction struct {
	Transaction
	Signatures []Signature `json:"signatures"`
}
