package types

import (
	"time"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
)

// Trustline is an account-level authorization to hold a non-native asset.
type Trustline struct {
	Asset      Asset            `json:"asset"`
	Limit      fixedpoint.Value `json:"limit"`
	Balance    fixedpoint.Value `json:"balance"`
	Authorized bool             `json:"authorized"`
}

// Offer is a resting order on the ledger's order book, owned by an account.
type Offer struct {
	OfferID int64            `json:"offerID"`
	Selling Asset            `json:"selling"`
	Buying  Asset            `json:"buying"`
	Amount  fixedpoint.Value `json:"amount"`
	Price   fixedpoint.Value `json:"price"`
}

// Signer is one entry of an account's signer list.
type Signer struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

// AccountSnapshot is a point-in-time view of an account as observed from
// the network. Snapshots are never mutated in place; a refresh produces a
// new snapshot.
type AccountSnapshot struct {
	AccountID string `json:"accountID"`

	// Sequence is the sequence number of the last transaction the ledger
	// applied for this account.
	Sequence int64 `json:"sequence"`

	NativeBalance fixedpoint.Value `json:"nativeBalance"`

	Trustlines  []Trustline `json:"trustlines,omitempty"`
	Offers      []Offer     `json:"offers,omitempty"`
	Signers     []Signer    `json:"signers,omitempty"`
	DataEntries int         `json:"dataEntries,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Balance returns the balance the account holds for the given asset;
// zero and false when no trustline exists.
func (a *AccountSnapshot) Balance(asset Asset) (fixedpoint.Value, bool) {
	if asset.IsNative() {
		return a.NativeBalance, true
	}

	for _, tl := range a.Trustlines {
		if tl.Asset == asset {
			return tl.Balance, true
		}
	}

	return fixedpoint.Zero, false
}

// HasTrustline reports whether the account holds an authorized trustline
// for the asset. The native asset needs no trustline.
func (a *AccountSnapshot) HasTrustline(asset Asset) bool {
	if asset.IsNative() {
		return true
	}

	for _, tl := range a.Trustlines {
		if tl.Asset == asset && tl.Authorized {
			return true
		}
	}

	return false
}

// FindOffer returns the open offer with the given ledger offer id.
func (a *AccountSnapshot) FindOffer(offerID int64) (Offer, bool) {
	for _, o := range a.Offers {
		if o.OfferID == offerID {
			return o, true
		}
	}

	return Offer{}, false
}
