package types

import (
	"strings"

	"github.com/pkg/errors"
)

// NativeAssetCode is the code used for the ledger's native currency.
const NativeAssetCode = "XLM"

// Asset identifies a currency on the ledger. The native asset has no
// issuer; every other asset is scoped to the account that issued it.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

func NativeAsset() Asset {
	return Asset{Code: NativeAssetCode}
}

func (a Asset) IsNative() bool {
	return a.Issuer == ""
}

func (a Asset) String() string {
	if a.IsNative() {
		return a.Code
	}
	return a.Code + ":" + a.Issuer
}

// ParseAsset parses "CODE" (native) or "CODE:ISSUER".
func ParseAsset(s string) (Asset, error) {
	parts := strings.SplitN(s, ":", 2)
	if parts[0] == "" {
		return Asset{}, errors.Errorf("invalid asset %q", s)
	}

	if len(parts) == 1 {
		return Asset{Code: parts[0]}, nil
	}

	if parts[1] == "" {
		return Asset{}, errors.Errorf("invalid asset %q: empty issuer", s)
	}

	return Asset{Code: parts[0], Issuer: parts[1]}, nil
}

// TradingPair is a base/quote denomination pair.
type TradingPair struct {
	Base  Asset `json:"base"`
	Quote Asset `json:"quote"`
}

func (p TradingPair) String() string {
	return p.Base.String() + "/" + p.Quote.String()
}
