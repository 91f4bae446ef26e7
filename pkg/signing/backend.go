// Package signing abstracts transaction signing behind a capability
// interface so HSM, hardware-wallet and software-key backends are
// interchangeable. Signing is potentially slow and interactive: callers
// must pass a context and must never auto-retry a user rejection.
package signing

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lumebot/lumebot/pkg/types"
)

// KeyHandle names a key inside a backend. Its format is backend-specific.
type KeyHandle string

var (
	ErrDeviceNotPresent = errors.New("signing device not present")
	ErrUserRejected     = errors.New("signing request rejected by user")
	ErrTimeout          = errors.New("signing request timed out")
	ErrInvalidKeyHandle = errors.New("invalid key handle")
)

// Backend signs transaction digests. Implementations must honor ctx
// cancellation; a hardware backend may block on user interaction for an
// arbitrarily long time.
type Backend interface {
	Sign(ctx context.Context, digest []byte, key KeyHandle) (types.Signature, error)
}
