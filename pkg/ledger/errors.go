package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Class partitions every failure the core can see into exactly one retry
// behavior. Retry decisions are made from the class, never from string
// matching at call sites.
type Class int

const (
	// ClassTransient errors (network timeout, rate limit) may be retried
	// per the submitter's policy.
	ClassTransient Class = iota

	// ClassSuperseded means a sequence resync invalidated the operation;
	// the caller must re-validate intent against fresh account state
	// before resubmitting. Never auto-retried.
	ClassSuperseded

	// ClassBusinessRejection covers ledger verdicts like insufficient
	// balance or a missing trustline. Never retried.
	ClassBusinessRejection

	// ClassBackpressure covers explicit caller-visible pushback:
	// Busy, OperationInProgress.
	ClassBackpressure

	// ClassCircuitOpen means the circuit breaker rejected the call before
	// any network activity.
	ClassCircuitOpen

	// ClassFatal halts further operations on the affected account until
	// reconciliation: invalid key handle, corrupted local state.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassSuperseded:
		return "superseded"
	case ClassBusinessRejection:
		return "business-rejection"
	case ClassBackpressure:
		return "backpressure"
	case ClassCircuitOpen:
		return "circuit-open"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	// ErrTimedOut means the submission outcome is unknown: the transaction
	// may or may not have reached the network. The caller must re-query
	// observed state before retrying.
	ErrTimedOut = errors.New("submission timed out, outcome unknown")

	// ErrSuperseded means the account's cached sequence was resynced while
	// the operation was outstanding.
	ErrSuperseded = errors.New("sequence superseded, re-validate against current account state")

	// ErrBusy means a sequence slot is already pending for the account and
	// pipelining is disabled.
	ErrBusy = errors.New("a sequence slot is already pending for this account")

	// ErrUnknownAccount means no cached sequence exists and no network
	// refresh is possible.
	ErrUnknownAccount = errors.New("unknown account: no cached sequence and no refresh source")

	// ErrOperationInProgress means another mutating operation holds the
	// order's in-flight gate.
	ErrOperationInProgress = errors.New("another operation is in progress for this order")

	// ErrBelowReserve means the operation would push the account's native
	// balance under its minimum reserve.
	ErrBelowReserve = errors.New("operation would leave balance below the minimum reserve")

	// ErrHalted means a fatal error froze the account pending
	// reconciliation.
	ErrHalted = errors.New("account is halted pending reconciliation")
)

// CircuitOpenError is returned when the breaker rejects a call without
// touching the network.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry after %s", e.RetryAfter)
}

// RejectionError carries the ledger's verdict plus enough context for the
// caller to decide on resubmission.
type RejectionError struct {
	Code      ResultCode
	AccountID string
	TxHash    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("ledger rejected transaction %s for account %s: %s", e.TxHash, e.AccountID, e.Code)
}

// FatalError wraps a failure that must halt further operations on the
// affected account: an invalid key handle, corrupted local state.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// TransientError wraps a network-layer failure that is known not to have
// delivered the transaction, so it is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ClassifyResult maps a non-success ledger verdict to a class.
// ResultBadSequence classifies as Superseded because the submitter resyncs
// the allocator before surfacing it.
func ClassifyResult(code ResultCode) Class {
	switch code {
	case ResultBadSequence:
		return ClassSuperseded
	case ResultBadSignature:
		return ClassFatal
	default:
		return ClassBusinessRejection
	}
}

// Classify maps any error the core produces or passes through to a class.
// Unknown errors classify as transient: the transport owns its own error
// surface and anything unrecognized from it is by definition a delivery
// failure.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient

	case errors.Is(err, ErrSuperseded):
		return ClassSuperseded

	case errors.Is(err, ErrBusy), errors.Is(err, ErrOperationInProgress):
		return ClassBackpressure

	case errors.Is(err, ErrBelowReserve), errors.Is(err, ErrUnknownAccount):
		return ClassBusinessRejection

	case errors.Is(err, ErrHalted):
		return ClassFatal

	case errors.Is(err, ErrTimedOut),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	var circuitOpen *CircuitOpenError
	if errors.As(err, &circuitOpen) {
		return ClassCircuitOpen
	}

	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return ClassifyResult(rejection.Code)
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return ClassTransient
	}

	return ClassTransient
}

// IsRetryable reports whether the submitter's retry policy may retry the
// error automatically.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}
