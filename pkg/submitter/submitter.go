// Package submitter builds, signs, submits, and classifies the outcome of
// single transactions against the ledger. Each submission attempt walks
// Building -> Signing -> Submitting -> {Accepted, Rejected, TimedOut}; only
// transient network failures are retried, everything else is surfaced with
// its class so the caller decides.
package submitter

import (
	"context"
	"sync"
	"time"

	backoff2 "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/metrics"
	"github.com/lumebot/lumebot/pkg/sequence"
	"github.com/lumebot/lumebot/pkg/signing"
	"github.com/lumebot/lumebot/pkg/types"
	"github.com/lumebot/lumebot/pkg/util/backoff"
)

// OperationClass separates circuit-breaker accounting so a storm of failed
// submissions does not also block cancellations.
type OperationClass string

const (
	OperationClassSubmission   OperationClass = "submission"
	OperationClassCancellation OperationClass = "cancellation"
)

// State names one stage of a submission attempt, used for logging.
type State string

const (
	StateBuilding   State = "BUILDING"
	StateSigning    State = "SIGNING"
	StateSubmitting State = "SUBMITTING"
	StateAccepted   State = "ACCEPTED"
	StateRejected   State = "REJECTED"
	StateTimedOut   State = "TIMED_OUT"
)

type Options struct {
	// MaxAttempts bounds the retry loop for transient failures. At least 1.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`

	// SubmitTimeout is the per-attempt deadline for the network call.
	SubmitTimeout types.Duration `json:"submitTimeout" yaml:"submitTimeout"`

	// RetryInterval seeds the exponential backoff between attempts.
	RetryInterval types.Duration `json:"retryInterval" yaml:"retryInterval"`
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:   5,
		SubmitTimeout: types.Duration(10 * time.Second),
		RetryInterval: types.Duration(500 * time.Millisecond),
	}
}

// Submitter drives single transactions through sign-and-submit with retry
// and circuit breaking. Safe for concurrent use.
type Submitter struct {
	client    ledger.NetworkClient
	allocator *sequence.Allocator
	backend   signing.Backend
	key       signing.KeyHandle

	opts Options

	mu       sync.Mutex
	breakers map[OperationClass]*CircuitBreaker

	logger log.FieldLogger
}

func New(
	client ledger.NetworkClient,
	allocator *sequence.Allocator,
	backend signing.Backend,
	key signing.KeyHandle,
	opts Options,
) *Submitter {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	return &Submitter{
		client:    client,
		allocator: allocator,
		backend:   backend,
		key:       key,
		opts:      opts,
		breakers:  make(map[OperationClass]*CircuitBreaker),
		logger:    log.WithField("component", "submitter"),
	}
}

// Breaker returns the circuit breaker for an operation class, creating it
// on first use.
func (s *Submitter) Breaker(class OperationClass) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[class]
	if !ok {
		b = NewCircuitBreaker(string(class))
		s.breakers[class] = b
	}
	return b
}

// Submit reserves a sequence slot, builds and signs a transaction carrying
// ops, submits it, and settles the slot according to the outcome:
//
//   - accepted: slot released, cached sequence advances
//   - rejected with bad sequence: allocator resynced, ErrSuperseded returned
//   - rejected for business reasons: slot released (the ledger consumed the
//     sequence), a RejectionError returned, never retried
//   - timed out with the true outcome still unknown after re-querying the
//     account: slot left pending, ErrTimedOut returned
func (s *Submitter) Submit(
	ctx context.Context, class OperationClass, sourceAccount string, ops ...types.Operation,
) (*ledger.SubmissionResult, error) {
	if len(ops) == 0 {
		return nil, errors.New("submit: no operations")
	}

	breaker := s.Breaker(class)
	if err := breaker.Allow(); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(class), "circuit_open").Inc()
		return nil, err
	}

	slot, err := s.allocator.Reserve(ctx, sourceAccount)
	if err != nil {
		breaker.AbortProbe()
		return nil, err
	}
	defer s.publishSlotGauge(sourceAccount)

	logger := s.logger.WithFields(log.Fields{
		"account":  sourceAccount,
		"class":    class,
		"sequence": slot.Sequence(),
	})

	logger.Debugf("state %s", StateBuilding)
	tx := &types.Transaction{
		SourceAccount: sourceAccount,
		Sequence:      slot.Sequence(),
		Operations:    ops,
		CreatedAt:     time.Now(),
	}

	logger.Debugf("state %s", StateSigning)
	signedTx, err := s.sign(ctx, tx)
	if err != nil {
		// the transaction never left this process, the slot is safe to drop
		breaker.AbortProbe()
		if retireErr := s.allocator.Retire(slot); retireErr != nil {
			logger.WithError(retireErr).Warn("can not retire slot after signing failure")
		}
		return nil, err
	}

	return s.submitSigned(ctx, class, breaker, slot, signedTx, logger)
}

func (s *Submitter) sign(ctx context.Context, tx *types.Transaction) (*types.SignedTransaction, error) {
	digest, err := tx.Hash()
	if err != nil {
		return nil, errors.Wrap(err, "hash transaction")
	}

	// signing may be interactive (hardware wallet); it is never retried
	// here. A user rejection in particular must surface as-is.
	sig, err := s.backend.Sign(ctx, digest, s.key)
	if err != nil {
		if errors.Is(err, signing.ErrInvalidKeyHandle) {
			return nil, &ledger.FatalError{Err: err}
		}
		return nil, errors.Wrap(err, "sign transaction")
	}

	return &types.SignedTransaction{
		Transaction: *tx,
		Signatures:  []types.Signature{sig},
	}, nil
}

func (s *Submitter) submitSigned(
	ctx context.Context,
	class OperationClass,
	breaker *CircuitBreaker,
	slot *sequence.Slot,
	signedTx *types.SignedTransaction,
	logger log.FieldLogger,
) (*ledger.SubmissionResult, error) {
	var result *ledger.SubmissionResult

	expBackoff := backoff2.NewExponentialBackOff()
	expBackoff.InitialInterval = s.opts.RetryInterval.Duration()

	retryPolicy := backoff2.WithContext(
		backoff2.WithMaxRetries(expBackoff, uint64(s.opts.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff2.Retry(func() error {
		attempt++
		if attempt > 1 {
			// failures recorded by earlier attempts (ours or concurrent
			// submissions) may have opened the breaker since the first check
			if allowErr := breaker.Allow(); allowErr != nil {
				return backoff2.Permanent(allowErr)
			}
			metrics.SubmissionRetriesTotal.WithLabelValues(string(class)).Inc()
		}

		if slot.Superseded() {
			return backoff2.Permanent(errors.Wrapf(ledger.ErrSuperseded,
				"sequence %d for account %s", slot.Sequence(), slot.AccountID()))
		}

		logger.WithField("attempt", attempt).Debugf("state %s", StateSubmitting)

		submitCtx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout.Duration())
		res, submitErr := s.client.SubmitTransaction(submitCtx, signedTx)
		cancel()

		if submitErr != nil {
			return s.settleNetworkError(ctx, class, breaker, slot, submitErr, logger)
		}

		breaker.RecordSuccess()

		switch {
		case res.OK():
			logger.WithField("txHash", res.TxHash).Infof("state %s", StateAccepted)
			if releaseErr := s.allocator.Release(slot); releaseErr != nil {
				// a resync raced us; the ledger accepted the tx, report it anyway
				logger.WithError(releaseErr).Warn("slot settled by a concurrent resync")
			}
			metrics.SubmissionsTotal.WithLabelValues(string(class), "accepted").Inc()
			result = res
			return nil

		case res.Code == ledger.ResultBadSequence:
			// the sequence was not consumed; resync and surface for caller
			// re-validation instead of silently retrying with a new number
			logger.Warnf("state %s: bad sequence, resyncing", StateRejected)
			s.resyncFromNetwork(ctx, slot.AccountID(), logger)
			metrics.SubmissionsTotal.WithLabelValues(string(class), "superseded").Inc()
			return backoff2.Permanent(errors.Wrapf(ledger.ErrSuperseded,
				"account %s", slot.AccountID()))

		default:
			// the ledger saw and rejected the transaction; the sequence was
			// consumed, so the slot counts as released
			logger.Warnf("state %s: %s", StateRejected, res.Code)
			if releaseErr := s.allocator.Release(slot); releaseErr != nil {
				logger.WithError(releaseErr).Warn("can not release slot after rejection")
			}
			metrics.SubmissionsTotal.WithLabelValues(string(class), "rejected").Inc()
			return backoff2.Permanent(&ledger.RejectionError{
				Code:      res.Code,
				AccountID: slot.AccountID(),
				TxHash:    res.TxHash,
			})
		}
	}, retryPolicy)

	if err == nil {
		return result, nil
	}

	return nil, s.settleFinalError(class, slot, err, attempt, logger)
}

// settleNetworkError decides what a transport-level failure means for the
// slot. A plain return lets the backoff policy retry the attempt; a
// Permanent return stops the loop.
func (s *Submitter) settleNetworkError(
	ctx context.Context,
	class OperationClass,
	breaker *CircuitBreaker,
	slot *sequence.Slot,
	submitErr error,
	logger log.FieldLogger,
) error {
	breaker.RecordFailure()

	if isUnknownOutcome(submitErr) {
		logger.WithError(submitErr).Warnf("state %s", StateTimedOut)

		// The outcome is unknown: the transaction may or may not have
		// reached the network. Re-query the observed sequence before
		// deciding, to avoid applying the same logical operation twice.
		observed, queryErr := s.observedSequence(ctx, slot.AccountID())
		if queryErr != nil {
			// can not confirm either way; the slot stays pending so the
			// sequence is not silently reused
			metrics.SubmissionsTotal.WithLabelValues(string(class), "timed_out").Inc()
			return backoff2.Permanent(errors.Wrapf(ledger.ErrTimedOut,
				"account %s sequence %d", slot.AccountID(), slot.Sequence()))
		}

		if observed >= slot.Sequence() {
			// the sequence advanced: our transaction (or someone else's)
			// landed; surface for caller re-validation
			s.allocator.Resync(slot.AccountID(), observed)
			metrics.SubmissionsTotal.WithLabelValues(string(class), "superseded").Inc()
			return backoff2.Permanent(errors.Wrapf(ledger.ErrSuperseded,
				"observed sequence %d covers slot %d", observed, slot.Sequence()))
		}

		// not landed as of the query; resubmitting the same sequence is
		// idempotent at the ledger level
		return submitErr
	}

	if !ledger.IsRetryable(submitErr) {
		// definite non-transient transport failure; settled in
		// settleFinalError once the loop stops
		logger.WithError(submitErr).Error("submission failed")
		return backoff2.Permanent(submitErr)
	}

	logger.WithError(submitErr).Warn("transient submission failure, will retry")
	return submitErr
}

// settleFinalError handles the slot disposition for errors that ended the
// retry loop without being settled inline (accepted/rejected/bad-sequence
// are settled inside the loop).
func (s *Submitter) settleFinalError(
	class OperationClass, slot *sequence.Slot, err error, attempts int, logger log.FieldLogger,
) error {
	switch {
	case errors.Is(err, ledger.ErrSuperseded):
		// resync already swept the slot
		return err

	case errors.Is(err, ledger.ErrTimedOut):
		// slot intentionally left pending
		return err
	}

	var rejection *ledger.RejectionError
	if errors.As(err, &rejection) {
		return err
	}

	var open *ledger.CircuitOpenError
	if errors.As(err, &open) {
		// the breaker opened between attempts; the aborted attempt never
		// reached the network, so the slot is retired as a definite failure
		if retireErr := s.allocator.Retire(slot); retireErr != nil {
			logger.WithError(retireErr).Warn("can not retire slot")
		}
		metrics.SubmissionsTotal.WithLabelValues(string(class), "circuit_open").Inc()
		return err
	}

	if isUnknownOutcome(err) {
		// retries exhausted while the last attempt's outcome is unknown;
		// the slot stays pending until a resync confirms the truth
		metrics.SubmissionsTotal.WithLabelValues(string(class), "timed_out").Inc()
		return errors.Wrapf(ledger.ErrTimedOut,
			"account %s sequence %d after %d attempts", slot.AccountID(), slot.Sequence(), attempts)
	}

	// definite failure: the transaction never reached the network
	if retireErr := s.allocator.Retire(slot); retireErr != nil {
		logger.WithError(retireErr).Warn("can not retire slot")
	}
	metrics.SubmissionsTotal.WithLabelValues(string(class), "failed").Inc()
	return errors.Wrapf(err, "submission failed after %d attempts", attempts)
}

// isUnknownOutcome reports whether the error leaves the submission outcome
// unknown: the request may have reached the network before the failure.
func isUnknownOutcome(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ledger.ErrTimedOut)
}

func (s *Submitter) observedSequence(ctx context.Context, accountID string) (int64, error) {
	var snapshot *types.AccountSnapshot

	err := backoff.RetryQuery(ctx, func() (err2 error) {
		snapshot, err2 = s.client.GetAccount(ctx, accountID)
		return err2
	})
	if err != nil {
		return 0, errors.Wrapf(err, "can not query account %s after timeout", accountID)
	}

	return snapshot.Sequence, nil
}

// resyncFromNetwork refreshes the allocator's cached sequence from
// authoritative account state; on query failure the cache is left as-is
// and the next reconcile settles it.
func (s *Submitter) resyncFromNetwork(ctx context.Context, accountID string, logger log.FieldLogger) {
	observed, err := s.observedSequence(ctx, accountID)
	if err != nil {
		logger.WithError(err).Error("can not refresh sequence after bad-sequence rejection")
		return
	}

	s.allocator.Resync(accountID, observed)
}

func (s *Submitter) publishSlotGauge(accountID string) {
	metrics.PendingSequenceSlots.WithLabelValues(accountID).
		Set(float64(s.allocator.PendingSlots(accountID)))
}
