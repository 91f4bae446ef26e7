package submitter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/sequence"
	"github.com/lumebot/lumebot/pkg/signing"
	"github.com/lumebot/lumebot/pkg/types"
)

type scriptedResponse struct {
	res *ledger.SubmissionResult
	err error
}

// fakeClient scripts SubmitTransaction responses and serves account
// snapshots with a controllable remote sequence.
type fakeClient struct {
	mu sync.Mutex

	remoteSequence int64
	responses      []scriptedResponse

	submitCalls  int
	accountCalls int
}

func (f *fakeClient) GetAccount(ctx context.Context, accountID string) (*types.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.accountCalls++
	return &types.AccountSnapshot{
		AccountID:     accountID,
		Sequence:      f.remoteSequence,
		NativeBalance: fixedpoint.NewFromInt(1000),
	}, nil
}

func (f *fakeClient) SubmitTransaction(ctx context.Context, tx *types.SignedTransaction) (*ledger.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitCalls++
	if len(f.responses) == 0 {
		return &ledger.SubmissionResult{Code: ledger.ResultSuccess, TxHash: "h"}, nil
	}

	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.res, r.err
}

func (f *fakeClient) StreamEvents(ctx context.Context, accountID string) (ledger.EventStream, error) {
	panic("not used")
}

func (f *fakeClient) OpenOffers(ctx context.Context, accountID string) ([]types.Offer, error) {
	return nil, nil
}

func (f *fakeClient) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func newTestSubmitter(t *testing.T, client *fakeClient) (*Submitter, *sequence.Allocator) {
	t.Helper()

	backend := signing.NewLocalBackend()
	key, err := backend.GenerateKey()
	require.NoError(t, err)

	allocator := sequence.NewAllocator(client, sequence.Options{})

	opts := Options{
		MaxAttempts:   2,
		SubmitTimeout: types.Duration(time.Second),
		RetryInterval: types.Duration(time.Millisecond),
	}
	return New(client, allocator, backend, key, opts), allocator
}

func manageOfferOp() types.ManageOfferOp {
	return types.ManageOfferOp{
		Selling: types.NativeAsset(),
		Buying:  types.Asset{Code: "USD", Issuer: "GISSUER"},
		Amount:  fixedpoint.NewFromInt(10),
		Price:   fixedpoint.NewFromFloat(0.25),
	}
}

func TestSubmitter_AcceptedReleasesSlot(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	res, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, client.submits())

	seq, ok := allocator.CachedSequence("GACC")
	require.True(t, ok)
	assert.Equal(t, int64(11), seq)
	assert.Equal(t, 0, allocator.PendingSlots("GACC"))
}

func TestSubmitter_BadSequenceResyncsAndReturnsSuperseded(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	// bootstrap the cached sequence at 10, then simulate another signer
	// bumping the account to 15 behind our back
	slot, err := allocator.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	require.NoError(t, allocator.Retire(slot))

	client.mu.Lock()
	client.remoteSequence = 15
	client.responses = []scriptedResponse{
		{res: &ledger.SubmissionResult{Code: ledger.ResultBadSequence}},
	}
	client.mu.Unlock()

	_, err = sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	assert.ErrorIs(t, err, ledger.ErrSuperseded)

	seq, _ := allocator.CachedSequence("GACC")
	assert.Equal(t, int64(15), seq, "resync must adopt the authoritative sequence")
	assert.Equal(t, 0, allocator.PendingSlots("GACC"))
}

func TestSubmitter_TimeoutWithAdvancedSequenceIsSuperseded(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	// bootstrap the allocator cache first
	_, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	require.NoError(t, err)

	// the next submit times out, and by the time we re-query, the ledger
	// shows the sequence advanced: the tx may have landed
	client.mu.Lock()
	client.remoteSequence = 12
	client.responses = []scriptedResponse{{err: context.DeadlineExceeded}}
	before := client.submitCalls
	client.mu.Unlock()

	_, err = sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	assert.ErrorIs(t, err, ledger.ErrSuperseded)

	// no blind resubmission: exactly one network submit for this operation
	assert.Equal(t, before+1, client.submits())

	seq, _ := allocator.CachedSequence("GACC")
	assert.Equal(t, int64(12), seq)
}

func TestSubmitter_TimeoutNotLandedRetriesSameSequence(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	client.responses = []scriptedResponse{
		{err: context.DeadlineExceeded},
		{res: &ledger.SubmissionResult{Code: ledger.ResultSuccess, TxHash: "h2"}},
	}

	res, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 2, client.submits())

	seq, _ := allocator.CachedSequence("GACC")
	assert.Equal(t, int64(11), seq)
}

func TestSubmitter_BusinessRejectionNotRetried(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	client.responses = []scriptedResponse{
		{res: &ledger.SubmissionResult{Code: ledger.ResultInsufficientBalance, TxHash: "h"}},
	}

	_, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())

	var rejection *ledger.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ledger.ResultInsufficientBalance, rejection.Code)
	assert.Equal(t, 1, client.submits(), "business rejections are never retried")

	// a rejected transaction still consumes the sequence
	seq, _ := allocator.CachedSequence("GACC")
	assert.Equal(t, int64(11), seq)
}

func TestSubmitter_TransientFailureRetiresSlotWhenExhausted(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	transient := &ledger.TransientError{Err: assert.AnError}
	client.responses = []scriptedResponse{{err: transient}, {err: transient}}

	_, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	require.Error(t, err)
	assert.Equal(t, 2, client.submits(), "transient failures retry up to MaxAttempts")

	// the tx never reached the network: the sequence is reusable
	assert.Equal(t, 0, allocator.PendingSlots("GACC"))
	seq, _ := allocator.CachedSequence("GACC")
	assert.Equal(t, int64(10), seq)

	slot, err := allocator.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(11), slot.Sequence())
}

func TestSubmitter_CircuitOpenFailsFast(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, _ := newTestSubmitter(t, client)

	breaker := sub.Breaker(OperationClassSubmission)
	breaker.FailureThreshold = 1
	breaker.Cooldown = time.Hour

	transient := &ledger.TransientError{Err: assert.AnError}
	client.responses = []scriptedResponse{{err: transient}, {err: transient}}

	_, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())
	require.Error(t, err)

	before := client.submits()
	_, err = sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())

	var open *ledger.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, before, client.submits(), "open breaker must not touch the network")

	// the cancellation class has its own breaker and is unaffected
	res, err := sub.Submit(context.Background(), OperationClassCancellation, "GACC",
		types.ManageOfferOp{OfferID: 7, Selling: types.NativeAsset(), Buying: types.Asset{Code: "USD", Issuer: "G"}})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestSubmitter_BreakerOpeningMidRetryStopsFurtherAttempts(t *testing.T) {
	client := &fakeClient{remoteSequence: 10}
	sub, allocator := newTestSubmitter(t, client)

	breaker := sub.Breaker(OperationClassSubmission)
	breaker.FailureThreshold = 1
	breaker.Cooldown = time.Hour

	// the first attempt's failure trips the breaker; the retry loop must
	// honor that instead of hammering an endpoint already declared down
	transient := &ledger.TransientError{Err: assert.AnError}
	client.responses = []scriptedResponse{{err: transient}, {err: transient}}

	_, err := sub.Submit(context.Background(), OperationClassSubmission, "GACC", manageOfferOp())

	var open *ledger.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, 1, client.submits(), "no retry once the breaker is open")

	// the aborted retry never reached the network: the sequence is reusable
	assert.Equal(t, 0, allocator.PendingSlots("GACC"))
}
