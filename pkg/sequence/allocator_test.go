package sequence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/types"
)

type fakeLoader struct {
	mu       sync.Mutex
	sequence int64
	calls    int
	err      error
}

func (f *fakeLoader) GetAccount(ctx context.Context, accountID string) (*types.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.AccountSnapshot{AccountID: accountID, Sequence: f.sequence}, nil
}

func (f *fakeLoader) SubmitTransaction(ctx context.Context, tx *types.SignedTransaction) (*ledger.SubmissionResult, error) {
	panic("not used")
}

func (f *fakeLoader) StreamEvents(ctx context.Context, accountID string) (ledger.EventStream, error) {
	panic("not used")
}

func (f *fakeLoader) OpenOffers(ctx context.Context, accountID string) ([]types.Offer, error) {
	panic("not used")
}

func TestAllocator_ReserveBootstrapsFromNetwork(t *testing.T) {
	loader := &fakeLoader{sequence: 41}
	a := NewAllocator(loader, Options{})

	slot, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(42), slot.Sequence())
	assert.Equal(t, 1, loader.calls)

	// second reservation must not hit the network again
	require.NoError(t, a.Release(slot))
	slot2, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(43), slot2.Sequence())
	assert.Equal(t, 1, loader.calls)
}

func TestAllocator_UnknownAccountWithoutClient(t *testing.T) {
	a := NewAllocator(nil, Options{})

	_, err := a.Reserve(context.Background(), "GACC")
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
}

func TestAllocator_BusyWithoutPipelining(t *testing.T) {
	a := NewAllocator(&fakeLoader{sequence: 10}, Options{})

	slot, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)

	_, err = a.Reserve(context.Background(), "GACC")
	assert.ErrorIs(t, err, ledger.ErrBusy)

	// another account is not affected
	_, err = a.Reserve(context.Background(), "GOTHER")
	assert.NoError(t, err)

	require.NoError(t, a.Release(slot))
	_, err = a.Reserve(context.Background(), "GACC")
	assert.NoError(t, err)
}

func TestAllocator_PipeliningHandsOutDistinctSlots(t *testing.T) {
	a := NewAllocator(&fakeLoader{sequence: 100}, Options{EnablePipelining: true})

	var slots []*Slot
	for i := 0; i < 5; i++ {
		slot, err := a.Reserve(context.Background(), "GACC")
		require.NoError(t, err)
		slots = append(slots, slot)
	}

	seen := map[int64]bool{}
	for i, slot := range slots {
		assert.Equal(t, int64(101+i), slot.Sequence())
		assert.False(t, seen[slot.Sequence()])
		seen[slot.Sequence()] = true
	}
}

func TestAllocator_RetireLowerSlotKeepsLiveSequencesUnique(t *testing.T) {
	a := NewAllocator(&fakeLoader{sequence: 100}, Options{EnablePipelining: true})

	slot1, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	require.Equal(t, int64(101), slot1.Sequence())

	slot2, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	require.Equal(t, int64(102), slot2.Sequence())

	// dropping the lower slot must not free its higher sibling's number
	require.NoError(t, a.Retire(slot1))

	slot3, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(103), slot3.Sequence(),
		"a still-live slot's sequence must never be handed out twice")

	// once nothing is outstanding, retired numbers become reusable again
	require.NoError(t, a.Retire(slot2))
	require.NoError(t, a.Retire(slot3))

	slot4, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(101), slot4.Sequence())
}

func TestAllocator_RetireDoesNotAdvance(t *testing.T) {
	a := NewAllocator(&fakeLoader{sequence: 7}, Options{})

	slot, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(8), slot.Sequence())
	require.NoError(t, a.Retire(slot))

	slot2, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(8), slot2.Sequence(), "retired sequence should be handed out again")
}

func TestAllocator_ResyncInvalidatesOutstandingSlots(t *testing.T) {
	a := NewAllocator(&fakeLoader{sequence: 50}, Options{EnablePipelining: true})

	low, err := a.Reserve(context.Background(), "GACC") // 51
	require.NoError(t, err)
	high, err := a.Reserve(context.Background(), "GACC") // 52
	require.NoError(t, err)

	a.Resync("GACC", 51)

	assert.True(t, low.Superseded())
	assert.True(t, high.Superseded())

	// 51 <= authoritative: may already be applied on the ledger
	assert.True(t, low.MaybeApplied())
	// 52 > authoritative: known unused
	assert.False(t, high.MaybeApplied())

	assert.ErrorIs(t, a.Release(low), ledger.ErrSuperseded)
	assert.ErrorIs(t, a.Retire(high), ledger.ErrSuperseded)

	seq, ok := a.CachedSequence("GACC")
	require.True(t, ok)
	assert.Equal(t, int64(51), seq)

	slot, err := a.Reserve(context.Background(), "GACC")
	require.NoError(t, err)
	assert.Equal(t, int64(52), slot.Sequence())
}

func TestAllocator_ConcurrentReserveNoDuplicates(t *testing.T) {
	a := NewAllocator(&fakeLoader{sequence: 0}, Options{})

	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	released := map[int64]bool{}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				slot, err := a.Reserve(context.Background(), "GACC")
				if err != nil {
					// strict ordering: busy until the current owner releases
					continue
				}

				mu.Lock()
				assert.False(t, released[slot.Sequence()], "sequence %d released twice", slot.Sequence())
				released[slot.Sequence()] = true
				mu.Unlock()

				assert.NoError(t, a.Release(slot))
				return
			}
		}()
	}

	wg.Wait()
	assert.Len(t, released, n)

	seq, _ := a.CachedSequence("GACC")
	assert.Equal(t, int64(n), seq)
}
