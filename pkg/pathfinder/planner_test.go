package pathfinder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/types"
)

var (
	xlm = types.NativeAsset()
	usd = types.Asset{Code: "USD", Issuer: "GUSD"}
	eur = types.Asset{Code: "EUR", Issuer: "GEUR"}
	btc = types.Asset{Code: "BTC", Issuer: "GBTC"}
)

type staticSource map[types.Asset][]Edge

func (s staticSource) Edges(ctx context.Context, from types.Asset) ([]Edge, error) {
	return s[from], nil
}

func edge(to types.Asset, price, depth float64) Edge {
	return Edge{
		To:    to,
		Price: fixedpoint.NewFromFloat(price),
		Depth: fixedpoint.NewFromFloat(depth),
	}
}

func TestFindPaths_DirectRoute(t *testing.T) {
	source := staticSource{
		xlm: {edge(usd, 0.25, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:  xlm,
		DestAsset:  usd,
		DestAmount: fixedpoint.NewFromInt(100),
		MaxHops:    2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())

	path, ok := it.Next()
	require.True(t, ok)
	assert.Empty(t, path.Hops)
	assert.InDelta(t, 25.0, path.EstimatedCost.Float64(), 0.1)
}

func TestFindPaths_NoRouteIsEmptyNotError(t *testing.T) {
	source := staticSource{
		xlm: {edge(usd, 0.25, 100000)},
		usd: {edge(xlm, 4.0, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:  xlm,
		DestAsset:  btc,
		DestAmount: fixedpoint.One,
		MaxHops:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, it.Len())

	_, ok := it.Next()
	assert.False(t, ok)
}

func TestFindPaths_OrderedByEstimatedCost(t *testing.T) {
	// two routes to EUR: direct at an expensive rate, or through USD at a
	// cheaper combined rate
	source := staticSource{
		xlm: {
			edge(eur, 0.30, 100000),
			edge(usd, 0.25, 100000),
		},
		usd: {edge(eur, 0.90, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:  xlm,
		DestAsset:  eur,
		DestAmount: fixedpoint.NewFromInt(100),
		MaxHops:    2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, it.Len())

	best, _ := it.Next()
	second, _ := it.Next()

	assert.Equal(t, []types.Asset{usd}, best.Hops, "two-hop route is cheaper")
	assert.Empty(t, second.Hops)
	assert.True(t, best.EstimatedCost.Compare(second.EstimatedCost) < 0)
}

func TestFindPaths_MaxHopsBound(t *testing.T) {
	// the only route needs three hops, one more than allowed
	source := staticSource{
		xlm: {edge(usd, 0.25, 100000)},
		usd: {edge(eur, 0.90, 100000)},
		eur: {edge(btc, 0.00001, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:  xlm,
		DestAsset:  btc,
		DestAmount: fixedpoint.One,
		MaxHops:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, it.Len())
}

func TestFindPaths_SlippagePruning(t *testing.T) {
	// the direct edge is too shallow for the requested amount; the deep
	// two-hop route survives
	source := staticSource{
		xlm: {
			edge(eur, 0.28, 120),
			edge(usd, 0.25, 100000),
		},
		usd: {edge(eur, 0.90, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:         xlm,
		DestAsset:         eur,
		DestAmount:        fixedpoint.NewFromInt(100),
		MaxHops:           2,
		SlippageTolerance: 0.05,
	})
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())

	path, _ := it.Next()
	assert.Equal(t, []types.Asset{usd}, path.Hops)
	assert.LessOrEqual(t, path.EstimatedSlippage, 0.05)
}

func TestFindPaths_NoCycles(t *testing.T) {
	source := staticSource{
		xlm: {edge(usd, 0.25, 100000)},
		usd: {
			edge(xlm, 4.0, 100000),
			edge(eur, 0.90, 100000),
		},
		eur: {edge(usd, 1.1, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:  xlm,
		DestAsset:  eur,
		DestAmount: fixedpoint.NewFromInt(10),
		MaxHops:    4,
	})
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())
}

func TestIterator_NotRestartable(t *testing.T) {
	source := staticSource{
		xlm: {edge(usd, 0.25, 100000)},
	}
	p := NewPlanner(source, nil, "GACC")

	it, err := p.FindPaths(context.Background(), Request{
		SendAsset:  xlm,
		DestAsset:  usd,
		DestAmount: fixedpoint.One,
		MaxHops:    1,
	})
	require.NoError(t, err)

	_, ok := it.Next()
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		_, ok = it.Next()
		assert.False(t, ok, "an exhausted iterator never yields again")
	}
}

func TestFindPaths_InvalidRequests(t *testing.T) {
	p := NewPlanner(staticSource{}, nil, "GACC")

	_, err := p.FindPaths(context.Background(), Request{
		SendAsset: xlm, DestAsset: usd, DestAmount: fixedpoint.Zero, MaxHops: 2,
	})
	assert.Error(t, err)

	_, err = p.FindPaths(context.Background(), Request{
		SendAsset: xlm, DestAsset: usd, DestAmount: fixedpoint.One, MaxHops: 0,
	})
	assert.Error(t, err)

	_, err = p.FindPaths(context.Background(), Request{
		SendAsset: xlm, DestAsset: xlm, DestAmount: fixedpoint.One, MaxHops: 2,
	})
	assert.Error(t, err)
}
