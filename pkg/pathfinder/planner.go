// Package pathfinder discovers multi-hop conversion routes between assets
// over observed liquidity and executes a chosen route as one atomic
// path-payment transaction.
package pathfinder

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/submitter"
	"github.com/lumebot/lumebot/pkg/types"
)

// DefaultMaxResults caps how many candidate paths one search returns.
const DefaultMaxResults = 8

// Edge is one direction of a tradable denomination pair: converting the
// sending asset into To at Price, with Depth units of To available before
// the estimate degrades badly.
type Edge struct {
	To types.Asset

	// Price is the cost in the sending asset per unit of To.
	Price fixedpoint.Value

	// Depth is the amount of To obtainable near Price.
	Depth fixedpoint.Value
}

// LiquiditySource exposes the conversion edges available from one asset.
// Implementations typically derive edges from order-book or pool snapshots.
type LiquiditySource interface {
	Edges(ctx context.Context, from types.Asset) ([]Edge, error)
}

// Request describes one path search.
type Request struct {
	SendAsset  types.Asset
	DestAsset  types.Asset
	DestAmount fixedpoint.Value

	// MaxHops bounds the number of conversion edges in a path. A direct
	// pair counts as one hop.
	MaxHops int

	// SlippageTolerance is the maximum acceptable cumulative estimated
	// slippage, as a fraction (0.01 = 1%). Paths estimated above it are
	// pruned during the search.
	SlippageTolerance float64

	// MaxResults caps the number of candidates returned; zero means
	// DefaultMaxResults.
	MaxResults int
}

// Path is one candidate route. Hops lists the intermediate assets only;
// the terminal assets come from the request.
type Path struct {
	SendAsset  types.Asset
	DestAsset  types.Asset
	DestAmount fixedpoint.Value

	Hops []types.Asset

	// EstimatedCost is the projected amount of SendAsset consumed,
	// including the slippage estimate.
	EstimatedCost fixedpoint.Value

	// EstimatedSlippage is the cumulative slippage fraction across hops.
	EstimatedSlippage float64
}

// Iterator yields candidate paths best-estimated-cost first. It is finite
// and single-use: once exhausted it stays exhausted.
type Iterator struct {
	paths []Path
	next  int
}

// Next returns the following candidate, or false when the iterator is
// exhausted. An empty search yields false immediately.
func (it *Iterator) Next() (Path, bool) {
	if it == nil || it.next >= len(it.paths) {
		return Path{}, false
	}

	p := it.paths[it.next]
	it.next++
	return p, true
}

// Len reports how many candidates remain.
func (it *Iterator) Len() int {
	if it == nil {
		return 0
	}
	return len(it.paths) - it.next
}

// Planner searches conversion routes over a liquidity source and executes
// them through the submission pipeline.
type Planner struct {
	source LiquiditySource
	sub    *submitter.Submitter

	accountID string
	logger    log.FieldLogger
}

func NewPlanner(source LiquiditySource, sub *submitter.Submitter, accountID string) *Planner {
	return &Planner{
		source:    source,
		sub:       sub,
		accountID: accountID,
		logger: log.WithFields(log.Fields{
			"component": "pathfinder",
			"account":   accountID,
		}),
	}
}

// FindPaths runs a bounded-depth search from the sending asset toward the
// destination asset. A search that finds no viable route returns an empty
// iterator, not an error.
func (p *Planner) FindPaths(ctx context.Context, req Request) (*Iterator, error) {
	if req.DestAmount.Sign() <= 0 {
		return nil, errors.Errorf("invalid destination amount %s", req.DestAmount)
	}
	if req.MaxHops < 1 {
		return nil, errors.Errorf("invalid max hops %d", req.MaxHops)
	}
	if req.SendAsset == req.DestAsset {
		return nil, errors.New("send and destination assets are identical")
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	search := &pathSearch{
		planner: p,
		req:     req,
		visited: map[types.Asset]bool{req.SendAsset: true},
	}

	if err := search.walk(ctx, req.SendAsset, nil, fixedpoint.One, 0); err != nil {
		return nil, err
	}

	sort.SliceStable(search.found, func(i, j int) bool {
		return search.found[i].EstimatedCost.Compare(search.found[j].EstimatedCost) < 0
	})
	if len(search.found) > maxResults {
		search.found = search.found[:maxResults]
	}

	p.logger.WithFields(log.Fields{
		"send":       req.SendAsset.String(),
		"dest":       req.DestAsset.String(),
		"candidates": len(search.found),
	}).Debug("path search finished")

	return &Iterator{paths: search.found}, nil
}

type pathSearch struct {
	planner *Planner
	req     Request

	visited map[types.Asset]bool
	found   []Path
}

// walk extends the current route by one edge. rate is the cumulative
// price in the sending asset per unit of the current asset; slippage is
// the cumulative estimated fraction so far.
func (s *pathSearch) walk(
	ctx context.Context,
	from types.Asset,
	hops []types.Asset,
	rate fixedpoint.Value,
	slippage float64,
) error {
	if len(hops)+1 > s.req.MaxHops {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	edges, err := s.planner.source.Edges(ctx, from)
	if err != nil {
		return errors.Wrapf(err, "can not load edges from %s", from)
	}

	for _, edge := range edges {
		if s.visited[edge.To] {
			continue
		}
		if edge.Price.Sign() <= 0 || edge.Depth.Sign() <= 0 {
			continue
		}

		hopRate := rate.Mul(edge.Price)
		hopSlippage := slippage + estimateSlippage(s.req.DestAmount, edge.Depth)
		if s.req.SlippageTolerance > 0 && hopSlippage > s.req.SlippageTolerance {
			continue
		}

		if edge.To == s.req.DestAsset {
			cost := s.req.DestAmount.Mul(hopRate)
			cost = cost.Add(cost.MulFloat64(hopSlippage))
			s.found = append(s.found, Path{
				SendAsset:         s.req.SendAsset,
				DestAsset:         s.req.DestAsset,
				DestAmount:        s.req.DestAmount,
				Hops:              append([]types.Asset(nil), hops...),
				EstimatedCost:     cost,
				EstimatedSlippage: hopSlippage,
			})
			continue
		}

		s.visited[edge.To] = true
		err := s.walk(ctx, edge.To, append(hops, edge.To), hopRate, hopSlippage)
		s.visited[edge.To] = false
		if err != nil {
			return err
		}
	}

	return nil
}

// estimateSlippage approximates the price impact of consuming part of an
// edge's depth. Amounts at or beyond the full depth saturate at 100%.
func estimateSlippage(amount, depth fixedpoint.Value) float64 {
	if depth.Sign() <= 0 {
		return 1.0
	}

	frac := amount.Float64() / depth.Float64()
	if frac > 1.0 {
		return 1.0
	}
	return frac
}

// Execute sends the chosen path as a single path-payment operation. The
// ledger applies all hops atomically; a rejection at any hop fails the
// whole transaction with no partial conversion left behind.
func (p *Planner) Execute(ctx context.Context, path Path, destination string) (*ledger.SubmissionResult, error) {
	if destination == "" {
		return nil, errors.New("destination account required")
	}

	sendMax := path.EstimatedCost
	if path.EstimatedSlippage > 0 {
		// leave headroom so an estimate drifting within tolerance still
		// clears; the ledger refunds any unspent send amount
		sendMax = sendMax.Add(sendMax.MulFloat64(path.EstimatedSlippage))
	}

	op := types.PathPaymentOp{
		SendAsset:   path.SendAsset,
		SendMax:     sendMax,
		Destination: destination,
		DestAsset:   path.DestAsset,
		DestAmount:  path.DestAmount,
		Path:        path.Hops,
	}

	result, err := p.sub.Submit(ctx, submitter.OperationClassSubmission, p.accountID, op)
	if err != nil {
		return nil, errors.Wrap(err, "path payment submission failed")
	}

	p.logger.WithFields(log.Fields{
		"txHash": result.TxHash,
		"hops":   len(path.Hops) + 1,
	}).Info("path payment accepted")

	return result, nil
}
