package pricing

import (
	"context"
	"runtime"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/defistate/defi-pricing-go/graphs"
	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// PairQuery is one pair that needs a subgraph resolved at a block.
type PairQuery struct {
	Pair  pair.Pair
	Block uint64
}

// SearchResult is the outcome of fanning a block's updates across
// workers: the pairs that need a new subgraph and every quote pair the
// block touched, in deterministic order.
type SearchResult struct {
	Queries []PairQuery
	Touched []pair.Pair
}

// GraphSearchPar derives the quote pairs affected by a block's updates
// and filters out those already covered by a subgraph. Each update is an
// independent read-only task; results are merged and ordered afterward so
// wall-clock completion order never affects the outcome.
func GraphSearchPar(
	ctx context.Context,
	mgr *graphs.GraphManager,
	quote common.Address,
	updates []protocols.PoolUpdate,
	workers int,
) SearchResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		mu      sync.Mutex
		queries = make(map[pair.Pair]uint64)
		touched = make(map[pair.Pair]struct{})
	)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, u := range updates {
		u := u
		g.Go(func() error {
			poolPair, ok := u.GetPair()
			if !ok {
				return nil
			}
			for _, token := range []common.Address{poolPair.Token0, poolPair.Token1} {
				if token == quote {
					continue
				}
				quotePair := pair.New(token, quote)

				mu.Lock()
				touched[quotePair] = struct{}{}
				mu.Unlock()

				if mgr.HasSubgraph(quotePair) {
					continue
				}
				mu.Lock()
				if block, seen := queries[quotePair.Ordered()]; !seen || u.Block < block {
					queries[quotePair.Ordered()] = u.Block
				}
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	out := SearchResult{
		Queries: make([]PairQuery, 0, len(queries)),
		Touched: make([]pair.Pair, 0, len(touched)),
	}
	for p, block := range queries {
		out.Queries = append(out.Queries, PairQuery{Pair: p, Block: block})
	}
	for p := range touched {
		out.Touched = append(out.Touched, p)
	}
	sort.Slice(out.Queries, func(i, j int) bool {
		return out.Queries[i].Pair.String() < out.Queries[j].Pair.String()
	})
	sort.Slice(out.Touched, func(i, j int) bool {
		return out.Touched[i].String() < out.Touched[j].String()
	})
	return out
}

// RequeryPair asks for a pair's subgraph to be rebuilt while routing
// around pairs known to be bad.
type RequeryPair struct {
	Pair   pair.Pair
	Block  uint64
	Ignore mapset.Set[pair.Pair]
}

// RequeryResult is one rebuilt subgraph's loading work. Ok is false when
// no alternative route exists; the pair stays unpriced until new pools
// appear.
type RequeryResult struct {
	Pair  pair.Pair
	Block uint64
	Pools []graphs.PoolPairInfoDirection
	Ok    bool
}

// ParStateQuery re-runs subgraph creation for pairs whose subgraphs were
// torn down. Each query carries the engine's per-pair search deadline, so
// a pathological pair is abandoned and reported unpriceable for the block
// instead of stalling the batch.
func ParStateQuery(
	ctx context.Context,
	mgr *graphs.GraphManager,
	requeries []RequeryPair,
	workers int,
) []RequeryResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]RequeryResult, len(requeries))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rq := range requeries {
		i, rq := i, rq
		g.Go(func() error {
			pools, ok := mgr.RequerySubpool(rq.Block, rq.Pair, rq.Ignore)
			out[i] = RequeryResult{Pair: rq.Pair, Block: rq.Block, Pools: pools, Ok: ok}
			return nil
		})
	}
	g.Wait()
	return out
}
