package graphs

import (
	"container/heap"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/defistate/defi-pricing-go/pair"
)

// PoolStateReader is the read-only view of one pool's loaded state that
// price aggregation needs.
type PoolStateReader interface {
	// Price returns the quote/base price of the pool for the given base
	// token.
	Price(base common.Address) (*big.Rat, error)
	// TVL returns the pool's liquidity split into base-side and
	// quote-side amounts for the given base token.
	TVL(base common.Address) (*big.Rat, *big.Rat, error)
}

// StateSource resolves loaded pool state by pool address. Pools without
// loaded state are simply absent; pricing skips them.
type StateSource interface {
	PoolState(addr common.Address) (PoolStateReader, bool)
}

// directedKey addresses the edge group from one node to another in trade
// direction.
type directedKey [2]int

// PairSubGraph owns exactly the edges required to price one pair. It is a
// directed graph oriented from the pair's base token toward its quote
// token; every edge group holds the parallel pools for one hop.
type PairSubGraph struct {
	pair         pair.Pair
	tokenToIndex map[common.Address]int
	tokens       []common.Address

	// out holds each node's successors in insertion order.
	out   [][]int
	edges map[directedKey][]SubGraphEdge

	startNode int
	endNode   int

	// verified flips on the first successful FetchPrice and never back.
	verified atomic.Bool
}

// NewPairSubGraph constructs a subgraph from a path-search result or a
// persisted edge list. The edge list must mention both of the pair's
// tokens; beyond that no validation happens here. Validity is
// established the first time a price is requested.
func NewPairSubGraph(p pair.Pair, edges []SubGraphEdge) (*PairSubGraph, error) {
	g := &PairSubGraph{
		pair:         p,
		tokenToIndex: make(map[common.Address]int),
		edges:        make(map[directedKey][]SubGraphEdge),
	}
	for _, e := range edges {
		n0 := g.nodeFor(e.Info.Info.Token0)
		n1 := g.nodeFor(e.Info.Info.Token1)
		if e.Info.Token0In {
			g.addDirected(n0, n1, e)
		} else {
			g.addDirected(n1, n0, e)
		}
	}

	start, ok := g.tokenToIndex[p.Token0]
	if !ok {
		return nil, fmt.Errorf("subgraph for %s has no edge touching base token %s", p, p.Token0)
	}
	end, ok := g.tokenToIndex[p.Token1]
	if !ok {
		return nil, fmt.Errorf("subgraph for %s has no edge touching quote token %s", p, p.Token1)
	}
	g.startNode = start
	g.endNode = end
	return g, nil
}

func (g *PairSubGraph) nodeFor(token common.Address) int {
	if idx, ok := g.tokenToIndex[token]; ok {
		return idx
	}
	idx := len(g.tokens)
	g.tokenToIndex[token] = idx
	g.tokens = append(g.tokens, token)
	g.out = append(g.out, nil)
	return idx
}

func (g *PairSubGraph) addDirected(from, to int, e SubGraphEdge) {
	key := directedKey{from, to}
	group := g.edges[key]
	// k-shortest paths share hops; the same pool must not blend into the
	// hop price twice.
	for _, have := range group {
		if have.Info.Info.PoolAddr == e.Info.Info.PoolAddr {
			return
		}
	}
	if len(group) == 0 {
		g.out[from] = append(g.out[from], to)
	}
	g.edges[key] = append(g.edges[key], e)
}

// Pair returns the pair this subgraph prices, in its canonical direction.
func (g *PairSubGraph) Pair() pair.Pair { return g.pair }

// Verified reports whether this subgraph has produced at least one price.
func (g *PairSubGraph) Verified() bool { return g.verified.Load() }

// Tokens returns every token the subgraph's edges touch. Feeds the
// registry's reverse index.
func (g *PairSubGraph) Tokens() []common.Address {
	out := make([]common.Address, len(g.tokens))
	copy(out, g.tokens)
	return out
}

// AllEdges returns the current edge set grouped per hop, used for
// persistence and for rebuilding the reverse token index.
func (g *PairSubGraph) AllEdges() []SubGraphEdge {
	var out []SubGraphEdge
	for _, group := range g.edges {
		out = append(out, group...)
	}
	return out
}

// PoolDirections returns every pool the subgraph references with its
// trade direction, used to drive state loading.
func (g *PairSubGraph) PoolDirections() []PoolPairInfoDirection {
	var out []PoolPairInfoDirection
	for _, group := range g.edges {
		for _, e := range group {
			out = append(out, e.Info)
		}
	}
	return out
}

// ContainsPool reports whether any edge references the pool address.
func (g *PairSubGraph) ContainsPool(addr common.Address) bool {
	for _, group := range g.edges {
		for _, e := range group {
			if e.Info.Info.PoolAddr == addr {
				return true
			}
		}
	}
	return false
}

// AddNewEdge splices a newly-discovered pool into the subgraph. Both of
// the pool's tokens must already be present, and the splice point must
// sit within distance one of the start and end nodes; anything further
// out does not improve the price and is rejected. Returns true only when
// the edge was actually added.
func (g *PairSubGraph) AddNewEdge(info PoolPairInformation) bool {
	n0, ok0 := g.tokenToIndex[info.Token0]
	n1, ok1 := g.tokenToIndex[info.Token1]
	if !ok0 || !ok1 {
		return false
	}
	if g.ContainsPool(info.PoolAddr) {
		return false
	}

	if group := g.edges[directedKey{n0, n1}]; len(group) > 0 {
		return g.appendParallel(directedKey{n0, n1}, info, true)
	}
	if group := g.edges[directedKey{n1, n0}]; len(group) > 0 {
		return g.appendParallel(directedKey{n1, n0}, info, false)
	}

	toStart, ok := g.minDistanceToStart(n0)
	if !ok {
		return false
	}
	toEnd, ok := g.minDistanceToEnd(n1)
	if !ok {
		return false
	}
	if toStart > 1 || toEnd > 1 {
		return false
	}

	g.addDirected(n0, n1, NewSubGraphEdge(PoolPairInfoDirection{Info: info, Token0In: true}, toStart, toEnd))
	g.addDirected(n1, n0, NewSubGraphEdge(PoolPairInfoDirection{Info: info, Token0In: false}, toStart, toEnd))
	return true
}

func (g *PairSubGraph) appendParallel(key directedKey, info PoolPairInformation, token0In bool) bool {
	group := g.edges[key]
	first := group[0]
	if first.DistanceToStart > 1 || first.DistanceToEnd > 1 {
		return false
	}
	g.edges[key] = append(group, NewSubGraphEdge(
		PoolPairInfoDirection{Info: info, Token0In: token0In},
		first.DistanceToStart,
		first.DistanceToEnd,
	))
	return true
}

func (g *PairSubGraph) minDistanceToStart(node int) (int, bool) {
	return g.minDistance(node, func(e SubGraphEdge) int { return e.DistanceToStart })
}

func (g *PairSubGraph) minDistanceToEnd(node int) (int, bool) {
	return g.minDistance(node, func(e SubGraphEdge) int { return e.DistanceToEnd })
}

func (g *PairSubGraph) minDistance(node int, dist func(SubGraphEdge) int) (int, bool) {
	best, found := 0, false
	for _, to := range g.out[node] {
		group := g.edges[directedKey{node, to}]
		if len(group) == 0 {
			continue
		}
		if d := dist(group[0]); !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

// RemoveBadNode excises one faulty pool from the subgraph. Returns true
// if the excision disconnects the pair's tokens, in which case the caller
// must discard the whole subgraph; returns false when the subgraph
// remains usable. On a survivable excision, nodes left off every
// start-to-end route are pruned so no dangling partial paths remain.
func (g *PairSubGraph) RemoveBadNode(poolPair pair.Pair, poolAddr common.Address) bool {
	n0, ok0 := g.tokenToIndex[poolPair.Token0]
	n1, ok1 := g.tokenToIndex[poolPair.Token1]
	if !ok0 || !ok1 {
		return false
	}

	removed := g.removePool(directedKey{n0, n1}, poolAddr)
	removed = g.removePool(directedKey{n1, n0}, poolAddr) || removed
	if !removed {
		return false
	}

	forward := g.reachableFrom(g.startNode, false)
	if _, ok := forward[g.endNode]; !ok {
		return true
	}
	backward := g.reachableFrom(g.endNode, true)

	// Keep only nodes that sit on some start-to-end route.
	for node := range g.tokenToIndex {
		idx := g.tokenToIndex[node]
		_, fwd := forward[idx]
		_, bwd := backward[idx]
		if !fwd || !bwd {
			g.dropNode(idx)
		}
	}
	return false
}

func (g *PairSubGraph) removePool(key directedKey, poolAddr common.Address) bool {
	group, ok := g.edges[key]
	if !ok {
		return false
	}
	kept := group[:0]
	for _, e := range group {
		if e.Info.Info.PoolAddr != poolAddr {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(group) {
		return false
	}
	if len(kept) == 0 {
		delete(g.edges, key)
		g.out[key[0]] = removeNeighbor(g.out[key[0]], key[1])
	} else {
		g.edges[key] = kept
	}
	return true
}

func (g *PairSubGraph) dropNode(idx int) {
	for key := range g.edges {
		if key[0] == idx {
			delete(g.edges, key)
			continue
		}
		if key[1] == idx {
			delete(g.edges, key)
			g.out[key[0]] = removeNeighbor(g.out[key[0]], idx)
		}
	}
	g.out[idx] = nil
	delete(g.tokenToIndex, g.tokens[idx])
}

func removeNeighbor(list []int, node int) []int {
	kept := list[:0]
	for _, n := range list {
		if n != node {
			kept = append(kept, n)
		}
	}
	return kept
}

// reachableFrom walks the directed graph from a node, following reversed
// edges when backward is set.
func (g *PairSubGraph) reachableFrom(start int, backward bool) map[int]struct{} {
	seen := map[int]struct{}{start: {}}
	queue := []int{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for key := range g.edges {
			from, to := key[0], key[1]
			if backward {
				from, to = to, from
			}
			if from != node {
				continue
			}
			if _, ok := seen[to]; ok {
				continue
			}
			seen[to] = struct{}{}
			queue = append(queue, to)
		}
	}
	return seen
}

// priceItem is one frontier entry of the TVL-weighted search: score is
// the accumulated reciprocal TVL along the route, price the compounded
// quote/base price up to this node.
type priceItem struct {
	score *big.Rat
	node  int
	price *big.Rat
}

type priceHeap []priceItem

func (h priceHeap) Len() int           { return len(h) }
func (h priceHeap) Less(i, j int) bool { return h[i].score.Cmp(h[j].score) < 0 }
func (h priceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *priceHeap) Push(x any)        { *h = append(*h, x.(priceItem)) }
func (h *priceHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// FetchPrice aggregates per-edge prices along the deepest-liquidity route
// from the pair's base token to its quote token. Each hop's parallel
// pools are blended into one TVL-weighted price; route selection
// minimizes accumulated reciprocal TVL so deep pools dominate. All
// arithmetic is exact rational. Returns false when no fully-priced route
// exists: an edge without loaded state drops its route, it is never
// averaged in with a default.
func (g *PairSubGraph) FetchPrice(states StateSource) (*big.Rat, bool) {
	visited := make(map[int]bool)
	scores := map[int]*big.Rat{g.startNode: new(big.Rat)}
	nodePrice := make(map[int]*big.Rat)

	frontier := &priceHeap{{score: new(big.Rat), node: g.startNode, price: big.NewRat(1, 1)}}
	for frontier.Len() > 0 {
		item := heap.Pop(frontier).(priceItem)
		if visited[item.node] {
			continue
		}
		if item.node == g.endNode {
			break
		}

		for _, next := range g.out[item.node] {
			if visited[next] {
				continue
			}
			group := g.edges[directedKey{item.node, next}]

			// Blend the hop's parallel pools into one TVL-weighted price.
			pxw := new(big.Rat)
			weight := new(big.Rat)
			token0Am := new(big.Rat)
			token1Am := new(big.Rat)
			for _, e := range group {
				state, ok := states.PoolState(e.Info.Info.PoolAddr)
				if !ok {
					continue
				}
				base := e.Info.BaseToken()
				poolPrice, err := state.Price(base)
				if err != nil {
					continue
				}
				t0, t1, err := state.TVL(base)
				if err != nil {
					continue
				}
				t0xt1 := new(big.Rat).Mul(t0, t1)
				pxw.Add(pxw, new(big.Rat).Mul(poolPrice, t0xt1))
				weight.Add(weight, t0xt1)
				token0Am.Add(token0Am, t0)
				token1Am.Add(token1Am, t1)
			}
			if weight.Sign() == 0 {
				continue
			}

			hopPrice := new(big.Rat).Quo(pxw, weight)
			newPrice := new(big.Rat).Mul(item.price, hopPrice)

			tvl := new(big.Rat).Mul(token0Am, item.price)
			tvl.Add(tvl, new(big.Rat).Mul(token1Am, newPrice))
			if tvl.Sign() <= 0 {
				continue
			}

			nextScore := new(big.Rat).Add(item.score, new(big.Rat).Inv(tvl))
			if prev, ok := scores[next]; ok && nextScore.Cmp(prev) >= 0 {
				continue
			}
			scores[next] = nextScore
			nodePrice[next] = newPrice
			heap.Push(frontier, priceItem{score: nextScore, node: next, price: newPrice})
		}
		visited[item.node] = true
	}

	price, ok := nodePrice[g.endNode]
	if !ok {
		return nil, false
	}
	g.verified.Store(true)
	return new(big.Rat).Set(price), true
}
