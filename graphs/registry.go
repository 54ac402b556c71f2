package graphs

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// SubGraphRegistry is the authoritative map from ordered pair to verified
// subgraph, plus a reverse token index that makes extension cheap when a
// new pool appears.
//
// The registry is not safe for concurrent use; GraphManager serializes
// access with single-writer multi-reader discipline.
type SubGraphRegistry struct {
	subGraphs map[pair.Pair]*PairSubGraph

	// tokenToSubGraph maps every token appearing in any subgraph edge to
	// the ordered pairs whose subgraphs touch it. Rebuilt whenever a
	// subgraph is added, extended, or removed so it never drifts from the
	// subgraph contents.
	tokenToSubGraph map[common.Address]mapset.Set[pair.Pair]

	log Logger
}

// NewSubGraphRegistry returns an empty registry.
func NewSubGraphRegistry(log Logger) *SubGraphRegistry {
	if log == nil {
		log = nopLogger{}
	}
	return &SubGraphRegistry{
		subGraphs:       make(map[pair.Pair]*PairSubGraph),
		tokenToSubGraph: make(map[common.Address]mapset.Set[pair.Pair]),
		log:             log,
	}
}

// HasSubpool reports whether a subgraph exists for the pair, in either
// direction.
func (r *SubGraphRegistry) HasSubpool(p pair.Pair) bool {
	_, ok := r.subGraphs[p.Ordered()]
	return ok
}

// Subgraph returns the subgraph covering the pair, if any.
func (r *SubGraphRegistry) Subgraph(p pair.Pair) (*PairSubGraph, bool) {
	sub, ok := r.subGraphs[p.Ordered()]
	return sub, ok
}

// SubgraphCount reports how many pairs have a registered subgraph.
func (r *SubGraphRegistry) SubgraphCount() int { return len(r.subGraphs) }

// AddVerifiedSubgraph registers a freshly-built subgraph and rebuilds the
// reverse token index for every token its edges touch. A second
// registration for the same pair logs and keeps the last write; it
// indicates a caller-level race that should not normally occur.
func (r *SubGraphRegistry) AddVerifiedSubgraph(p pair.Pair, sub *PairSubGraph) {
	key := p.Ordered()
	if old, exists := r.subGraphs[key]; exists {
		r.log.Warn("subgraph already registered for pair, replacing", "pair", key)
		r.unindex(key, old)
	}
	r.subGraphs[key] = sub
	r.index(key, sub)
}

func (r *SubGraphRegistry) index(key pair.Pair, sub *PairSubGraph) {
	for _, token := range sub.Tokens() {
		set, ok := r.tokenToSubGraph[token]
		if !ok {
			set = mapset.NewThreadUnsafeSet[pair.Pair]()
			r.tokenToSubGraph[token] = set
		}
		set.Add(key)
	}
}

func (r *SubGraphRegistry) unindex(key pair.Pair, sub *PairSubGraph) {
	for _, token := range sub.Tokens() {
		set, ok := r.tokenToSubGraph[token]
		if !ok {
			continue
		}
		set.Remove(key)
		if set.Cardinality() == 0 {
			delete(r.tokenToSubGraph, token)
		}
	}
}

// reindex refreshes one subgraph's reverse-index entries after its token
// set changed, stripping tokens the subgraph no longer touches.
func (r *SubGraphRegistry) reindex(key pair.Pair, sub *PairSubGraph) {
	live := make(map[common.Address]struct{})
	for _, token := range sub.Tokens() {
		live[token] = struct{}{}
	}
	for token, set := range r.tokenToSubGraph {
		if _, ok := live[token]; ok {
			continue
		}
		set.Remove(key)
		if set.Cardinality() == 0 {
			delete(r.tokenToSubGraph, token)
		}
	}
	r.index(key, sub)
}

// PairsContainingPool returns the ordered pairs whose subgraphs
// reference the pool address.
func (r *SubGraphRegistry) PairsContainingPool(addr common.Address) []pair.Pair {
	var out []pair.Pair
	for key, sub := range r.subGraphs {
		if sub.ContainsPool(addr) {
			out = append(out, key)
		}
	}
	return out
}

// BadPoolState excises a faulty pool from the subgraph covering
// subgraphPair. If the excision disconnects the subgraph, the whole
// subgraph is torn down and removed from the reverse index. Returns
// whether the subgraph was fully removed.
func (r *SubGraphRegistry) BadPoolState(subgraphPair, poolPair pair.Pair, poolAddr common.Address) bool {
	key := subgraphPair.Ordered()
	sub, ok := r.subGraphs[key]
	if !ok {
		return false
	}

	if sub.RemoveBadNode(poolPair, poolAddr) {
		delete(r.subGraphs, key)
		r.unindex(key, sub)
		r.log.Warn("subgraph disconnected by bad pool, removed",
			"pair", key, "pool", poolAddr)
		return true
	}
	r.reindex(key, sub)
	return false
}

// TryExtendSubgraphs offers a newly-discovered pool to every subgraph
// that already touches both of its tokens. Returns the updated edge list
// of each subgraph that accepted the edge, for persistence.
func (r *SubGraphRegistry) TryExtendSubgraphs(
	poolAddr common.Address,
	dex protocols.Protocol,
	p pair.Pair,
) []ExtendedSubgraph {
	set0, ok0 := r.tokenToSubGraph[p.Token0]
	set1, ok1 := r.tokenToSubGraph[p.Token1]
	if !ok0 || !ok1 {
		return nil
	}

	info := NewPoolPairInformation(poolAddr, dex, p.Token0, p.Token1)

	var out []ExtendedSubgraph
	for key := range set0.Intersect(set1).Iter() {
		sub, ok := r.subGraphs[key]
		if !ok {
			continue
		}
		if sub.AddNewEdge(info) {
			out = append(out, ExtendedSubgraph{Pair: key, Edges: sub.AllEdges()})
		}
	}
	return out
}

// ExtendedSubgraph is one subgraph that accepted a new edge, carrying its
// full edge set for persistence.
type ExtendedSubgraph struct {
	Pair  pair.Pair
	Edges []SubGraphEdge
}

// GetPrice prices the pair in exactly the direction the caller asked for:
// the subgraph's canonical price is reciprocated when the request is the
// flip of the stored direction. Returns false when no subgraph exists or
// no fully-loaded route can price the pair.
func (r *SubGraphRegistry) GetPrice(p pair.Pair, states StateSource) (*big.Rat, bool) {
	sub, ok := r.subGraphs[p.Ordered()]
	if !ok {
		return nil, false
	}
	price, ok := sub.FetchPrice(states)
	if !ok {
		return nil, false
	}
	if sub.Pair() == p {
		return price, true
	}
	if price.Sign() == 0 {
		return nil, false
	}
	return price.Inv(price), true
}
