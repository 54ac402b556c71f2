package graphs

import (
	"errors"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// ErrNoSubgraph is returned by SubgraphStore.Load when no persisted
// subgraph exists for the pair at or before the block.
var ErrNoSubgraph = errors.New("no persisted subgraph for pair")

// SubgraphStore persists verified subgraph edge lists so a restart does
// not have to re-run path search for known pairs. Load returns the most
// recent edge list saved at or before the block.
type SubgraphStore interface {
	Load(block uint64, p pair.Pair) ([]SubGraphEdge, error)
	Save(block uint64, p pair.Pair, edges []SubGraphEdge) error
}

// Config configures a GraphManager.
type Config struct {
	// Search bounds the k-shortest-paths search over the all-pair graph.
	Search SearchConfig
	// Store persists subgraphs. Nil disables persistence.
	Store SubgraphStore
	// Logger receives engine logs. Nil disables logging.
	Logger Logger
}

func (c *Config) validate() error {
	c.Search.withDefaults()
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return nil
}

// pendingSubgraph is a subgraph built from path search or a persisted
// edge list that has not yet produced a price. It graduates into the
// registry on its first successful verification price.
type pendingSubgraph struct {
	sub   *PairSubGraph
	block uint64
}

// GraphManager is the single entry point to the pricing graph engine: it
// composes the all-pair token graph, the registry of verified subgraphs,
// the two-phase state tracker and the persistence layer. All methods are
// safe for concurrent use under single-writer multi-reader discipline.
type GraphManager struct {
	mu sync.RWMutex

	graph    *AllPairGraph
	registry *SubGraphRegistry
	state    *StateTracker
	store    SubgraphStore

	// pending holds subgraphs under verification, keyed by ordered pair.
	// Doubles as the in-flight guard against duplicate creation.
	pending map[pair.Pair]*pendingSubgraph

	log Logger
}

// NewGraphManager builds an empty engine from the config.
func NewGraphManager(cfg Config) (*GraphManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &GraphManager{
		graph:    NewAllPairGraph(cfg.Search, cfg.Logger),
		registry: NewSubGraphRegistry(cfg.Logger),
		state:    NewStateTracker(cfg.Logger),
		store:    cfg.Store,
		pending:  make(map[pair.Pair]*pendingSubgraph),
		log:      cfg.Logger,
	}, nil
}

// AddPool records a pool in the all-pair graph. Always succeeds and is
// idempotent per pool address.
func (m *GraphManager) AddPool(block uint64, p pair.Pair, poolAddr common.Address, dex protocols.Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph.AddPool(p, poolAddr, dex, block)
}

// ExtendSubgraphs offers a newly-discovered pool to every registered
// subgraph touching both of its tokens and persists the ones that grew.
// Returns the pairs whose subgraphs accepted the edge.
func (m *GraphManager) ExtendSubgraphs(block uint64, poolAddr common.Address, dex protocols.Protocol, p pair.Pair) []pair.Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	extended := m.registry.TryExtendSubgraphs(poolAddr, dex, p)
	out := make([]pair.Pair, 0, len(extended))
	for _, ext := range extended {
		out = append(out, ext.Pair)
		m.save(block, ext.Pair, ext.Edges)
	}
	return out
}

// CreateSubpool resolves what is needed to price a pair at a block. A
// subgraph is located in order: already verified in the registry, already
// pending verification, persisted in the store, or built fresh from path
// search. Returns the pools that still need state loaded at this block.
// An empty result with ok=false means no path exists at all; the pair is
// unpriceable until new pools appear and callers must not retry in a
// tight loop.
func (m *GraphManager) CreateSubpool(block uint64, p pair.Pair) ([]PoolPairInfoDirection, bool) {
	if p.Token0 == p.Token1 || p.IsZero() {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.Ordered()

	if sub, ok := m.registry.Subgraph(key); ok {
		return m.state.MissingState(block, sub.AllEdges()), true
	}
	if pend, ok := m.pending[key]; ok {
		return m.state.MissingState(block, pend.sub.AllEdges()), true
	}

	if m.store != nil {
		edges, err := m.store.Load(block, key)
		switch {
		case err == nil && len(edges) > 0:
			sub, err := NewPairSubGraph(p, edges)
			if err == nil {
				m.log.Debug("rehydrated subgraph from store", "pair", key, "edges", len(edges))
				m.pending[key] = &pendingSubgraph{sub: sub, block: block}
				return m.state.MissingState(block, sub.AllEdges()), true
			}
			m.log.Warn("persisted subgraph failed to rebuild, falling back to search",
				"pair", key, "err", err)
		case err != nil && !errors.Is(err, ErrNoSubgraph):
			m.log.Warn("subgraph store load failed", "pair", key, "err", err)
		}
	}

	paths := m.graph.GetPaths(p, block)
	var edges []SubGraphEdge
	for _, path := range paths {
		for _, hop := range path {
			edges = append(edges, hop...)
		}
	}
	if len(edges) == 0 {
		m.log.Debug("empty search path", "pair", p)
		return nil, false
	}

	sub, err := NewPairSubGraph(p, edges)
	if err != nil {
		m.log.Error("path search produced an unusable subgraph", "pair", p, "err", err)
		return nil, false
	}
	m.pending[key] = &pendingSubgraph{sub: sub, block: block}
	return m.state.MissingState(block, sub.AllEdges()), true
}

// RequerySubpool rebuilds a pair's subgraph from a fresh path search that
// routes around the ignored pairs, replacing any pending subgraph. Used
// after a bad-pool teardown left the pair uncovered. Returns the pools
// that need state loaded, or ok=false when no alternative route exists.
func (m *GraphManager) RequerySubpool(block uint64, p pair.Pair, ignore mapset.Set[pair.Pair]) ([]PoolPairInfoDirection, bool) {
	if p.Token0 == p.Token1 || p.IsZero() {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	paths := m.graph.GetPathsIgnoring(p, ignore, block)
	var edges []SubGraphEdge
	for _, path := range paths {
		for _, hop := range path {
			edges = append(edges, hop...)
		}
	}
	if len(edges) == 0 {
		return nil, false
	}
	sub, err := NewPairSubGraph(p, edges)
	if err != nil {
		m.log.Error("requery produced an unusable subgraph", "pair", p, "err", err)
		return nil, false
	}
	m.pending[p.Ordered()] = &pendingSubgraph{sub: sub, block: block}
	return m.state.MissingState(block, sub.AllEdges()), true
}

// NewState pushes a freshly-loaded pool state into verification state and
// attempts to verify every pending subgraph referencing the pool. A
// pending subgraph with complete state that produces a price graduates
// into the registry and is persisted.
func (m *GraphManager) NewState(block uint64, addr common.Address, state *protocols.PoolState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.NewStateForVerification(addr, state)

	for key, pend := range m.pending {
		if !pend.sub.ContainsPool(addr) {
			continue
		}
		m.tryVerify(block, key, pend)
	}
}

// tryVerify attempts to graduate one pending subgraph. Caller holds the
// write lock.
func (m *GraphManager) tryVerify(block uint64, key pair.Pair, pend *pendingSubgraph) {
	edges := pend.sub.AllEdges()
	if len(m.state.MissingState(block, edges)) > 0 {
		return
	}

	price, ok := pend.sub.FetchPrice(m.state.StateForVerification(block))
	if !ok {
		m.log.Debug("subgraph verification produced no price", "pair", key, "block", block)
		return
	}

	for _, e := range edges {
		m.state.MarkStateAsFinalized(block, e.Info.Info.PoolAddr)
	}
	m.registry.AddVerifiedSubgraph(key, pend.sub)
	delete(m.pending, key)
	m.save(block, key, edges)
	m.log.Info("subgraph verified", "pair", key, "block", block, "price", price.FloatString(6))
}

// save persists an edge list, logging instead of failing; persistence is
// an optimization, not a correctness requirement.
func (m *GraphManager) save(block uint64, key pair.Pair, edges []SubGraphEdge) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(block, key, edges); err != nil {
		m.log.Error("failed to save subgraph", "pair", key, "err", err)
	}
}

// UpdateState routes an incremental state delta to the pool's finalized
// state; every subgraph edge referencing the pool observes the change
// through the shared state. Never re-runs path search. The error from a
// delta the pool rejects is returned so the caller can isolate the pool
// via BadPoolState.
func (m *GraphManager) UpdateState(addr common.Address, update protocols.PoolUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdatePoolState(addr, update)
}

// BadPoolState excises a faulty pool from every subgraph that references
// it and drops its verification state. Subgraphs left disconnected are
// torn down; their pairs are returned so callers can re-request pricing
// through a fresh path search.
func (m *GraphManager) BadPoolState(poolPair pair.Pair, poolAddr common.Address) []pair.Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.RemoveState(poolAddr)

	var tornDown []pair.Pair
	for _, key := range m.registry.PairsContainingPool(poolAddr) {
		if m.registry.BadPoolState(key, poolPair, poolAddr) {
			tornDown = append(tornDown, key)
		}
	}

	for key, pend := range m.pending {
		if !pend.sub.ContainsPool(poolAddr) {
			continue
		}
		if pend.sub.RemoveBadNode(poolPair, poolAddr) {
			delete(m.pending, key)
			tornDown = append(tornDown, key)
		}
	}
	return tornDown
}

// GetPrice prices a pair against finalized state, in the direction asked
// for. ok=false means no price is available right now; it is never a
// market signal.
func (m *GraphManager) GetPrice(p pair.Pair) (*big.Rat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.GetPrice(p, m.state.Finalized())
}

// HasSubgraph reports whether the pair is covered by a verified or
// pending subgraph.
func (m *GraphManager) HasSubgraph(p pair.Pair) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.registry.HasSubpool(p) {
		return true
	}
	_, ok := m.pending[p.Ordered()]
	return ok
}

// HasToken reports whether the token appears anywhere in the all-pair
// graph.
func (m *GraphManager) HasToken(token common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.HasToken(token)
}

// RemoveState drops all verification state for a pool.
func (m *GraphManager) RemoveState(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.RemoveState(addr)
}

// FinalizeBlock concludes a block: pending subgraphs with complete state
// get a last verification attempt, then all verification state cached for
// the block is promoted or dropped.
func (m *GraphManager) FinalizeBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, pend := range m.pending {
		m.tryVerify(block, key, pend)
	}
	m.state.FinalizeBlock(block)
}

// SubgraphCount reports how many pairs currently have a verified
// subgraph.
func (m *GraphManager) SubgraphCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.SubgraphCount()
}

// PoolCount reports how many pools the all-pair graph holds.
func (m *GraphManager) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.PoolCount()
}
