package graphs

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// edgeWithInsertBlock records the block at which a pool entered the graph
// so that path searches at historical blocks never route through pools
// that did not exist yet.
type edgeWithInsertBlock struct {
	Info        PoolPairInformation
	InsertBlock uint64
}

// edgeKey addresses the multi-edge between two token nodes. Node indices
// are stored low-high; direction is recovered per query.
type edgeKey [2]int

func newEdgeKey(n0, n1 int) edgeKey {
	if n0 > n1 {
		n0, n1 = n1, n0
	}
	return edgeKey{n0, n1}
}

// AllPairGraph is the undirected multigraph over every token seen in any
// pool. It is the global inventory of which pools connect which tokens
// and serves path discovery only; pricing happens against subgraphs.
//
// Edges are append-only. Pools that go bad are excised from the subgraphs
// that reference them, never from this graph.
type AllPairGraph struct {
	tokenToIndex map[common.Address]int
	tokens       []common.Address

	// neighbors holds each node's adjacent nodes in insertion order,
	// which keeps path search deterministic for a given pool history.
	neighbors [][]int
	edges     map[edgeKey][]edgeWithInsertBlock

	// pools guards against duplicate edge insertion for the same pool.
	pools map[common.Address]struct{}

	cfg SearchConfig
	log Logger
}

// SearchConfig bounds the k-shortest-paths search.
type SearchConfig struct {
	// KShortestPaths is the number of candidate paths requested per pair.
	KShortestPaths int
	// MaxHops caps path length; it bounds worst-case search cost on a
	// graph that can have hundreds of thousands of nodes.
	MaxHops int
	// MaxIters caps the number of nodes a single Dijkstra run may settle.
	MaxIters int
	// ConnectivityWeight biases the search toward well-connected tokens:
	// hop cost from a node is max(1, ConnectivityWeight - degree(node)).
	ConnectivityWeight int
	// Timeout bounds one pair's spur searches. Zero applies the default;
	// negative disables the deadline.
	Timeout time.Duration
}

const (
	defaultKShortestPaths     = 4
	defaultMaxHops            = 10
	defaultMaxIters           = 5_000
	defaultConnectivityWeight = 8
	defaultSearchTimeout      = 10 * time.Millisecond
)

func (c *SearchConfig) withDefaults() {
	if c.KShortestPaths <= 0 {
		c.KShortestPaths = defaultKShortestPaths
	}
	if c.MaxHops <= 0 {
		c.MaxHops = defaultMaxHops
	}
	if c.MaxIters <= 0 {
		c.MaxIters = defaultMaxIters
	}
	if c.ConnectivityWeight <= 0 {
		c.ConnectivityWeight = defaultConnectivityWeight
	}
	if c.Timeout == 0 {
		c.Timeout = defaultSearchTimeout
	} else if c.Timeout < 0 {
		c.Timeout = 0
	}
}

// NewAllPairGraph returns an empty graph. Passing a nil logger disables
// logging.
func NewAllPairGraph(cfg SearchConfig, log Logger) *AllPairGraph {
	cfg.withDefaults()
	if log == nil {
		log = nopLogger{}
	}
	return &AllPairGraph{
		tokenToIndex: make(map[common.Address]int),
		edges:        make(map[edgeKey][]edgeWithInsertBlock),
		pools:        make(map[common.Address]struct{}),
		cfg:          cfg,
		log:          log,
	}
}

func (g *AllPairGraph) nodeFor(token common.Address) int {
	if idx, ok := g.tokenToIndex[token]; ok {
		return idx
	}
	idx := len(g.tokens)
	g.tokenToIndex[token] = idx
	g.tokens = append(g.tokens, token)
	g.neighbors = append(g.neighbors, nil)
	return idx
}

// AddPool splices a pool into the multi-edge between the pair's tokens,
// creating nodes for previously-unseen tokens. Adding the same pool
// address twice is a no-op.
func (g *AllPairGraph) AddPool(p pair.Pair, poolAddr common.Address, dex protocols.Protocol, block uint64) {
	if p.IsZero() || p.Token0 == p.Token1 {
		return
	}
	if _, dup := g.pools[poolAddr]; dup {
		return
	}
	g.pools[poolAddr] = struct{}{}

	n0 := g.nodeFor(p.Token0)
	n1 := g.nodeFor(p.Token1)

	key := newEdgeKey(n0, n1)
	if len(g.edges[key]) == 0 {
		g.neighbors[n0] = append(g.neighbors[n0], n1)
		g.neighbors[n1] = append(g.neighbors[n1], n0)
	}
	g.edges[key] = append(g.edges[key], edgeWithInsertBlock{
		Info:        NewPoolPairInformation(poolAddr, dex, p.Token0, p.Token1),
		InsertBlock: block,
	})
}

// TokenCount reports the number of distinct token nodes.
func (g *AllPairGraph) TokenCount() int { return len(g.tokens) }

// PoolCount reports the number of pools inserted.
func (g *AllPairGraph) PoolCount() int { return len(g.pools) }

// EdgeCount reports how many pools connect two tokens directly.
func (g *AllPairGraph) EdgeCount(token0, token1 common.Address) int {
	n0, ok0 := g.tokenToIndex[token0]
	n1, ok1 := g.tokenToIndex[token1]
	if !ok0 || !ok1 {
		return 0
	}
	return len(g.edges[newEdgeKey(n0, n1)])
}

// HasToken reports whether the token appears in any pool.
func (g *AllPairGraph) HasToken(token common.Address) bool {
	_, ok := g.tokenToIndex[token]
	return ok
}

// edgeUsable reports whether a multi-edge offers at least one pool that
// existed at the query block and is not on the ignore list.
func (g *AllPairGraph) edgeUsable(pools []edgeWithInsertBlock, ignore mapset.Set[pair.Pair], block uint64) bool {
	existed := false
	for _, e := range pools {
		if e.InsertBlock <= block {
			existed = true
		}
		if ignore != nil && ignore.Contains(e.Info.Pair().Ordered()) {
			return false
		}
	}
	return existed
}

// GetPaths returns up to KShortestPaths candidate paths between the
// pair's tokens at the given block. Each path is a list of hops; each hop
// carries every parallel pool usable at that block. An empty result means
// the pair is unreachable, which is not an error.
func (g *AllPairGraph) GetPaths(p pair.Pair, block uint64) [][][]SubGraphEdge {
	return g.GetPathsIgnoring(p, nil, block)
}

// GetPathsIgnoring is GetPaths with an exclusion set of ordered pairs
// that the search must route around, used when re-querying after a bad
// pool was removed.
func (g *AllPairGraph) GetPathsIgnoring(p pair.Pair, ignore mapset.Set[pair.Pair], block uint64) [][][]SubGraphEdge {
	if p.Token0 == p.Token1 {
		g.log.Error("invalid pair, both tokens have the same address", "pair", p)
		return nil
	}
	start, ok := g.tokenToIndex[p.Token0]
	if !ok {
		g.log.Debug("no node for token", "token", p.Token0)
		return nil
	}
	goal, ok := g.tokenToIndex[p.Token1]
	if !ok {
		g.log.Debug("no node for token", "token", p.Token1)
		return nil
	}

	succ := func(node int) []nodeCost {
		adjacent := g.neighbors[node]
		cost := g.cfg.ConnectivityWeight - len(adjacent)
		if cost < 1 {
			cost = 1
		}
		out := make([]nodeCost, 0, len(adjacent))
		for _, next := range adjacent {
			if !g.edgeUsable(g.edges[newEdgeKey(node, next)], ignore, block) {
				continue
			}
			out = append(out, nodeCost{node: next, cost: cost})
		}
		return out
	}

	var deadline time.Time
	if g.cfg.Timeout > 0 {
		deadline = time.Now().Add(g.cfg.Timeout)
	}

	paths := kShortestPaths(start, goal, succ, g.cfg.KShortestPaths, g.cfg.MaxHops, g.cfg.MaxIters, deadline)
	if len(paths) == 0 {
		return nil
	}

	out := make([][][]SubGraphEdge, 0, len(paths))
	for _, nodes := range paths {
		hops := len(nodes) - 1
		path := make([][]SubGraphEdge, 0, hops)
		for i := 0; i < hops; i++ {
			n0, n1 := nodes[i], nodes[i+1]
			pools := g.edges[newEdgeKey(n0, n1)]
			hop := make([]SubGraphEdge, 0, len(pools))
			for _, e := range pools {
				if e.InsertBlock > block {
					continue
				}
				direction := PoolPairInfoDirection{
					Info:     e.Info,
					Token0In: g.tokenToIndex[e.Info.Token0] == n0,
				}
				hop = append(hop, NewSubGraphEdge(direction, i, hops-i))
			}
			path = append(path, hop)
		}
		out = append(out, path)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
