package pricing

import (
	"context"
	"errors"
	"runtime"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/defistate/defi-pricing-go/graphs"
	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// Config configures a BlockPricer.
type Config struct {
	// Manager is the graph engine prices are computed against.
	Manager *graphs.GraphManager
	// Loader fetches pool state from the chain.
	Loader StateLoader
	// Quote is the token every pair is priced against.
	Quote common.Address
	// Updates delivers normalized pool updates, ordered by block.
	Updates <-chan protocols.PoolUpdate
	// Out receives finalized prices.
	Out chan<- DexPriceMsg
	// Workers bounds parallel state loads and path searches. Zero means
	// GOMAXPROCS.
	Workers int
	// Logger receives pricer logs. Nil disables logging.
	Logger graphs.Logger
	// Metrics is optional.
	Metrics *Metrics
}

func (c *Config) validate() error {
	if c.Manager == nil {
		return errors.New("pricing: config requires a graph manager")
	}
	if c.Loader == nil {
		return errors.New("pricing: config requires a state loader")
	}
	if c.Quote == (common.Address{}) {
		return errors.New("pricing: config requires a quote token")
	}
	if c.Updates == nil {
		return errors.New("pricing: config requires an updates channel")
	}
	if c.Out == nil {
		return errors.New("pricing: config requires an output channel")
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return nil
}

// BlockPricer consumes the normalized pool update stream one block at a
// time and drives the graph engine through each block: new pools into the
// all-pair graph, deltas into finalized state, fresh subgraphs for
// uncovered pairs, state loads, verification and finally price emission.
type BlockPricer struct {
	cfg Config
	log graphs.Logger
}

// NewBlockPricer builds a pricer from the config.
func NewBlockPricer(cfg Config) (*BlockPricer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &BlockPricer{cfg: cfg, log: cfg.Logger}, nil
}

// Run groups incoming updates by block and prices each completed block.
// A block is considered complete when the first update for a later block
// arrives. Returns when the updates channel closes or the context ends.
func (b *BlockPricer) Run(ctx context.Context) error {
	var (
		current uint64
		batch   []protocols.PoolUpdate
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-b.cfg.Updates:
			if !ok {
				if len(batch) > 0 {
					b.processBlock(ctx, current, batch)
				}
				return nil
			}
			if u.Block != current && len(batch) > 0 {
				b.processBlock(ctx, current, batch)
				batch = nil
			}
			current = u.Block
			batch = append(batch, u)
		}
	}
}

// processBlock applies one block's updates in the required order: graph
// and state mutations first, path search only after every update landed,
// then state loads, verification, finalization and emission.
func (b *BlockPricer) processBlock(ctx context.Context, block uint64, updates []protocols.PoolUpdate) {
	started := time.Now()
	mgr := b.cfg.Manager

	// new pools enter the all-pair graph and extend touching subgraphs
	// before anything reads the graph for this block
	for _, u := range updates {
		b.countUpdate(u)
		if u.Delta.Kind != protocols.DeltaNewPool {
			continue
		}
		p, ok := u.GetPair()
		if !ok {
			continue
		}
		mgr.AddPool(u.Block, p, u.PoolAddress, u.Protocol)
		if extended := mgr.ExtendSubgraphs(u.Block, u.PoolAddress, u.Protocol, p); len(extended) > 0 {
			b.log.Debug("new pool extended subgraphs",
				"pool", u.PoolAddress, "pairs", len(extended))
		}
	}

	// incremental deltas hit finalized state; rejected deltas isolate
	// the pool
	badPairs := mapset.NewThreadUnsafeSet[pair.Pair]()
	var requeries []RequeryPair
	for _, u := range updates {
		if u.Delta.Kind == protocols.DeltaNewPool || u.Delta.Kind == protocols.DeltaNone {
			continue
		}
		err := mgr.UpdateState(u.PoolAddress, u)
		if err == nil {
			continue
		}
		b.log.Warn("pool rejected state delta, isolating",
			"pool", u.PoolAddress, "block", block, "err", err)
		badPairs.Add(u.Pair.Ordered())
		for _, torn := range b.markBad(u.Pair, u.PoolAddress) {
			requeries = append(requeries, RequeryPair{Pair: torn, Block: block, Ignore: badPairs})
		}
	}

	// fan out search for pairs without coverage
	search := GraphSearchPar(ctx, mgr, b.cfg.Quote, updates, b.cfg.Workers)
	for _, q := range search.Queries {
		pools, ok := mgr.CreateSubpool(q.Block, q.Pair)
		if !ok {
			b.countUnpriced()
			continue
		}
		b.loadPools(ctx, block, pools)
	}

	// pairs torn down this block get one shot at an alternative route
	for _, res := range ParStateQuery(ctx, mgr, requeries, b.cfg.Workers) {
		if !res.Ok {
			b.countUnpriced()
			continue
		}
		b.loadPools(ctx, block, res.Pools)
	}

	mgr.FinalizeBlock(block)

	emitted := 0
	for _, p := range search.Touched {
		price, ok := mgr.GetPrice(p)
		if !ok {
			b.countUnpriced()
			continue
		}
		msg := DexPriceMsg{Block: block, Pair: p, Price: price}
		select {
		case b.cfg.Out <- msg:
			emitted++
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.pricesEmitted.Inc()
			}
		case <-ctx.Done():
			return
		}
	}

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.blockDuration.Observe(time.Since(started).Seconds())
		b.cfg.Metrics.subgraphsTotal.Set(float64(mgr.SubgraphCount()))
		b.cfg.Metrics.poolsTotal.Set(float64(mgr.PoolCount()))
	}
	b.log.Info("block priced",
		"block", block,
		"updates", len(updates),
		"prices", emitted,
		"elapsed", time.Since(started))
}

// loadPools fetches missing pool state in parallel and feeds it into the
// manager. Pools whose load fails are isolated.
func (b *BlockPricer) loadPools(ctx context.Context, block uint64, pools []graphs.PoolPairInfoDirection) {
	seen := make(map[common.Address]graphs.PoolPairInfoDirection, len(pools))
	for _, dir := range pools {
		seen[dir.Info.PoolAddr] = dir
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for _, dir := range seen {
		dir := dir
		g.Go(func() error {
			state, err := b.cfg.Loader.TryLoadState(
				gctx, dir.Info.PoolAddr, dir.Info.DexType, dir.Info.Pair(), block)
			if err != nil {
				b.log.Warn("pool state load failed, isolating",
					"pool", dir.Info.PoolAddr, "block", block, "err", err)
				b.markBad(dir.Info.Pair(), dir.Info.PoolAddr)
				return nil
			}
			b.cfg.Manager.NewState(block, dir.Info.PoolAddr, state)
			return nil
		})
	}
	g.Wait()
}

// markBad excises a pool everywhere and returns the pairs whose
// subgraphs were torn down by the excision.
func (b *BlockPricer) markBad(poolPair pair.Pair, poolAddr common.Address) []pair.Pair {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.badPoolsTotal.Inc()
	}
	return b.cfg.Manager.BadPoolState(poolPair, poolAddr)
}

func (b *BlockPricer) countUpdate(u protocols.PoolUpdate) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.updatesTotal.WithLabelValues(u.Delta.Kind.String()).Inc()
	}
}

func (b *BlockPricer) countUnpriced() {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.unpricedPairs.Inc()
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
