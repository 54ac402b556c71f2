package pricing

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/defi-pricing-go/graphs"
	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
	"github.com/defistate/defi-pricing-go/protocols/uniswapv2"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

var (
	usdc = addr(1)
	weth = addr(2)
	dai  = addr(3)

	poolA = addr(10) // USDC-WETH
	poolB = addr(11) // WETH-DAI
)

// poolSpec describes what the fake loader returns for a pool.
type poolSpec struct {
	token0, token1 common.Address
	r0, r1         int64
}

// fakeLoader serves canned reserve snapshots and records load counts.
type fakeLoader struct {
	specs map[common.Address]poolSpec
	fail  map[common.Address]bool
	loads int
}

func (l *fakeLoader) TryLoadState(
	_ context.Context,
	pool common.Address,
	_ protocols.Protocol,
	_ pair.Pair,
	block uint64,
) (*protocols.PoolState, error) {
	l.loads++
	if l.fail[pool] {
		return nil, fmt.Errorf("rpc: pool %s unavailable", pool)
	}
	spec, ok := l.specs[pool]
	if !ok {
		return nil, fmt.Errorf("no spec for pool %s", pool)
	}
	amm, err := uniswapv2.NewPool(
		pool, spec.token0, spec.token1, 18, 18,
		big.NewInt(spec.r0), big.NewInt(spec.r1), 30)
	if err != nil {
		return nil, err
	}
	return protocols.NewPoolState(amm, block), nil
}

func scenarioLoader() *fakeLoader {
	return &fakeLoader{
		specs: map[common.Address]poolSpec{
			poolA: {token0: usdc, token1: weth, r0: 1000, r1: 1},
			poolB: {token0: weth, token1: dai, r0: 1, r1: 1000},
		},
		fail: make(map[common.Address]bool),
	}
}

func newPoolUpdate(block uint64, pool common.Address, p pair.Pair, kind protocols.DeltaKind) protocols.PoolUpdate {
	return protocols.PoolUpdate{
		Block:       block,
		PoolAddress: pool,
		Protocol:    protocols.UniswapV2,
		Pair:        p,
		Delta:       protocols.StateDelta{Kind: kind},
	}
}

func newTestPricer(t *testing.T, loader StateLoader, updates <-chan protocols.PoolUpdate, out chan<- DexPriceMsg) (*BlockPricer, *graphs.GraphManager) {
	t.Helper()
	mgr, err := graphs.NewGraphManager(graphs.Config{})
	require.NoError(t, err)
	pricer, err := NewBlockPricer(Config{
		Manager: mgr,
		Loader:  loader,
		Quote:   dai,
		Updates: updates,
		Out:     out,
		Workers: 2,
	})
	require.NoError(t, err)
	return pricer, mgr
}

func TestBlockPricerRun(t *testing.T) {
	updates := make(chan protocols.PoolUpdate, 8)
	out := make(chan DexPriceMsg, 8)
	loader := scenarioLoader()
	pricer, mgr := newTestPricer(t, loader, updates, out)

	updates <- newPoolUpdate(1, poolA, pair.New(usdc, weth), protocols.DeltaNewPool)
	updates <- newPoolUpdate(1, poolB, pair.New(weth, dai), protocols.DeltaNewPool)
	close(updates)

	require.NoError(t, pricer.Run(context.Background()))
	close(out)

	prices := make(map[pair.Pair]*big.Rat)
	for msg := range out {
		assert.Equal(t, uint64(1), msg.Block)
		prices[msg.Pair] = msg.Price
	}

	require.Len(t, prices, 2)
	usdcDai := prices[pair.New(usdc, dai)]
	require.NotNil(t, usdcDai)
	assert.Equal(t, 0, usdcDai.Cmp(big.NewRat(1, 1)), "1000 USDC/WETH * 1000 DAI/WETH = 1")

	wethDai := prices[pair.New(weth, dai)]
	require.NotNil(t, wethDai)
	assert.Equal(t, 0, wethDai.Cmp(big.NewRat(1000, 1)))

	assert.Equal(t, 2, mgr.SubgraphCount())
}

func TestBlockPricerIncrementalBlocks(t *testing.T) {
	updates := make(chan protocols.PoolUpdate, 8)
	out := make(chan DexPriceMsg, 16)
	loader := scenarioLoader()
	pricer, _ := newTestPricer(t, loader, updates, out)

	updates <- newPoolUpdate(1, poolA, pair.New(usdc, weth), protocols.DeltaNewPool)
	updates <- newPoolUpdate(1, poolB, pair.New(weth, dai), protocols.DeltaNewPool)

	// block 2: a swap doubles WETH and halves DAI in pool B
	swap := newPoolUpdate(2, poolB, pair.New(weth, dai), protocols.DeltaSwap)
	swap.Delta.Amount0 = big.NewInt(1)
	swap.Delta.Amount1 = big.NewInt(-500)
	updates <- swap
	close(updates)

	require.NoError(t, pricer.Run(context.Background()))
	close(out)

	var lastWethDai *big.Rat
	for msg := range out {
		if msg.Pair == pair.New(weth, dai) {
			lastWethDai = msg.Price
		}
	}
	require.NotNil(t, lastWethDai)
	// 500 DAI / 2 WETH after the swap
	assert.Equal(t, 0, lastWethDai.Cmp(big.NewRat(250, 1)),
		"block 2 must price against updated reserves without a new search")
}

func TestBlockPricerBadPoolIsolation(t *testing.T) {
	updates := make(chan protocols.PoolUpdate, 8)
	out := make(chan DexPriceMsg, 16)
	loader := scenarioLoader()
	pricer, mgr := newTestPricer(t, loader, updates, out)

	updates <- newPoolUpdate(1, poolA, pair.New(usdc, weth), protocols.DeltaNewPool)
	updates <- newPoolUpdate(1, poolB, pair.New(weth, dai), protocols.DeltaNewPool)

	// block 2: a burn that drains more than pool B holds
	burn := newPoolUpdate(2, poolB, pair.New(weth, dai), protocols.DeltaBurn)
	burn.Delta.Amount0 = big.NewInt(1_000_000)
	burn.Delta.Amount1 = big.NewInt(1_000_000)
	updates <- burn
	close(updates)

	require.NoError(t, pricer.Run(context.Background()))

	// both quote pairs depended solely on pool B; they must be gone, and
	// the failure must not have escaped as a panic or error
	_, ok := mgr.GetPrice(pair.New(weth, dai))
	assert.False(t, ok)
	_, ok = mgr.GetPrice(pair.New(usdc, dai))
	assert.False(t, ok)
}

func TestBlockPricerLoadFailureIsolated(t *testing.T) {
	updates := make(chan protocols.PoolUpdate, 8)
	out := make(chan DexPriceMsg, 8)
	loader := scenarioLoader()
	loader.fail[poolA] = true
	pricer, mgr := newTestPricer(t, loader, updates, out)

	updates <- newPoolUpdate(1, poolA, pair.New(usdc, weth), protocols.DeltaNewPool)
	updates <- newPoolUpdate(1, poolB, pair.New(weth, dai), protocols.DeltaNewPool)
	close(updates)

	require.NoError(t, pricer.Run(context.Background()))
	close(out)

	prices := make(map[pair.Pair]*big.Rat)
	for msg := range out {
		prices[msg.Pair] = msg.Price
	}

	// WETH-DAI only needs pool B and must still price
	require.NotNil(t, prices[pair.New(weth, dai)])
	// USDC-DAI needed the unloadable pool A
	assert.Nil(t, prices[pair.New(usdc, dai)])
	_, ok := mgr.GetPrice(pair.New(usdc, dai))
	assert.False(t, ok)
}

func TestGraphSearchPar(t *testing.T) {
	mgr, err := graphs.NewGraphManager(graphs.Config{})
	require.NoError(t, err)

	updates := []protocols.PoolUpdate{
		newPoolUpdate(1, poolA, pair.New(usdc, weth), protocols.DeltaSwap),
		newPoolUpdate(1, poolB, pair.New(weth, dai), protocols.DeltaSwap),
	}

	t.Run("DerivesQuotePairsPerToken", func(t *testing.T) {
		res := GraphSearchPar(context.Background(), mgr, dai, updates, 2)
		// usdc-dai, weth-dai; the quote token itself never forms a pair
		assert.Len(t, res.Queries, 2)
		assert.Len(t, res.Touched, 2)
	})

	t.Run("TransfersSkipped", func(t *testing.T) {
		transfer := newPoolUpdate(1, poolA, pair.New(usdc, weth), protocols.DeltaSwap)
		transfer.IsTransfer = true
		res := GraphSearchPar(context.Background(), mgr, dai, []protocols.PoolUpdate{transfer}, 2)
		assert.Empty(t, res.Queries)
	})

	t.Run("CoveredPairsSkipped", func(t *testing.T) {
		mgr.AddPool(1, pair.New(weth, dai), poolB, protocols.UniswapV2)
		_, ok := mgr.CreateSubpool(1, pair.New(weth, dai))
		require.True(t, ok)

		res := GraphSearchPar(context.Background(), mgr, dai, updates, 2)
		require.Len(t, res.Queries, 1)
		assert.Equal(t, pair.New(usdc, dai).Ordered(), res.Queries[0].Pair)
		assert.Len(t, res.Touched, 2, "covered pairs still get a price emission")
	})
}

func TestParStateQuery(t *testing.T) {
	mgr, err := graphs.NewGraphManager(graphs.Config{})
	require.NoError(t, err)
	mgr.AddPool(1, pair.New(usdc, weth), poolA, protocols.UniswapV2)
	mgr.AddPool(1, pair.New(weth, dai), poolB, protocols.UniswapV2)
	mgr.AddPool(1, pair.New(usdc, dai), addr(12), protocols.UniswapV3)

	t.Run("RoutesAroundIgnoredPairs", func(t *testing.T) {
		ignore := mapset.NewThreadUnsafeSet[pair.Pair](pair.New(usdc, dai).Ordered())
		res := ParStateQuery(context.Background(), mgr, []RequeryPair{
			{Pair: pair.New(usdc, dai), Block: 1, Ignore: ignore},
		}, 2)
		require.Len(t, res, 1)
		require.True(t, res[0].Ok)
		for _, dir := range res[0].Pools {
			assert.NotEqual(t, addr(12), dir.Info.PoolAddr, "direct pool is on the ignore list")
		}
	})

	t.Run("NoAlternativeRouteReportsUnpriceable", func(t *testing.T) {
		res := ParStateQuery(context.Background(), mgr, []RequeryPair{
			{Pair: pair.New(usdc, addr(99)), Block: 1},
		}, 2)
		require.Len(t, res, 1)
		assert.False(t, res[0].Ok)
	})

	t.Run("EmptyBatchIsNoOp", func(t *testing.T) {
		assert.Empty(t, ParStateQuery(context.Background(), mgr, nil, 2))
	})
}

func TestBlockPricerConfigValidation(t *testing.T) {
	mgr, err := graphs.NewGraphManager(graphs.Config{})
	require.NoError(t, err)
	loader := scenarioLoader()
	updates := make(chan protocols.PoolUpdate)
	out := make(chan DexPriceMsg)

	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"MissingManager", func(c *Config) { c.Manager = nil }},
		{"MissingLoader", func(c *Config) { c.Loader = nil }},
		{"MissingQuote", func(c *Config) { c.Quote = common.Address{} }},
		{"MissingUpdates", func(c *Config) { c.Updates = nil }},
		{"MissingOut", func(c *Config) { c.Out = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Manager: mgr, Loader: loader, Quote: dai, Updates: updates, Out: out}
			tc.mut(&cfg)
			_, err := NewBlockPricer(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBlockPricerContextCancel(t *testing.T) {
	updates := make(chan protocols.PoolUpdate)
	out := make(chan DexPriceMsg)
	pricer, _ := newTestPricer(t, scenarioLoader(), updates, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pricer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pricer did not stop on cancellation")
	}
}
