// Package ethereum loads pool state snapshots straight from an Ethereum
// node. Each load is a handful of eth_call reads pinned to a block, so a
// pool re-queried for block N always describes block N even when the head
// has moved on.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
	"github.com/defistate/defi-pricing-go/protocols/poolregistry"
	"github.com/defistate/defi-pricing-go/protocols/token"
	"github.com/defistate/defi-pricing-go/protocols/uniswapv2"
	"github.com/defistate/defi-pricing-go/protocols/uniswapv3"
)

// Function selectors for the view calls the loader issues.
var (
	selGetReserves = []byte{0x09, 0x02, 0xf1, 0xac} // getReserves()
	selSlot0       = []byte{0x38, 0x50, 0xc7, 0xbd} // slot0()
	selLiquidity   = []byte{0x1a, 0x68, 0x65, 0x02} // liquidity()
	selDecimals    = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

const defaultV2FeeBps = 30

// ContractCaller is the slice of the ethclient surface the loader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Loader implements pricing.StateLoader against a live node. Pool metadata
// comes from the registry when the pool has been announced; token decimals
// are fetched once and cached in the token system.
type Loader struct {
	caller   ContractCaller
	registry *poolregistry.Registry
	tokens   *token.System
}

// NewLoader wires a loader over the given node connection. registry and
// tokens may be freshly created; both fill up as pools are discovered.
func NewLoader(caller ContractCaller, registry *poolregistry.Registry, tokens *token.System) (*Loader, error) {
	if caller == nil {
		return nil, errors.New("ethereum: nil contract caller")
	}
	if registry == nil {
		return nil, errors.New("ethereum: nil pool registry")
	}
	if tokens == nil {
		return nil, errors.New("ethereum: nil token system")
	}
	return &Loader{caller: caller, registry: registry, tokens: tokens}, nil
}

// TryLoadState fetches the pool's state at the given block and wraps it in
// a PoolState stamped with that block.
func (l *Loader) TryLoadState(
	ctx context.Context,
	pool common.Address,
	dex protocols.Protocol,
	p pair.Pair,
	block uint64,
) (*protocols.PoolState, error) {
	token0, token1, feeBps := l.poolMeta(pool, p)

	dec0, err := l.decimals(ctx, token0, block)
	if err != nil {
		return nil, fmt.Errorf("decimals for %s: %w", token0, err)
	}
	dec1, err := l.decimals(ctx, token1, block)
	if err != nil {
		return nil, fmt.Errorf("decimals for %s: %w", token1, err)
	}

	var amm protocols.AMM
	switch dex {
	case protocols.UniswapV2, protocols.SushiSwapV2:
		amm, err = l.loadV2(ctx, pool, token0, token1, dec0, dec1, feeBps, block)
	case protocols.UniswapV3, protocols.SushiSwapV3, protocols.PancakeSwapV3:
		amm, err = l.loadV3(ctx, pool, token0, token1, dec0, dec1, block)
	default:
		return nil, fmt.Errorf("ethereum: no loader for protocol %s", dex)
	}
	if err != nil {
		return nil, err
	}
	return protocols.NewPoolState(amm, block), nil
}

// poolMeta resolves the pool's token order and fee, preferring registry
// metadata over the pair carried by the update stream.
func (l *Loader) poolMeta(pool common.Address, p pair.Pair) (common.Address, common.Address, uint16) {
	if view, ok := l.registry.GetByAddress(pool); ok {
		fee := view.FeeBps
		if fee == 0 {
			fee = defaultV2FeeBps
		}
		return view.Token0, view.Token1, fee
	}
	return p.Token0, p.Token1, defaultV2FeeBps
}

func (l *Loader) loadV2(
	ctx context.Context,
	pool, token0, token1 common.Address,
	dec0, dec1 uint8,
	feeBps uint16,
	block uint64,
) (protocols.AMM, error) {
	out, err := l.call(ctx, pool, selGetReserves, block)
	if err != nil {
		return nil, fmt.Errorf("getReserves %s: %w", pool, err)
	}
	// reserve0 | reserve1 | blockTimestampLast, one word each
	if len(out) < 64 {
		return nil, fmt.Errorf("getReserves %s: short return (%d bytes)", pool, len(out))
	}
	reserve0 := new(big.Int).SetBytes(out[:32])
	reserve1 := new(big.Int).SetBytes(out[32:64])
	return uniswapv2.NewPool(pool, token0, token1, dec0, dec1, reserve0, reserve1, feeBps)
}

func (l *Loader) loadV3(
	ctx context.Context,
	pool, token0, token1 common.Address,
	dec0, dec1 uint8,
	block uint64,
) (protocols.AMM, error) {
	out, err := l.call(ctx, pool, selSlot0, block)
	if err != nil {
		return nil, fmt.Errorf("slot0 %s: %w", pool, err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("slot0 %s: short return (%d bytes)", pool, len(out))
	}
	sqrtPrice := new(uint256.Int)
	if overflow := sqrtPrice.SetFromBig(new(big.Int).SetBytes(out[:32])); overflow {
		return nil, fmt.Errorf("slot0 %s: sqrtPriceX96 overflows 256 bits", pool)
	}

	out, err = l.call(ctx, pool, selLiquidity, block)
	if err != nil {
		return nil, fmt.Errorf("liquidity %s: %w", pool, err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("liquidity %s: short return (%d bytes)", pool, len(out))
	}
	liquidity := new(big.Int).SetBytes(out[:32])

	return uniswapv3.NewPool(pool, token0, token1, dec0, dec1, sqrtPrice, liquidity)
}

// decimals returns the token's decimals, fetching and caching on first use.
func (l *Loader) decimals(ctx context.Context, addr common.Address, block uint64) (uint8, error) {
	if t, ok := l.tokens.GetByAddress(addr); ok {
		return t.Decimals, nil
	}

	out, err := l.call(ctx, addr, selDecimals, block)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short decimals return (%d bytes)", len(out))
	}
	word := new(big.Int).SetBytes(out[:32])
	if !word.IsUint64() || word.Uint64() > 77 {
		return 0, fmt.Errorf("implausible decimals %s", word)
	}
	dec := uint8(word.Uint64())

	// Concurrent loads may race to fetch the same token; decimals is
	// immutable so the duplicate write is harmless.
	l.tokens.Add(token.TokenView{Address: addr, Decimals: dec})
	return dec, nil
}

func (l *Loader) call(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error) {
	msg := geth.CallMsg{To: &to, Data: data}
	return l.caller.CallContract(ctx, msg, new(big.Int).SetUint64(block))
}
