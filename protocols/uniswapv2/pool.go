// Package uniswapv2 implements constant-product pool math for Uniswap V2
// style pools (UniswapV2, SushiSwapV2 and compatible forks).
package uniswapv2

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defi-pricing-go/protocols"
)

// Pool holds reserves for one constant-product pool. It implements
// protocols.AMM; callers wrap it in protocols.PoolState for concurrent use.
type Pool struct {
	addr      common.Address
	token0    common.Address
	token1    common.Address
	decimals0 uint8
	decimals1 uint8
	reserve0  *big.Int
	reserve1  *big.Int
	feeBps    uint16
}

// NewPool constructs a pool from a loaded reserve snapshot. Reserves are
// deep-copied so later mutation of the inputs cannot alias pool state.
func NewPool(
	addr, token0, token1 common.Address,
	decimals0, decimals1 uint8,
	reserve0, reserve1 *big.Int,
	feeBps uint16,
) (*Pool, error) {
	if reserve0 == nil || reserve1 == nil {
		return nil, errors.New("uniswapv2: nil reserves")
	}
	if reserve0.Sign() < 0 || reserve1.Sign() < 0 {
		return nil, fmt.Errorf("uniswapv2: %w", protocols.ErrNegativeReserves)
	}
	return &Pool{
		addr:      addr,
		token0:    token0,
		token1:    token1,
		decimals0: decimals0,
		decimals1: decimals1,
		reserve0:  new(big.Int).Set(reserve0),
		reserve1:  new(big.Int).Set(reserve1),
		feeBps:    feeBps,
	}, nil
}

func (p *Pool) Address() common.Address { return p.addr }

func (p *Pool) Tokens() (common.Address, common.Address) { return p.token0, p.token1 }

// FeeBps returns the pool swap fee in basis points.
func (p *Pool) FeeBps() uint16 { return p.feeBps }

// Price returns the spot price of the base token in units of the other
// token, decimal-adjusted: (quoteReserve / 10^quoteDecimals) per
// (baseReserve / 10^baseDecimals).
func (p *Pool) Price(base common.Address) (*big.Rat, error) {
	if p.reserve0.Sign() == 0 || p.reserve1.Sign() == 0 {
		return nil, fmt.Errorf("uniswapv2 %s: %w", p.addr, protocols.ErrEmptyReserves)
	}

	r0 := scaled(p.reserve0, p.decimals0)
	r1 := scaled(p.reserve1, p.decimals1)

	switch base {
	case p.token0:
		return new(big.Rat).Quo(r1, r0), nil
	case p.token1:
		return new(big.Rat).Quo(r0, r1), nil
	default:
		return nil, fmt.Errorf("uniswapv2 %s: %w", p.addr, protocols.ErrUnknownToken)
	}
}

// TVL returns the decimal-adjusted reserves as (base-side, quote-side).
func (p *Pool) TVL(base common.Address) (*big.Rat, *big.Rat, error) {
	r0 := scaled(p.reserve0, p.decimals0)
	r1 := scaled(p.reserve1, p.decimals1)

	switch base {
	case p.token0:
		return r0, r1, nil
	case p.token1:
		return r1, r0, nil
	default:
		return nil, nil, fmt.Errorf("uniswapv2 %s: %w", p.addr, protocols.ErrUnknownToken)
	}
}

// Apply folds a signed reserve delta into the pool. Swaps and mints carry
// signed amounts from the pool's perspective; burns carry the withdrawn
// amounts and are subtracted.
func (p *Pool) Apply(delta protocols.StateDelta) error {
	a0 := delta.Amount0
	a1 := delta.Amount1
	if a0 == nil {
		a0 = new(big.Int)
	}
	if a1 == nil {
		a1 = new(big.Int)
	}

	next0 := new(big.Int).Set(p.reserve0)
	next1 := new(big.Int).Set(p.reserve1)

	switch delta.Kind {
	case protocols.DeltaSwap, protocols.DeltaMint:
		next0.Add(next0, a0)
		next1.Add(next1, a1)
	case protocols.DeltaBurn:
		next0.Sub(next0, new(big.Int).Abs(a0))
		next1.Sub(next1, new(big.Int).Abs(a1))
	default:
		return fmt.Errorf("uniswapv2 %s: %s: %w", p.addr, delta.Kind, protocols.ErrUnsupportedDelta)
	}

	if next0.Sign() < 0 || next1.Sign() < 0 {
		return fmt.Errorf("uniswapv2 %s: %w", p.addr, protocols.ErrNegativeReserves)
	}

	p.reserve0 = next0
	p.reserve1 = next1
	return nil
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() protocols.AMM {
	clone := *p
	clone.reserve0 = new(big.Int).Set(p.reserve0)
	clone.reserve1 = new(big.Int).Set(p.reserve1)
	return &clone
}

// scaled returns amount / 10^decimals as an exact rational.
func scaled(amount *big.Int, decimals uint8) *big.Rat {
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(new(big.Int).Set(amount), denom)
}
