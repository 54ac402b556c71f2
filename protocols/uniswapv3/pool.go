// Package uniswapv3 implements concentrated-liquidity pool math for
// Uniswap V3 style pools. Prices derive from the pool's sqrtPriceX96;
// TVL is approximated by the virtual reserves implied by the currently
// active liquidity.
package uniswapv3

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/defi-pricing-go/protocols"
)

// q96 = 2^96, the fixed-point scale of sqrtPriceX96.
var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// Pool holds the tick state for one concentrated-liquidity pool. It
// implements protocols.AMM; callers wrap it in protocols.PoolState.
type Pool struct {
	addr         common.Address
	token0       common.Address
	token1       common.Address
	decimals0    uint8
	decimals1    uint8
	sqrtPriceX96 *uint256.Int
	liquidity    *big.Int
}

// NewPool constructs a pool from a loaded slot0/liquidity snapshot.
func NewPool(
	addr, token0, token1 common.Address,
	decimals0, decimals1 uint8,
	sqrtPriceX96 *uint256.Int,
	liquidity *big.Int,
) (*Pool, error) {
	if sqrtPriceX96 == nil || liquidity == nil {
		return nil, fmt.Errorf("uniswapv3 %s: nil slot0 snapshot", addr)
	}
	return &Pool{
		addr:         addr,
		token0:       token0,
		token1:       token1,
		decimals0:    decimals0,
		decimals1:    decimals1,
		sqrtPriceX96: sqrtPriceX96.Clone(),
		liquidity:    new(big.Int).Set(liquidity),
	}, nil
}

func (p *Pool) Address() common.Address { return p.addr }

func (p *Pool) Tokens() (common.Address, common.Address) { return p.token0, p.token1 }

// rawPrice returns token1/token0 before decimal adjustment:
// (sqrtPriceX96 / 2^96)^2.
func (p *Pool) rawPrice() *big.Rat {
	sqrt := p.sqrtPriceX96.ToBig()
	num := new(big.Int).Mul(sqrt, sqrt)
	denom := new(big.Int).Mul(q96, q96)
	return new(big.Rat).SetFrac(num, denom)
}

// Price returns the decimal-adjusted spot price of the base token in
// units of the other token.
func (p *Pool) Price(base common.Address) (*big.Rat, error) {
	if p.sqrtPriceX96.IsZero() {
		return nil, fmt.Errorf("uniswapv3 %s: %w", p.addr, protocols.ErrEmptyReserves)
	}

	// raw is token1/token0 in raw units; rescale to whole tokens.
	adjust := new(big.Rat).SetFrac(
		pow10(p.decimals0),
		pow10(p.decimals1),
	)
	price := new(big.Rat).Mul(p.rawPrice(), adjust)

	switch base {
	case p.token0:
		return price, nil
	case p.token1:
		if price.Sign() == 0 {
			return nil, fmt.Errorf("uniswapv3 %s: %w", p.addr, protocols.ErrEmptyReserves)
		}
		return price.Inv(price), nil
	default:
		return nil, fmt.Errorf("uniswapv3 %s: %w", p.addr, protocols.ErrUnknownToken)
	}
}

// TVL returns the virtual reserves implied by the active liquidity, as
// decimal-adjusted (base-side, quote-side): reserve0 = L*2^96/sqrtP and
// reserve1 = L*sqrtP/2^96.
func (p *Pool) TVL(base common.Address) (*big.Rat, *big.Rat, error) {
	if base != p.token0 && base != p.token1 {
		return nil, nil, fmt.Errorf("uniswapv3 %s: %w", p.addr, protocols.ErrUnknownToken)
	}
	if p.sqrtPriceX96.IsZero() || p.liquidity.Sign() == 0 {
		zero := new(big.Rat)
		return zero, new(big.Rat), nil
	}

	sqrt := p.sqrtPriceX96.ToBig()

	r0 := new(big.Rat).SetFrac(
		new(big.Int).Mul(p.liquidity, q96),
		new(big.Int).Mul(sqrt, pow10(p.decimals0)),
	)
	r1 := new(big.Rat).SetFrac(
		new(big.Int).Mul(p.liquidity, sqrt),
		new(big.Int).Mul(q96, pow10(p.decimals1)),
	)

	if base == p.token0 {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// Apply folds a delta into the tick state. Swaps carry the post-swap
// sqrtPriceX96 and active liquidity as absolutes; mints and burns adjust
// active liquidity by the carried amount.
func (p *Pool) Apply(delta protocols.StateDelta) error {
	switch delta.Kind {
	case protocols.DeltaSwap:
		if delta.SqrtPriceX96 != nil {
			p.sqrtPriceX96 = delta.SqrtPriceX96.Clone()
		}
		if delta.Liquidity != nil {
			p.liquidity = new(big.Int).Set(delta.Liquidity)
		}
		return nil
	case protocols.DeltaMint, protocols.DeltaBurn:
		if delta.Liquidity == nil {
			return nil
		}
		next := new(big.Int).Set(p.liquidity)
		if delta.Kind == protocols.DeltaMint {
			next.Add(next, delta.Liquidity)
		} else {
			next.Sub(next, delta.Liquidity)
		}
		if next.Sign() < 0 {
			return fmt.Errorf("uniswapv3 %s: %w", p.addr, protocols.ErrNegativeReserves)
		}
		p.liquidity = next
		return nil
	default:
		return fmt.Errorf("uniswapv3 %s: %s: %w", p.addr, delta.Kind, protocols.ErrUnsupportedDelta)
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() protocols.AMM {
	clone := *p
	clone.sqrtPriceX96 = p.sqrtPriceX96.Clone()
	clone.liquidity = new(big.Int).Set(p.liquidity)
	return &clone
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
