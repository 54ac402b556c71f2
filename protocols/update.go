package protocols

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/defi-pricing-go/pair"
)

// DeltaKind classifies a state delta extracted from one trace action.
type DeltaKind uint8

const (
	DeltaNone DeltaKind = iota
	// DeltaNewPool announces a newly discovered pool; it carries no
	// reserve change.
	DeltaNewPool
	DeltaSwap
	DeltaMint
	DeltaBurn
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaNewPool:
		return "NewPool"
	case DeltaSwap:
		return "Swap"
	case DeltaMint:
		return "Mint"
	case DeltaBurn:
		return "Burn"
	default:
		return "None"
	}
}

// StateDelta is an incremental change to one pool's state, already decoded
// and validated by the trace classification layer.
//
// Amount0/Amount1 are signed reserve deltas from the pool's perspective.
// SqrtPriceX96 and Liquidity are post-event absolutes for tick-based pools
// and are nil when the event does not touch them.
type StateDelta struct {
	Kind         DeltaKind
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *uint256.Int
	Liquidity    *big.Int
}

// PoolUpdate is one normalized action from the trace decoding layer,
// block-ordered within a batch.
type PoolUpdate struct {
	Block       uint64
	PoolAddress common.Address
	Protocol    Protocol
	// Pair is the pool's token pair; the zero Pair when unknown.
	Pair       pair.Pair
	Delta      StateDelta
	IsTransfer bool
}

// GetPair returns the token pair affected by the update. Transfers and
// updates without a known pair report ok=false; they still carry a state
// delta but never trigger a graph search.
func (u PoolUpdate) GetPair() (pair.Pair, bool) {
	if u.Pair.IsZero() || u.IsTransfer {
		return pair.Pair{}, false
	}
	return u.Pair, true
}
