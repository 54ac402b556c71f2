package pricing

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// DexPriceMsg carries one finalized multi-hop price to downstream
// consumers. Price is the amount of quote token one unit of the pair's
// base token buys, in exact rational form.
type DexPriceMsg struct {
	Block uint64
	Pair  pair.Pair
	Price *big.Rat
}

// StateLoader fetches one pool's live state at a block. Implementations
// talk to the chain; the pricer only consumes the loaded result.
type StateLoader interface {
	TryLoadState(
		ctx context.Context,
		pool common.Address,
		dex protocols.Protocol,
		p pair.Pair,
		block uint64,
	) (*protocols.PoolState, error)
}
