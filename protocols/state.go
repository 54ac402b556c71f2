package protocols

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AMM is the contract protocol-specific pool math must satisfy. Price
// returns the instantaneous quote/base price for the given base token;
// TVL returns the pool's reserves split into base-side and quote-side
// amounts, decimal-adjusted, used to weight multi-path aggregation.
//
// Implementations are not safe for concurrent use; PoolState provides the
// locking discipline around them.
type AMM interface {
	Address() common.Address
	Tokens() (token0, token1 common.Address)
	Price(base common.Address) (*big.Rat, error)
	TVL(base common.Address) (baseSide, quoteSide *big.Rat, err error)
	Apply(delta StateDelta) error
	Clone() AMM
}

// PoolState is the live state snapshot for one pool address.
//
// It is shared by reference: every subgraph edge referencing the pool sees
// the same state, so a single update is visible everywhere. Exactly one
// writer (the state-update pipeline) mutates it via Apply while any number
// of concurrent price readers observe a consistent snapshot.
type PoolState struct {
	mu         sync.RWMutex
	amm        AMM
	lastUpdate uint64
}

// NewPoolState wraps freshly loaded pool math for the given block.
func NewPoolState(amm AMM, block uint64) *PoolState {
	return &PoolState{amm: amm, lastUpdate: block}
}

// Price returns the quote/base price against the current snapshot.
func (s *PoolState) Price(base common.Address) (*big.Rat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amm.Price(base)
}

// TVL returns the decimal-adjusted (base-side, quote-side) reserve amounts.
func (s *PoolState) TVL(base common.Address) (*big.Rat, *big.Rat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amm.TVL(base)
}

// LastUpdate returns the block of the most recent applied update.
func (s *PoolState) LastUpdate() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Apply routes an incremental delta into the pool math. The update's block
// becomes the state's last-update block even if the delta is empty.
func (s *PoolState) Apply(u PoolUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Delta.Kind != DeltaNone && u.Delta.Kind != DeltaNewPool {
		if err := s.amm.Apply(u.Delta); err != nil {
			return err
		}
	}
	s.lastUpdate = u.Block
	return nil
}

// Clone returns a deep copy sharing no state with the receiver. Used by the
// state tracker to keep per-block verification snapshots.
func (s *PoolState) Clone() *PoolState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &PoolState{amm: s.amm.Clone(), lastUpdate: s.lastUpdate}
}
