// Package token holds ERC-20 metadata needed to scale raw pool reserves
// into human units. The pricing math divides every reserve by 10^decimals,
// so a wrong entry here skews every route through that token.
package token

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenView is the metadata kept per token.
type TokenView struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals"`
}

// System provides fast, concurrent-safe access to token metadata. Entries
// are added as pools referencing the token are discovered; a token is never
// removed.
type System struct {
	mu        sync.RWMutex
	byAddress map[common.Address]TokenView
}

// NewSystem creates a token system pre-populated with the given tokens.
func NewSystem(tokens []TokenView) *System {
	byAddress := make(map[common.Address]TokenView, len(tokens))
	for _, t := range tokens {
		byAddress[t.Address] = t
	}
	return &System{byAddress: byAddress}
}

// GetByAddress retrieves a token by its contract address.
func (s *System) GetByAddress(address common.Address) (TokenView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byAddress[address]
	return t, ok
}

// Add records a token's metadata, overwriting any previous entry.
func (s *System) Add(t TokenView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddress[t.Address] = t
}

// Len returns the number of known tokens.
func (s *System) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAddress)
}

// All returns a defensive copy of all tokens in the system.
func (s *System) All() []TokenView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]TokenView, 0, len(s.byAddress))
	for _, t := range s.byAddress {
		all = append(all, t)
	}
	return all
}
