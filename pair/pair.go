package pair

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is an unordered pair of token addresses.
//
// A Pair carries direction: Token0 is the base and Token1 the quote of a
// price query. Two Pairs describing the same unordered pair compare equal
// only after Ordered() has been applied to both; Ordered() is therefore the
// sole canonical form used as a map key by the registry.
type Pair struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
}

// New returns the Pair (token0, token1) in the given direction.
func New(token0, token1 common.Address) Pair {
	return Pair{Token0: token0, Token1: token1}
}

// Ordered returns the canonical form of the pair: the lexicographically
// smaller address first.
func (p Pair) Ordered() Pair {
	if bytes.Compare(p.Token0[:], p.Token1[:]) <= 0 {
		return p
	}
	return Pair{Token0: p.Token1, Token1: p.Token0}
}

// OrderedChanged returns the canonical form along with whether the
// direction was flipped to reach it.
func (p Pair) OrderedChanged() (bool, Pair) {
	if bytes.Compare(p.Token0[:], p.Token1[:]) <= 0 {
		return false, p
	}
	return true, Pair{Token0: p.Token1, Token1: p.Token0}
}

// Flip returns the pair with base and quote swapped.
func (p Pair) Flip() Pair {
	return Pair{Token0: p.Token1, Token1: p.Token0}
}

// EqUnordered reports direction-sensitive equality: both tokens must match
// in place, with no canonicalization applied. Callers use this to detect
// whether a requested direction matches a subgraph's stored direction.
func (p Pair) EqUnordered(other Pair) bool {
	return p.Token0 == other.Token0 && p.Token1 == other.Token1
}

// IsZero reports whether both addresses are the zero address. The zero
// Pair stands in for "no pair".
func (p Pair) IsZero() bool {
	return p.Token0 == (common.Address{}) && p.Token1 == (common.Address{})
}

// Contains reports whether addr is either side of the pair.
func (p Pair) Contains(addr common.Address) bool {
	return p.Token0 == addr || p.Token1 == addr
}

// String renders the pair as "0xbase:0xquote".
func (p Pair) String() string {
	return p.Token0.Hex() + ":" + p.Token1.Hex()
}

// Parse decodes a pair from its String form.
func Parse(s string) (Pair, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Pair{}, errors.New("pair: expected two addresses separated by ':'")
	}
	if !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return Pair{}, fmt.Errorf("pair: invalid address in %q", s)
	}
	return Pair{
		Token0: common.HexToAddress(parts[0]),
		Token1: common.HexToAddress(parts[1]),
	}, nil
}
