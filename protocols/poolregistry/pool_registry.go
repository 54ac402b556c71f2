// Package poolregistry tracks the static metadata of every discovered
// pool: its identifier, protocol, token pair and fee. State loaders use it
// to know what to fetch for an address; the graph layer only ever sees the
// derived token pair.
package poolregistry

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defi-pricing-go/protocols"
)

// PoolView is the static metadata kept per pool. It never changes after
// discovery; mutable state lives with the pool implementations.
type PoolView struct {
	Key            PoolKey            `json:"key"`
	Protocol       protocols.Protocol `json:"protocol"`
	Token0         common.Address     `json:"token0"`
	Token1         common.Address     `json:"token1"`
	FeeBps         uint16             `json:"feeBps"`
	FirstSeenBlock uint64             `json:"firstSeenBlock"`
}

// Address returns the pool's contract address when the key carries one.
func (p PoolView) Address() (common.Address, error) {
	return p.Key.ToAddress()
}
