package graphs

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolPairInformation is the immutable descriptor of one liquidity pool
// edge: which pool, on which protocol, connecting which two tokens.
type PoolPairInformation struct {
	PoolAddr common.Address     `json:"poolAddr"`
	DexType  protocols.Protocol `json:"dexType"`
	Token0   common.Address     `json:"token0"`
	Token1   common.Address     `json:"token1"`
}

// NewPoolPairInformation builds a descriptor for the given pool.
func NewPoolPairInformation(
	poolAddr common.Address,
	dex protocols.Protocol,
	token0, token1 common.Address,
) PoolPairInformation {
	return PoolPairInformation{PoolAddr: poolAddr, DexType: dex, Token0: token0, Token1: token1}
}

// Pair returns the pool's token pair in token0/token1 order.
func (i PoolPairInformation) Pair() pair.Pair {
	return pair.New(i.Token0, i.Token1)
}

// PoolPairInfoDirection records which side of the pool is the "in" token
// for one traversal direction through the edge.
type PoolPairInfoDirection struct {
	Info     PoolPairInformation `json:"info"`
	Token0In bool                `json:"token0In"`
}

// BaseToken returns the traversal's input token.
func (d PoolPairInfoDirection) BaseToken() common.Address {
	if d.Token0In {
		return d.Info.Token0
	}
	return d.Info.Token1
}

// QuoteToken returns the traversal's output token.
func (d PoolPairInfoDirection) QuoteToken() common.Address {
	if d.Token0In {
		return d.Info.Token1
	}
	return d.Info.Token0
}

// SubGraphEdge is one directed edge inside a verified subgraph: a pool
// traversal plus its hop distances to the subgraph's endpoints, kept for
// extension placement during price aggregation.
type SubGraphEdge struct {
	Info            PoolPairInfoDirection `json:"info"`
	DistanceToStart int                   `json:"distanceToStart"`
	DistanceToEnd   int                   `json:"distanceToEnd"`
}

// NewSubGraphEdge pairs a directed pool traversal with its distances to
// the subgraph endpoints.
func NewSubGraphEdge(info PoolPairInfoDirection, toStart, toEnd int) SubGraphEdge {
	return SubGraphEdge{Info: info, DistanceToStart: toStart, DistanceToEnd: toEnd}
}
