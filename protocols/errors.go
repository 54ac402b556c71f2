package protocols

import "errors"

var (
	// ErrEmptyReserves is returned when a pool has no liquidity to price
	// against (zero reserves or an uninitialized tick price).
	ErrEmptyReserves = errors.New("pool has empty reserves")
	// ErrUnknownToken is returned when the requested base token is not one
	// of the pool's two tokens.
	ErrUnknownToken = errors.New("token is not part of pool")
	// ErrUnsupportedDelta is returned when a state delta kind cannot be
	// applied to the pool's protocol math.
	ErrUnsupportedDelta = errors.New("unsupported state delta for pool")
	// ErrNegativeReserves is returned when applying a delta would drive a
	// reserve below zero. It is the canonical "bad pool state" signal.
	ErrNegativeReserves = errors.New("state delta drives reserves negative")
)
