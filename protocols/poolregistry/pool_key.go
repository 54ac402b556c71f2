package poolregistry

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PoolKey is a fixed-size 32-byte pool identifier. Most pools are keyed by
// a 20-byte contract address, but some protocols (Balancer, Uniswap v4)
// use bytes32 identifiers; PoolKey normalizes both into one comparable,
// hashable type.
//
// Encoding rules:
//   - addresses are stored ABI-aligned: [0..11] zero padding, [12..31]
//     the address
//   - bytes32 identifiers are stored verbatim
type PoolKey [32]byte

// Bytes returns the raw underlying bytes.
func (p PoolKey) Bytes() []byte {
	return p[:]
}

// String returns the 0x-prefixed hex form of the key.
func (p PoolKey) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// MarshalJSON serializes the key as a hex string.
func (p PoolKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a hex string, with or without the 0x prefix, into
// the key. Short inputs fill the leading bytes and the rest stays zero;
// this does not ABI-align addresses, use AddressToPoolKey for those.
func (p *PoolKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(s, "0x")

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) > 32 {
		return errors.New("pool key too long")
	}

	// Wipe existing data to prevent dirty reads if reusing the struct
	*p = PoolKey{}
	copy(p[:], b)

	return nil
}

// AddressToPoolKey converts an address into a PoolKey, ABI-aligned with
// the address right-justified in the 32-byte word.
func AddressToPoolKey(addr common.Address) PoolKey {
	var key PoolKey
	copy(key[12:], addr[:])
	return key
}

// ToAddress interprets the PoolKey as an address. The key must carry 12
// leading zero bytes, matching the ABI encoding of an address in a 32-byte
// word; a bytes32 identifier that happens to start with 12 zero bytes
// would be misclassified, which is statistically negligible for hashes.
func (p PoolKey) ToAddress() (common.Address, error) {
	for _, b := range p[:12] {
		if b != 0 {
			return common.Address{}, errors.New("pool key is not an ABI-encoded Ethereum address")
		}
	}
	return common.Address(p[12:32]), nil
}

// Bytes32ToPoolKey wraps a raw bytes32 identifier verbatim.
func Bytes32ToPoolKey(b [32]byte) PoolKey {
	return PoolKey(b)
}
