package protocols

import "fmt"

// Protocol identifies the DEX protocol a pool belongs to. It is stored on
// every graph edge and persisted with subgraph edge lists, so the textual
// form is part of the storage format.
type Protocol uint8

const (
	Unknown Protocol = iota
	UniswapV2
	SushiSwapV2
	UniswapV3
	SushiSwapV3
	PancakeSwapV3
	CurveCryptoSwap
)

var protocolNames = map[Protocol]string{
	Unknown:         "Unknown",
	UniswapV2:       "UniswapV2",
	SushiSwapV2:     "SushiSwapV2",
	UniswapV3:       "UniswapV3",
	SushiSwapV3:     "SushiSwapV3",
	PancakeSwapV3:   "PancakeSwapV3",
	CurveCryptoSwap: "CurveCryptoSwap",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protocol(%d)", uint8(p))
}

// Parse returns the Protocol named by s.
func Parse(s string) (Protocol, error) {
	for p, name := range protocolNames {
		if name == s {
			return p, nil
		}
	}
	return Unknown, fmt.Errorf("protocols: unknown protocol %q", s)
}

// MarshalText serializes the protocol by name.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a protocol name.
func (p *Protocol) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
