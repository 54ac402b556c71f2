package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// SearchConfig tunes the pair path search. Zero values fall back to the
// engine defaults.
type SearchConfig struct {
	KShortestPaths     int `yaml:"k_shortest_paths"`
	MaxHops            int `yaml:"max_hops"`
	MaxIters           int `yaml:"max_iters"`
	ConnectivityWeight int `yaml:"connectivity_weight"`
	TimeoutMS          int `yaml:"timeout_ms"`
}

// Timeout converts the configured per-pair budget to a duration.
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// PricerConfig is the full daemon configuration.
type PricerConfig struct {
	ChainID     *big.Int     `yaml:"chain_id"`
	UpdatesURL  string       `yaml:"updates_url"`
	EthRPCURL   string       `yaml:"eth_rpc_url"`
	QuoteToken  string       `yaml:"quote_token"`
	StorePath   string       `yaml:"store_path"`
	MetricsAddr string       `yaml:"metrics_addr"`
	Workers     int          `yaml:"workers"`
	BufferSize  uint         `yaml:"buffer_size"`
	// RetainBlocks is how far behind the head the store keeps old subgraph
	// versions; the newest version per pair always survives pruning.
	RetainBlocks uint64       `yaml:"retain_blocks"`
	Search       SearchConfig `yaml:"search"`
}

// Environment variable overrides, applied after the file is read so
// deployment secrets never need to live in the yaml.
const (
	EnvUpdatesURL = "UPDATES_URL"
	EnvEthRPCURL  = "ETH_RPC_URL"
)

// LoadConfig reads a configuration file from the given path, unmarshals it
// and applies environment overrides.
func LoadConfig(path string) (*PricerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg PricerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv(EnvUpdatesURL); url != "" {
		cfg.UpdatesURL = url
	}
	if url := os.Getenv(EnvEthRPCURL); url != "" {
		cfg.EthRPCURL = url
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 64
	}
	if cfg.RetainBlocks == 0 {
		// roughly a week of mainnet blocks
		cfg.RetainBlocks = 50000
	}

	return &cfg, nil
}

// Validate checks the configuration for required fields.
func (c *PricerConfig) Validate() error {
	if c.UpdatesURL == "" {
		return errors.New("config: updates_url is required")
	}
	if c.EthRPCURL == "" {
		return errors.New("config: eth_rpc_url is required")
	}
	if !common.IsHexAddress(c.QuoteToken) {
		return fmt.Errorf("config: quote_token %q is not a valid address", c.QuoteToken)
	}
	return nil
}

// Quote returns the parsed quote token address. Validate must have passed.
func (c *PricerConfig) Quote() common.Address {
	return common.HexToAddress(c.QuoteToken)
}
