package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
chain_id: 1
updates_url: ws://localhost:8550
eth_rpc_url: http://localhost:8545
quote_token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
store_path: subgraphs.db
metrics_addr: :9090
workers: 8
search:
  k_shortest_paths: 4
  max_hops: 10
  timeout_ms: 25
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(1), cfg.ChainID.Uint64())
	assert.Equal(t, "ws://localhost:8550", cfg.UpdatesURL)
	assert.Equal(t, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), cfg.Quote())
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, uint(64), cfg.BufferSize, "unset buffer size takes the default")
	assert.Equal(t, uint64(50000), cfg.RetainBlocks, "unset retention takes the default")
	assert.Equal(t, 4, cfg.Search.KShortestPaths)
	assert.Equal(t, int64(25), cfg.Search.Timeout().Milliseconds())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
updates_url: ws://file-value
eth_rpc_url: http://file-value
quote_token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
`)
	t.Setenv(EnvUpdatesURL, "ws://env-value")
	t.Setenv(EnvEthRPCURL, "http://env-value")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://env-value", cfg.UpdatesURL)
	assert.Equal(t, "http://env-value", cfg.EthRPCURL)
}

func TestValidate(t *testing.T) {
	base := PricerConfig{
		UpdatesURL: "ws://localhost:8550",
		EthRPCURL:  "http://localhost:8545",
		QuoteToken: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	}

	t.Run("Valid", func(t *testing.T) {
		cfg := base
		assert.NoError(t, cfg.Validate())
	})
	t.Run("MissingUpdatesURL", func(t *testing.T) {
		cfg := base
		cfg.UpdatesURL = ""
		assert.Error(t, cfg.Validate())
	})
	t.Run("MissingEthRPCURL", func(t *testing.T) {
		cfg := base
		cfg.EthRPCURL = ""
		assert.Error(t, cfg.Validate())
	})
	t.Run("BadQuoteToken", func(t *testing.T) {
		cfg := base
		cfg.QuoteToken = "not-an-address"
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
