package updates

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/defi-pricing-go/protocols"
)

type testLogger struct{}

func (testLogger) Debug(msg string, args ...any) {}
func (testLogger) Info(msg string, args ...any)  {}
func (testLogger) Warn(msg string, args ...any)  {}
func (testLogger) Error(msg string, args ...any) {}

func newTestClient(buffer int) *Client {
	return &Client{
		updateCh: make(chan []protocols.PoolUpdate, buffer),
		errCh:    make(chan error, 1),
		logger:   testLogger{},
	}
}

func receiveBatch(t *testing.T, c *Client) []protocols.PoolUpdate {
	t.Helper()
	select {
	case batch := <-c.updateCh:
		return batch
	case <-time.After(time.Second):
		t.Fatal("expected a batch on the update channel")
		return nil
	}
}

func TestProcessMessage(t *testing.T) {
	pool := common.HexToAddress("0x0a")
	token0 := common.HexToAddress("0x01")
	token1 := common.HexToAddress("0x02")

	t.Run("DecodesSwapBatch", func(t *testing.T) {
		c := newTestClient(1)
		raw := `{
			"block": "0x64",
			"sentAt": 1700000000000000000,
			"updates": [{
				"poolAddress": "0x000000000000000000000000000000000000000a",
				"protocol": "UniswapV2",
				"token0": "0x0000000000000000000000000000000000000001",
				"token1": "0x0000000000000000000000000000000000000002",
				"kind": "Swap",
				"amount0": "0x64",
				"amount1": "-0x32"
			}]
		}`
		c.processMessage(context.Background(), json.RawMessage(raw))

		batch := receiveBatch(t, c)
		require.Len(t, batch, 1)
		u := batch[0]
		assert.Equal(t, uint64(100), u.Block, "block must come from the batch header")
		assert.Equal(t, pool, u.PoolAddress)
		assert.Equal(t, protocols.UniswapV2, u.Protocol)
		assert.Equal(t, token0, u.Pair.Token0)
		assert.Equal(t, token1, u.Pair.Token1)
		assert.Equal(t, protocols.DeltaSwap, u.Delta.Kind)
		assert.Equal(t, big.NewInt(100), u.Delta.Amount0)
		assert.Equal(t, big.NewInt(-50), u.Delta.Amount1, "negative hex quantities must decode signed")
		assert.Nil(t, u.Delta.SqrtPriceX96)
		assert.False(t, u.IsTransfer)
	})

	t.Run("DecodesTickPoolAbsolutes", func(t *testing.T) {
		c := newTestClient(1)
		raw := `{
			"block": "0x65",
			"updates": [{
				"poolAddress": "0x000000000000000000000000000000000000000a",
				"protocol": "UniswapV3",
				"token0": "0x0000000000000000000000000000000000000001",
				"token1": "0x0000000000000000000000000000000000000002",
				"kind": "Swap",
				"sqrtPriceX96": "0x1000000000000000000000000",
				"liquidity": "0xde0b6b3a7640000"
			}]
		}`
		c.processMessage(context.Background(), json.RawMessage(raw))

		batch := receiveBatch(t, c)
		require.Len(t, batch, 1)
		u := batch[0]
		require.NotNil(t, u.Delta.SqrtPriceX96)
		assert.Equal(t, "79228162514264337593543950336", u.Delta.SqrtPriceX96.Dec(), "sqrtPriceX96 is 2^96")
		require.NotNil(t, u.Delta.Liquidity)
		assert.Equal(t, "1000000000000000000", u.Delta.Liquidity.String())
	})

	t.Run("SkipsUndecodableUpdateKeepsRest", func(t *testing.T) {
		c := newTestClient(1)
		raw := `{
			"block": "0x66",
			"updates": [
				{
					"poolAddress": "0x000000000000000000000000000000000000000a",
					"protocol": "UniswapV2",
					"token0": "0x0000000000000000000000000000000000000001",
					"token1": "0x0000000000000000000000000000000000000002",
					"kind": "Teleport"
				},
				{
					"poolAddress": "0x000000000000000000000000000000000000000b",
					"protocol": "UniswapV2",
					"token0": "0x0000000000000000000000000000000000000001",
					"token1": "0x0000000000000000000000000000000000000002",
					"kind": "NewPool"
				}
			]
		}`
		c.processMessage(context.Background(), json.RawMessage(raw))

		batch := receiveBatch(t, c)
		require.Len(t, batch, 1, "the unknown kind must be dropped, not the batch")
		assert.Equal(t, protocols.DeltaNewPool, batch[0].Delta.Kind)
		assert.Equal(t, common.HexToAddress("0x0b"), batch[0].PoolAddress)
	})

	t.Run("DiscardsOutOfOrderBlock", func(t *testing.T) {
		c := newTestClient(2)
		mkBatch := func(block string) json.RawMessage {
			return json.RawMessage(`{
				"block": "` + block + `",
				"updates": [{
					"poolAddress": "0x000000000000000000000000000000000000000a",
					"protocol": "UniswapV2",
					"token0": "0x0000000000000000000000000000000000000001",
					"token1": "0x0000000000000000000000000000000000000002",
					"kind": "Swap",
					"amount0": "0x1",
					"amount1": "-0x1"
				}]
			}`)
		}
		c.processMessage(context.Background(), mkBatch("0x64"))
		c.processMessage(context.Background(), mkBatch("0x63"))
		c.processMessage(context.Background(), mkBatch("0x64"))

		batch := receiveBatch(t, c)
		assert.Equal(t, uint64(100), batch[0].Block)
		select {
		case extra := <-c.updateCh:
			t.Fatalf("stale batch delivered: block %d", extra[0].Block)
		default:
		}
	})

	t.Run("MalformedJSONDiscarded", func(t *testing.T) {
		c := newTestClient(1)
		c.processMessage(context.Background(), json.RawMessage(`{"block": not json`))
		select {
		case <-c.updateCh:
			t.Fatal("malformed payload must not deliver a batch")
		default:
		}
	})

	t.Run("EmptyBatchNotDelivered", func(t *testing.T) {
		c := newTestClient(1)
		c.processMessage(context.Background(), json.RawMessage(`{"block": "0x64", "updates": []}`))
		select {
		case <-c.updateCh:
			t.Fatal("empty batch must not be delivered")
		default:
		}
	})
}

func TestDeltaKindWireNames(t *testing.T) {
	// The wire names round-trip through DeltaKind.String so both ends of
	// the stream agree on the vocabulary.
	for _, kind := range []protocols.DeltaKind{
		protocols.DeltaNone,
		protocols.DeltaNewPool,
		protocols.DeltaSwap,
		protocols.DeltaMint,
		protocols.DeltaBurn,
	} {
		parsed, err := parseDeltaKind(kind.String())
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, kind, parsed)
	}

	_, err := parseDeltaKind("Teleport")
	assert.Error(t, err)
}

func TestSignedBig(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, want := range []int64{0, 1, -1, 1 << 40, -(1 << 40)} {
			b := (*signedBig)(big.NewInt(want))
			data, err := json.Marshal(b)
			require.NoError(t, err)

			var got signedBig
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, want, got.Int().Int64(), "payload %s", data)
		}
	})
	t.Run("RejectsBareDecimal", func(t *testing.T) {
		var got signedBig
		assert.Error(t, json.Unmarshal([]byte(`"100"`), &got))
	})
	t.Run("NilIsAbsent", func(t *testing.T) {
		var b *signedBig
		assert.Nil(t, b.Int())
	})
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "ws://localhost:8546", Logger: testLogger{}, BufferSize: 8}

	t.Run("Valid", func(t *testing.T) {
		cfg := valid
		assert.NoError(t, cfg.validate())
	})
	t.Run("MissingURL", func(t *testing.T) {
		cfg := valid
		cfg.URL = ""
		assert.Error(t, cfg.validate())
	})
	t.Run("MissingLogger", func(t *testing.T) {
		cfg := valid
		cfg.Logger = nil
		assert.Error(t, cfg.validate())
	})
	t.Run("ZeroBuffer", func(t *testing.T) {
		cfg := valid
		cfg.BufferSize = 0
		assert.Error(t, cfg.validate())
	})
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}
