// Package updates streams normalized pool updates from a trace
// classification server over JSON-RPC pub/sub. The client reconnects with
// exponential backoff and delivers block-ordered protocols.PoolUpdate
// batches; malformed or out-of-order messages are discarded with a warning
// rather than tearing the stream down.
package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/defistate/defi-pricing-go/pair"
	"github.com/defistate/defi-pricing-go/protocols"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the update streamer is
	// registered.
	RpcNamespace                 = "dex"
	PoolUpdateSubscriptionMethod = "subscribePoolUpdates"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Client manages the connection and subscription to the pool update stream.
type Client struct {
	lastBlock uint64
	updateCh  chan []protocols.PoolUpdate
	errCh     chan error
	logger    Logger
}

// updateBatch is the wrapper object received from the server: every pool
// update classified out of one block, in trace order.
type updateBatch struct {
	Block   hexutil.Uint64  `json:"block"`
	Updates []poolUpdateMsg `json:"updates"`
	SentAt  int64           `json:"sentAt"`
}

// poolUpdateMsg is the wire form of one normalized update. Reserve deltas
// travel as signed hex quantities, post-event absolutes as plain hex;
// absent fields mean the delta does not touch them.
type poolUpdateMsg struct {
	PoolAddress  common.Address     `json:"poolAddress"`
	Protocol     protocols.Protocol `json:"protocol"`
	Token0       common.Address     `json:"token0"`
	Token1       common.Address     `json:"token1"`
	Kind         string             `json:"kind"`
	Amount0      *signedBig         `json:"amount0,omitempty"`
	Amount1      *signedBig         `json:"amount1,omitempty"`
	SqrtPriceX96 *hexutil.Big       `json:"sqrtPriceX96,omitempty"`
	Liquidity    *hexutil.Big       `json:"liquidity,omitempty"`
	IsTransfer   bool               `json:"isTransfer,omitempty"`
}

// signedBig is a hex quantity with an optional leading minus sign, for
// reserve deltas that hexutil's unsigned encoding cannot carry.
type signedBig big.Int

func (b *signedBig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	neg := strings.HasPrefix(s, "-")
	v, err := hexutil.DecodeBig(strings.TrimPrefix(s, "-"))
	if err != nil {
		return err
	}
	if neg {
		v.Neg(v)
	}
	*b = signedBig(*v)
	return nil
}

func (b *signedBig) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	i := (*big.Int)(b)
	if i.Sign() < 0 {
		return json.Marshal("-" + hexutil.EncodeBig(new(big.Int).Neg(i)))
	}
	return json.Marshal(hexutil.EncodeBig(i))
}

// Int returns the decoded value, nil for an absent field.
func (b *signedBig) Int() *big.Int {
	if b == nil {
		return nil
	}
	return (*big.Int)(b)
}

// decode converts the wire form into a PoolUpdate at the given block.
func (m poolUpdateMsg) decode(block uint64) (protocols.PoolUpdate, error) {
	kind, err := parseDeltaKind(m.Kind)
	if err != nil {
		return protocols.PoolUpdate{}, err
	}

	var sqrtPrice *uint256.Int
	if m.SqrtPriceX96 != nil {
		sqrtPrice = new(uint256.Int)
		if overflow := sqrtPrice.SetFromBig((*big.Int)(m.SqrtPriceX96)); overflow {
			return protocols.PoolUpdate{}, fmt.Errorf("sqrtPriceX96 overflows 256 bits for pool %s", m.PoolAddress)
		}
	}

	return protocols.PoolUpdate{
		Block:       block,
		PoolAddress: m.PoolAddress,
		Protocol:    m.Protocol,
		Pair:        pair.New(m.Token0, m.Token1),
		Delta: protocols.StateDelta{
			Kind:         kind,
			Amount0:      m.Amount0.Int(),
			Amount1:      m.Amount1.Int(),
			SqrtPriceX96: sqrtPrice,
			Liquidity:    (*big.Int)(m.Liquidity),
		},
		IsTransfer: m.IsTransfer,
	}, nil
}

func parseDeltaKind(s string) (protocols.DeltaKind, error) {
	switch s {
	case "NewPool":
		return protocols.DeltaNewPool, nil
	case "Swap":
		return protocols.DeltaSwap, nil
	case "Mint":
		return protocols.DeltaMint, nil
	case "Burn":
		return protocols.DeltaBurn, nil
	case "None", "":
		return protocols.DeltaNone, nil
	default:
		return protocols.DeltaNone, fmt.Errorf("unknown delta kind %q", s)
	}
}

// NewClient creates a new client and starts the connection and subscription manager.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		updateCh: make(chan []protocols.PoolUpdate, cfg.BufferSize),
		errCh:    make(chan error, 1),
		logger:   cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Updates returns a read-only channel delivering one block's updates per
// message, in ascending block order.
func (c *Client) Updates() <-chan []protocols.PoolUpdate {
	return c.updateCh
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the entire lifecycle of the client, including reconnection.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.updateCh)
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			time.Sleep(reconnectDelay)
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay // Reset delay on success

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled during subscription, shutting down.", "error", err)
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			time.Sleep(reconnectDelay)
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

// subscribeAndProcess handles the subscription and processing of messages.
func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, PoolUpdateSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			c.processMessage(ctx, rawData)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// processMessage handles unmarshalling and delivery of one block batch.
func (c *Client) processMessage(ctx context.Context, rawData json.RawMessage) {
	clientProcessingStart := time.Now()
	var batch updateBatch
	if err := json.Unmarshal(rawData, &batch); err != nil {
		c.logger.Error("Failed to unmarshal update batch", "error", err)
		return
	}

	block := uint64(batch.Block)
	if block <= c.lastBlock {
		c.logger.Warn(
			"Received out-of-order block batch; discarding.",
			"last_known_block", c.lastBlock,
			"batch_block", block,
		)
		return
	}

	decoded := make([]protocols.PoolUpdate, 0, len(batch.Updates))
	for i, msg := range batch.Updates {
		update, err := msg.decode(block)
		if err != nil {
			// One undecodable action must not drop the whole block: the
			// pricer isolates broken pools on its own once their state
			// stops applying.
			c.logger.Warn("Discarding undecodable pool update", "block", block, "index", i, "error", err)
			continue
		}
		decoded = append(decoded, update)
	}
	if len(decoded) == 0 {
		c.logger.Debug("Block batch carried no usable updates", "block", block)
		return
	}

	c.lastBlock = block
	c.logMetrics(block, len(decoded), time.Since(clientProcessingStart), batch.SentAt)

	select {
	case c.updateCh <- decoded:
	case <-ctx.Done():
	}
}

// logMetrics calculates and logs key latency indicators for one batch.
func (c *Client) logMetrics(block uint64, updates int, clientProcessingDur time.Duration, sentAt int64) {
	clientFinishTime := time.Now()
	clientStartTime := clientFinishTime.Add(-clientProcessingDur)
	serverFinishTime := time.Unix(0, sentAt)
	transportTime := clientStartTime.Sub(serverFinishTime)

	c.logger.Debug("Received pool updates",
		"block", block,
		"updates", updates,
		"transport_ms", transportTime.Round(time.Millisecond).Milliseconds(),
		"client_processing_ms", clientProcessingDur.Round(time.Microsecond).Milliseconds(),
	)
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
