// The pricer daemon wires the whole pipeline together: it subscribes to
// the normalized pool update stream, keeps the token graph and its pricing
// subgraphs current against on-chain state, and logs every finalized price.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/defistate/defi-pricing-go/cmd/pricer/config"
	"github.com/defistate/defi-pricing-go/graphs"
	ethpkg "github.com/defistate/defi-pricing-go/pkg/chains/ethereum"
	"github.com/defistate/defi-pricing-go/pricing"
	"github.com/defistate/defi-pricing-go/protocols"
	"github.com/defistate/defi-pricing-go/protocols/poolregistry"
	"github.com/defistate/defi-pricing-go/protocols/token"
	"github.com/defistate/defi-pricing-go/store"
	"github.com/defistate/defi-pricing-go/streams/updates"
)

const (
	shutdownGrace = 5 * time.Second
	pruneInterval = 15 * time.Minute
)

func main() {
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	closeApp := func() {
		os.Exit(1)
	}

	// --- 1. CONFIG & CONTEXT ---
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		closeApp()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prometheusRegistry := prometheus.NewRegistry()
	metrics := pricing.NewMetrics(prometheusRegistry)

	// --- 2. PERSISTENCE & GRAPH ENGINE ---
	// headBlock tracks the newest block seen on the update stream; the
	// prune loop uses it to decide how far back the store may forget.
	var headBlock atomic.Uint64
	var subgraphStore graphs.SubgraphStore
	if cfg.StorePath != "" {
		sqliteStore, err := store.Open(cfg.StorePath)
		if err != nil {
			rootLogger.Error("Failed to open subgraph store", "path", cfg.StorePath, "error", err)
			closeApp()
		}
		defer sqliteStore.Close()
		subgraphStore = sqliteStore
		go pruneStore(ctx, rootLogger, sqliteStore, &headBlock, cfg.RetainBlocks)
	}

	manager, err := graphs.NewGraphManager(graphs.Config{
		Search: graphs.SearchConfig{
			KShortestPaths:     cfg.Search.KShortestPaths,
			MaxHops:            cfg.Search.MaxHops,
			MaxIters:           cfg.Search.MaxIters,
			ConnectivityWeight: cfg.Search.ConnectivityWeight,
			Timeout:            cfg.Search.Timeout(),
		},
		Store:  subgraphStore,
		Logger: rootLogger.With("component", "graphs"),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize graph manager", "error", err)
		closeApp()
	}

	// --- 3. ON-CHAIN STATE LOADER ---
	ethClient, err := ethclient.DialContext(ctx, cfg.EthRPCURL)
	if err != nil {
		rootLogger.Error("Failed to connect to Ethereum RPC", "url", cfg.EthRPCURL, "error", err)
		closeApp()
	}
	defer ethClient.Close()

	registry := poolregistry.NewRegistry(nil)
	tokens := token.NewSystem(nil)
	loader, err := ethpkg.NewLoader(ethClient, registry, tokens)
	if err != nil {
		rootLogger.Error("Failed to initialize state loader", "error", err)
		closeApp()
	}

	// --- 4. UPDATE STREAM ---
	streamClient, err := updates.NewClient(ctx, updates.Config{
		URL:        cfg.UpdatesURL,
		Logger:     rootLogger.With("component", "updates-client"),
		BufferSize: cfg.BufferSize,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize updates client", "error", err)
		closeApp()
	}

	// --- 5. PRICER ---
	updateCh := make(chan protocols.PoolUpdate, cfg.BufferSize)
	priceCh := make(chan pricing.DexPriceMsg, cfg.BufferSize)

	pricer, err := pricing.NewBlockPricer(pricing.Config{
		Manager: manager,
		Loader:  loader,
		Quote:   cfg.Quote(),
		Updates: updateCh,
		Out:     priceCh,
		Workers: cfg.Workers,
		Logger:  rootLogger.With("component", "pricer"),
		Metrics: metrics,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize block pricer", "error", err)
		closeApp()
	}

	// --- 6. METRICS ENDPOINT ---
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, rootLogger, cfg.MetricsAddr, prometheusRegistry)
	}

	// --- 7. RUN ---
	go fanInUpdates(streamClient, registry, &headBlock, updateCh)
	go drainPrices(rootLogger, priceCh)
	go func() {
		if err, ok := <-streamClient.Err(); ok && err != nil {
			rootLogger.Error("Update stream failed", "error", err)
			stop()
		}
	}()

	rootLogger.Info("Pricer started",
		"quote", cfg.Quote(),
		"updates_url", cfg.UpdatesURL,
		"store", cfg.StorePath,
	)

	if err := pricer.Run(ctx); err != nil && ctx.Err() == nil {
		rootLogger.Error("Pricer stopped", "error", err)
		closeApp()
	}
	rootLogger.Info("Shutdown complete")
}

// fanInUpdates flattens block batches into the pricer's update channel and
// records pool metadata for the state loader as pools are announced. The
// channel closes with the stream so the pricer drains and exits cleanly.
func fanInUpdates(client *updates.Client, registry *poolregistry.Registry, head *atomic.Uint64, out chan<- protocols.PoolUpdate) {
	defer close(out)
	for batch := range client.Updates() {
		for _, u := range batch {
			head.Store(u.Block)
			if u.Delta.Kind == protocols.DeltaNewPool {
				registry.Add(poolregistry.PoolView{
					Key:            poolregistry.AddressToPoolKey(u.PoolAddress),
					Protocol:       u.Protocol,
					Token0:         u.Pair.Token0,
					Token1:         u.Pair.Token1,
					FirstSeenBlock: u.Block,
				})
			}
			out <- u
		}
	}
}

// pruneStore drops superseded subgraph versions older than retainBlocks
// behind the stream head. The newest version per pair always survives.
func pruneStore(ctx context.Context, logger *slog.Logger, s *store.SQLiteStore, head *atomic.Uint64, retainBlocks uint64) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := head.Load()
			if h <= retainBlocks {
				continue
			}
			if err := s.Prune(h, retainBlocks); err != nil {
				logger.Warn("Subgraph store prune failed", "head", h, "error", err)
			}
		}
	}
}

func drainPrices(logger *slog.Logger, prices <-chan pricing.DexPriceMsg) {
	for msg := range prices {
		logger.Info("price",
			"block", msg.Block,
			"base", msg.Pair.Token0,
			"quote", msg.Pair.Token1,
			"price", msg.Price.FloatString(8),
		)
	}
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", fmt.Sprintf("http://%s/metrics", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server failed", "error", err)
	}
}

func loadConfig() (*config.PricerConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	envPath := flag.String("env", "", "Optional .env file with overrides.")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			return nil, err
		}
	} else {
		// Best effort: a local .env is a dev convenience, not a requirement.
		_ = godotenv.Load()
	}

	log.Printf("Loading configuration from: %s", *configPath)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}
