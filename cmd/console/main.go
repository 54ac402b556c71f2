// An interactive console for inspecting the pricer's persisted subgraphs:
// look up the stored route set for a pair, and reprice it against live
// on-chain state at any block.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/defistate/defi-pricing-go/cmd/pricer/config"
	"github.com/defistate/defi-pricing-go/graphs"
	"github.com/defistate/defi-pricing-go/pair"
	ethpkg "github.com/defistate/defi-pricing-go/pkg/chains/ethereum"
	"github.com/defistate/defi-pricing-go/protocols"
	"github.com/defistate/defi-pricing-go/protocols/poolregistry"
	"github.com/defistate/defi-pricing-go/protocols/token"
	"github.com/defistate/defi-pricing-go/store"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	loadTimeout = 30 * time.Second
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

type console struct {
	store  *store.SQLiteStore
	loader *ethpkg.Loader
	logger *slog.Logger
}

func main() {
	logFile, err := os.OpenFile("console.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()
	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Println(Red + "Failed to load configuration: " + err.Error() + Reset)
		os.Exit(1)
	}
	if cfg.StorePath == "" {
		fmt.Println(Red + "config: store_path is required for the console" + Reset)
		os.Exit(1)
	}

	subgraphStore, err := store.Open(cfg.StorePath)
	if err != nil {
		fmt.Println(Red + "Failed to open subgraph store: " + err.Error() + Reset)
		os.Exit(1)
	}
	defer subgraphStore.Close()

	c := &console{store: subgraphStore, logger: rootLogger}

	// Live repricing is optional: without an RPC endpoint the console can
	// still show stored routes.
	if cfg.EthRPCURL != "" {
		ethClient, err := ethclient.Dial(cfg.EthRPCURL)
		if err != nil {
			fmt.Println(Yellow + "[WARN] Ethereum RPC unavailable; 'price' disabled: " + err.Error() + Reset)
		} else {
			defer ethClient.Close()
			c.loader, err = ethpkg.NewLoader(ethClient, poolregistry.NewRegistry(nil), token.NewSystem(nil))
			if err != nil {
				fmt.Println(Red + "Failed to initialize loader: " + err.Error() + Reset)
				os.Exit(1)
			}
		}
	}

	c.repl()
}

func (c *console) repl() {
	header("SUBGRAPH CONSOLE")
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Bold + "> " + Reset)
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "routes":
			c.cmdRoutes(fields[1:])
		case "price":
			c.cmdPrice(fields[1:])
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println(Yellow + "Exiting..." + Reset)
			return
		default:
			fmt.Println(Red + "[ERROR] Unknown command. Type 'help'." + Reset)
		}
	}
}

func printHelp() {
	fmt.Println(Gray + "Commands:" + Reset)
	fmt.Println("  routes <base> <quote> [block]   show the stored route set for a pair")
	fmt.Println("  price  <base> <quote> <block>   reprice the stored routes from chain state")
	fmt.Println("  help                            show this help")
	fmt.Println("  exit                            leave the console")
}

// parsePair reads base, quote and an optional block from command args.
func parsePair(args []string) (pair.Pair, uint64, error) {
	if len(args) < 2 {
		return pair.Pair{}, 0, fmt.Errorf("need <base> <quote> addresses")
	}
	if !common.IsHexAddress(args[0]) || !common.IsHexAddress(args[1]) {
		return pair.Pair{}, 0, fmt.Errorf("arguments must be hex addresses")
	}
	p := pair.New(common.HexToAddress(args[0]), common.HexToAddress(args[1]))

	// Block numbers bind as sqlite INTEGER, so "latest" is MaxInt64.
	block := uint64(math.MaxInt64)
	if len(args) >= 3 {
		parsed, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return pair.Pair{}, 0, fmt.Errorf("bad block number %q", args[2])
		}
		block = parsed
	}
	return p, block, nil
}

func (c *console) cmdRoutes(args []string) {
	p, block, err := parsePair(args)
	if err != nil {
		fmt.Println(Red + "[ERROR] " + err.Error() + Reset)
		return
	}

	edges, err := c.store.Load(block, p)
	if err != nil {
		fmt.Println(Red + "[NOT FOUND] " + err.Error() + Reset)
		return
	}

	header("STORED ROUTES")
	fmt.Printf("Pair:  %s / %s\n", p.Token0, p.Token1)
	fmt.Printf("Edges: %d\n\n", len(edges))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POOL\tDEX\tIN\tOUT\tD(START)\tD(END)")
	for _, e := range edges {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			e.Info.Info.PoolAddr,
			e.Info.Info.DexType,
			e.Info.BaseToken(),
			e.Info.QuoteToken(),
			e.DistanceToStart,
			e.DistanceToEnd,
		)
	}
	w.Flush()
}

// stateSource adapts a loaded pool map to the pricing graph's state view.
type stateSource map[common.Address]*protocols.PoolState

func (s stateSource) PoolState(addr common.Address) (graphs.PoolStateReader, bool) {
	ps, ok := s[addr]
	return ps, ok
}

func (c *console) cmdPrice(args []string) {
	if c.loader == nil {
		fmt.Println(Red + "[ERROR] No Ethereum RPC configured; 'price' is disabled." + Reset)
		return
	}
	p, block, err := parsePair(args)
	if err != nil || block == math.MaxInt64 {
		fmt.Println(Red + "[ERROR] price needs <base> <quote> <block>" + Reset)
		return
	}

	edges, err := c.store.Load(block, p)
	if err != nil {
		fmt.Println(Red + "[NOT FOUND] " + err.Error() + Reset)
		return
	}
	sub, err := graphs.NewPairSubGraph(p, edges)
	if err != nil {
		fmt.Println(Red + "[ERROR] " + err.Error() + Reset)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	states := stateSource{}
	for _, e := range edges {
		info := e.Info.Info
		if _, ok := states[info.PoolAddr]; ok {
			continue
		}
		state, err := c.loader.TryLoadState(ctx, info.PoolAddr, info.DexType, info.Pair(), block)
		if err != nil {
			c.logger.Warn("state load failed", "pool", info.PoolAddr, "error", err)
			fmt.Printf(Yellow+"[WARN] %s could not be loaded; pricing around it.%s\n", info.PoolAddr, Reset)
			continue
		}
		states[info.PoolAddr] = state
	}

	price, ok := sub.FetchPrice(states)
	if !ok {
		fmt.Println(Red + "[UNPRICED] No fully loaded route between the pair's tokens." + Reset)
		return
	}

	header("PRICE")
	fmt.Printf("Block:  %d\n", block)
	fmt.Printf("Pools:  %d loaded / %d referenced\n", len(states), len(edges))
	fmt.Printf("Price:  %s%s%s  (%s)\n", Green, price.FloatString(8), Reset, price.RatString())
}

func loadConfig() (*config.PricerConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
