// Command executor consumes execution signals and settles them
// on-chain through the flash-loan settlement contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vegas-max/titan-arb/pkg/admission"
	"github.com/vegas-max/titan-arb/pkg/chains"
	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/executor"
	"github.com/vegas-max/titan-arb/pkg/feeds"
	"github.com/vegas-max/titan-arb/pkg/recorder"
	"github.com/vegas-max/titan-arb/pkg/signals"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to JSON config file")
		simulateOnly = flag.Bool("simulate-only", false, "simulate signals but never broadcast")
		verbose      = flag.Bool("verbose", false, "verbose logging")
	)
	flag.Parse()

	_ = godotenv.Load()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("[FATAL] %v", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *simulateOnly {
		cfg.Execution.SimulateOnly = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] invalid config: %v", err)
	}

	fmt.Println("titan-arb executor")
	fmt.Printf("  mode: %s (simulate_only=%v)\n", cfg.Execution.Mode, cfg.Execution.SimulateOnly)
	fmt.Printf("  transport: %s (%s)\n", cfg.Signals.Transport, cfg.Signals.Channel)
	fmt.Printf("  gas ceiling: %.0f gwei\n", cfg.Execution.MaxGasPriceGwei)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := chains.NewRegistry(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer registry.Close()

	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer transport.Close()

	var sink executor.ResultSink = recorder.Noop{}
	if cfg.Recorder.Enabled {
		db, err := recorder.Open(cfg.Recorder.Path)
		if err != nil {
			log.Fatalf("[FATAL] %v", err)
		}
		defer db.Close()
		sink = db
	}

	feed := feeds.NewLayeredFeed(
		buildLiveFeed(ctx, cfg, registry),
		feeds.NewStaticFeed(cfg.Feeds.StaticPrices),
	)

	coord, err := executor.NewCoordinator(cfg, registry, transport, feed, sink, admission.NopLearner{})
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Printf("[INFO] shutting down")
		cancel()
	}()

	if err := coord.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("[FATAL] %v", err)
	}

	stats := coord.Stats()
	fmt.Printf("\nreceived %d | settled %d | reverted %d | timed out %d | simulated %d | discarded %d\n",
		stats.Received, stats.Succeeded, stats.Reverted, stats.TimedOut, stats.Simulated, stats.Discarded)
}

func buildTransport(ctx context.Context, cfg *config.Config) (signals.Transport, error) {
	if cfg.Signals.Transport == "memory" {
		return signals.NewMemoryTransport(), nil
	}
	return signals.NewRedisTransport(ctx, cfg.Signals.RedisURL, cfg.Signals.Channel, cfg.Retry)
}

// buildLiveFeed starts the Binance stream for native token prices.
// Returns an empty cache when the stream is disabled or down; the
// layered feed falls through to static prices.
func buildLiveFeed(ctx context.Context, cfg *config.Config, registry *chains.Registry) feeds.Feed {
	cache := feeds.NewPriceCache(time.Duration(cfg.Feeds.StaleAfterS) * time.Second)
	if !cfg.Feeds.BinanceWS {
		return cache
	}
	var symbols []string
	for _, ch := range registry.All() {
		symbols = append(symbols, ch.NativeSymbol)
	}
	live := feeds.NewBinanceFeed(cache, symbols)
	if err := live.Start(ctx); err != nil {
		log.Printf("[WARN] binance feed unavailable: %v", err)
	}
	return cache
}
