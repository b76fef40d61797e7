// Command brain scans DEX markets for flash-loan arbitrage and
// publishes execution signals.
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
	"github.com/robfig/cron/v3"

	"github.com/vegas-max/titan-arb/pkg/admission"
	"github.com/vegas-max/titan-arb/pkg/brain"
	"github.com/vegas-max/titan-arb/pkg/chains"
	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/feeds"
	"github.com/vegas-max/titan-arb/pkg/market"
	"github.com/vegas-max/titan-arb/pkg/reporter"
	"github.com/vegas-max/titan-arb/pkg/signals"
	"github.com/vegas-max/titan-arb/pkg/tokens"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		once       = flag.Bool("once", false, "run a single scan cycle and exit")
		verbose    = flag.Bool("verbose", false, "verbose logging")
		jsonOut    = flag.Bool("json", false, "report in JSON")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
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
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] invalid config: %v", err)
	}

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := chains.NewRegistry(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer registry.Close()

	universe, err := tokens.NewUniverse(cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	quoter, err := market.NewQuoter(registry, cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	feed := buildFeed(ctx, cfg, universe, registry)
	twap := market.NewTWAPOracle(cfg.TWAPWindow())
	gate := admission.NewGate(cfg, twap, admission.DisabledOracle{})

	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer transport.Close()

	publisher := signals.NewPublisher(transport, 2*cfg.ScanInterval())
	scanner := brain.NewScanner(cfg, registry, universe, quoter, twap, gate, publisher, feed)

	if *once {
		scanner.ScanOnce(ctx)
		rep := newReporter(*jsonOut, cfg.Verbose)
		rep.ReportScan(scanner.Stats())
		return
	}

	// Periodic token-universe maintenance.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Detection.TokenRefreshCron, universe.Refresh); err != nil {
		log.Fatalf("[FATAL] bad token_refresh_cron: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	rep := newReporter(*jsonOut, cfg.Verbose)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rep.ReportScan(scanner.Stats())
			}
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Printf("[INFO] shutting down")
		cancel()
	}()

	if err := scanner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("[FATAL] %v", err)
	}
	rep.ReportScan(scanner.Stats())
}

func newReporter(jsonOut, verbose bool) *reporter.Reporter {
	format := reporter.FormatText
	if jsonOut {
		format = reporter.FormatJSON
	}
	return reporter.NewReporter(os.Stdout, format, verbose)
}

func buildFeed(ctx context.Context, cfg *config.Config, universe *tokens.Universe, registry *chains.Registry) feeds.Feed {
	static := feeds.NewStaticFeed(cfg.Feeds.StaticPrices)
	if !cfg.Feeds.BinanceWS {
		return static
	}

	var symbols []string
	for _, ch := range registry.All() {
		symbols = append(symbols, ch.NativeSymbol)
		for _, t := range universe.OnChain(ch.ID) {
			symbols = append(symbols, t.Symbol)
		}
	}
	cache := feeds.NewPriceCache(time.Duration(cfg.Feeds.StaleAfterS) * time.Second)
	live := feeds.NewBinanceFeed(cache, symbols)
	if err := live.Start(ctx); err != nil {
		log.Printf("[WARN] binance feed unavailable, using static prices: %v", err)
		return static
	}
	return feeds.NewLayeredFeed(live, static)
}

func buildTransport(ctx context.Context, cfg *config.Config) (signals.Transport, error) {
	if cfg.Signals.Transport == "memory" {
		return signals.NewMemoryTransport(), nil
	}
	return signals.NewRedisTransport(ctx, cfg.Signals.RedisURL, cfg.Signals.Channel, cfg.Retry)
}

func printBanner(cfg *config.Config) {
	fmt.Println("titan-arb brain")
	fmt.Printf("  scan interval: %s\n", cfg.ScanInterval())
	fmt.Printf("  min net profit: $%.2f\n", cfg.Detection.MinNetProfitUSD)
	fmt.Printf("  transport: %s (%s)\n", cfg.Signals.Transport, cfg.Signals.Channel)
	for _, ch := range cfg.EnabledChains() {
		fmt.Printf("  chain: %s (%d), %d rpc endpoint(s)\n", ch.Name, ch.ChainID, len(ch.RPCURLs))
	}
	fmt.Println()
}
