// Package brain runs the detection pipeline: quote collection, route
// enumeration, profit evaluation, admission, loan sizing, and signal
// dispatch.
package brain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/admission"
	"github.com/vegas-max/titan-arb/pkg/chains"
	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/feeds"
	"github.com/vegas-max/titan-arb/pkg/market"
	"github.com/vegas-max/titan-arb/pkg/profit"
	"github.com/vegas-max/titan-arb/pkg/routing"
	"github.com/vegas-max/titan-arb/pkg/signals"
	"github.com/vegas-max/titan-arb/pkg/tokens"
	"github.com/vegas-max/titan-arb/pkg/types"
)

// Scanner drives one detection cycle per tick across all chains.
type Scanner struct {
	cfg       *config.Config
	registry  *chains.Registry
	universe  *tokens.Universe
	quoter    *market.Quoter
	collector *market.Collector
	twap      *market.TWAPOracle
	finder    *routing.Finder
	evaluator *profit.Evaluator
	optimizer *profit.Optimizer
	gate      *admission.Gate
	publisher *signals.Publisher
	feed      feeds.Feed

	mu    sync.Mutex
	stats types.ScanStats
	cycle int64
}

// NewScanner wires the pipeline.
func NewScanner(cfg *config.Config, registry *chains.Registry, universe *tokens.Universe, quoter *market.Quoter, twap *market.TWAPOracle, gate *admission.Gate, publisher *signals.Publisher, feed feeds.Feed) *Scanner {
	return &Scanner{
		cfg:       cfg,
		registry:  registry,
		universe:  universe,
		quoter:    quoter,
		collector: market.NewCollector(quoter, twap, cfg.Detection.WorkersPerChain),
		twap:      twap,
		finder:    routing.NewFinder(quoter),
		evaluator: profit.NewEvaluator(feed),
		optimizer: profit.NewOptimizer(12),
		gate:      gate,
		publisher: publisher,
		feed:      feed,
	}
}

// Run ticks the scanner until the context ends.
func (s *Scanner) Run(ctx context.Context) error {
	s.mu.Lock()
	s.stats.StartTime = time.Now()
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.ScanInterval())
	defer ticker.Stop()

	s.ScanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one full cycle over every connected chain.
func (s *Scanner) ScanOnce(ctx context.Context) {
	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	start := time.Now()
	var wg sync.WaitGroup
	for _, ch := range s.registry.All() {
		wg.Add(1)
		go func(ch *chains.Chain) {
			defer wg.Done()
			if err := s.scanChain(ctx, ch, cycle); err != nil && ctx.Err() == nil {
				log.Printf("[WARN] brain: chain %s: %v", ch.Name, err)
				s.mu.Lock()
				s.stats.Errors++
				s.mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()

	s.mu.Lock()
	s.stats.TotalCycles++
	s.stats.LastCycleTime = time.Now()
	s.mu.Unlock()

	if s.cfg.Verbose {
		log.Printf("[INFO] brain: cycle %d done in %s", cycle, time.Since(start).Round(time.Millisecond))
	}
}

// scanChain runs the pipeline for one chain.
func (s *Scanner) scanChain(ctx context.Context, ch *chains.Chain, cycle int64) error {
	stables := s.universe.Stables(ch.ID)
	targets := s.universe.ScanTargets(ch.ID, cycle)
	if len(stables) == 0 || len(targets) == 0 {
		return nil
	}

	probeUSD := decimal.NewFromFloat(s.cfg.Detection.ProbeSizeUSD)
	probeFor := func(t types.Token) *big.Int {
		price, err := s.feed.PriceUSD(t.Symbol)
		if err != nil || price.IsZero() {
			return t.Units(1)
		}
		whole := probeUSD.Div(price)
		return whole.Mul(decimal.New(1, int32(t.Decimals))).Floor().BigInt()
	}

	book := s.collector.Collect(ctx, ch.ID, stables, targets, probeFor)
	if book.Len() == 0 {
		return fmt.Errorf("no quotes this cycle")
	}

	head, err := ch.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	gasPrice, err := ch.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	if holdForGas(gasPrice, s.cfg.Execution.MaxGasPriceGwei) {
		log.Printf("[INFO] brain: chain %s gas %s wei above ceiling, holding cycle", ch.Name, gasPrice)
		return nil
	}
	nativeUSD, err := s.feed.PriceUSD(ch.NativeSymbol)
	if err != nil {
		nativeUSD = decimal.Zero
	}

	costs := profit.Costs{
		GasPriceWei: gasPrice,
		NativeUSD:   nativeUSD,
		FlashSource: types.FlashBalancerV3,
		MinNetUSD:   decimal.NewFromFloat(s.cfg.Detection.MinNetProfitUSD),
	}

	for _, stable := range stables {
		s.scanToken(ctx, ch, book, stable, targets, costs, head)
	}
	return nil
}

// candidate is an admitted route awaiting per-token selection.
type candidate struct {
	opp   *types.Opportunity
	route *types.Route
	net   decimal.Decimal
}

// pickBest returns the candidate with the highest net profit.
func pickBest(cands []candidate) *candidate {
	var best *candidate
	for i := range cands {
		if best == nil || cands[i].net.GreaterThan(best.net) {
			best = &cands[i]
		}
	}
	return best
}

// scanToken evaluates every candidate route for one loan token across
// all intermediaries, then dispatches only the best admitted route.
// One signal per loan token per cycle.
func (s *Scanner) scanToken(ctx context.Context, ch *chains.Chain, book *market.Book, stable types.Token, targets []types.Token, costs profit.Costs, head uint64) {
	var admitted []candidate
	for _, target := range targets {
		if stable.Address == target.Address {
			continue
		}
		candidates := s.finder.Candidates(ch.ID, stable, target, book)
		s.mu.Lock()
		s.stats.RoutesEvaluated += int64(len(candidates))
		s.mu.Unlock()

		spot, _ := s.collector.SpotPrice(book, ch.ID, stable, target)
		for _, route := range candidates {
			verdict, err := s.evaluator.Evaluate(route, costs)
			if err != nil {
				continue
			}
			if !verdict.Profitable() {
				if s.cfg.Verbose && verdict.GrossUSD.IsPositive() {
					log.Printf("[INFO] brain: %s rejected: %v", route.Fingerprint(), verdict.Reasons)
				}
				continue
			}

			opp := s.buildOpportunity(ch, route, verdict, costs, head)
			s.mu.Lock()
			s.stats.OpportunitiesFound++
			s.mu.Unlock()

			decision := s.gate.Admit(opp, spot)
			if !decision.Accepted {
				log.Printf("[INFO] brain: %s blocked at %s: %s", opp.ID, decision.Stage, decision.Reason)
				continue
			}
			admitted = append(admitted, candidate{opp: opp, route: route, net: verdict.NetUSD})
		}
	}

	if best := pickBest(admitted); best != nil {
		s.dispatch(ctx, best.opp, best.route, costs)
	}
}

func (s *Scanner) buildOpportunity(ch *chains.Chain, route *types.Route, verdict profit.Verdict, costs profit.Costs, head uint64) *types.Opportunity {
	gwei := decimal.Zero
	if costs.GasPriceWei != nil {
		gwei = decimal.NewFromBigInt(costs.GasPriceWei, -9)
	}
	return &types.Opportunity{
		ID:           uuid.NewString(),
		ChainID:      ch.ID,
		Token:        route.Token,
		Route:        route,
		GrossProfit:  verdict.GrossUSD,
		NetProfit:    verdict.NetUSD,
		GasCostUSD:   verdict.GasCostUSD,
		GasPriceGwei: gwei,
		ExpiryBlock:  head + s.cfg.Detection.ExpiryBlocks,
		DetectedAt:   time.Now(),
	}
}

// dispatch sizes the loan, builds the signal, and publishes it.
// Returns true when the signal went out.
func (s *Scanner) dispatch(ctx context.Context, opp *types.Opportunity, route *types.Route, costs profit.Costs) bool {
	loanPrice, err := s.feed.PriceUSD(route.Token.Symbol)
	if err != nil || loanPrice.IsZero() {
		return false
	}

	bounds := profit.SizeBounds{
		MinUSD:     decimal.NewFromFloat(s.cfg.Detection.MinLoanUSD),
		PoolTVLUSD: s.poolTVL(ctx, route, loanPrice),
		RiskFrac:   decimal.NewFromFloat(s.cfg.Detection.PoolRiskFraction),
	}
	minNet := decimal.NewFromFloat(s.cfg.Detection.MinNetProfitUSD)

	amount, netAtSize, err := s.optimizer.Size(ctx, route.Token, bounds, loanPrice, minNet,
		s.evalAtSize(route, costs))
	if err != nil {
		log.Printf("[INFO] brain: %s sizing failed: %v", opp.ID, err)
		return false
	}

	sized, err := s.requoteRoute(ctx, route, amount)
	if err != nil {
		log.Printf("[WARN] brain: %s re-quote failed: %v", opp.ID, err)
		return false
	}
	opp.Route = sized
	opp.NetProfit = netAtSize

	minProfit := minNet.Div(loanPrice).Mul(decimal.New(1, int32(route.Token.Decimals))).Floor().BigInt()
	loan := types.LoanPlan{
		Token:     route.Token,
		Amount:    amount,
		AmountUSD: route.Token.Whole(amount).Mul(loanPrice),
		Source:    costs.FlashSource,
		FeeHint:   feeFor(amount, costs.FlashSource),
		MinProfit: minProfit,
	}

	sig, err := signals.Build(opp, loan, s.cfg.Detection.SlippageBps)
	if err != nil {
		log.Printf("[WARN] brain: %s signal build failed: %v", opp.ID, err)
		return false
	}

	sent, err := s.publisher.Publish(ctx, sig, sized.Fingerprint())
	if err != nil {
		log.Printf("[WARN] brain: %s publish failed: %v", opp.ID, err)
		return false
	}
	if sent {
		s.mu.Lock()
		s.stats.SignalsPublished++
		s.mu.Unlock()
	}
	return sent
}

// poolTVL reads the flash provider's pool balance of the loan token
// and converts it to USD. Falls back to the configured default when
// the vault balance cannot be read.
func (s *Scanner) poolTVL(ctx context.Context, route *types.Route, loanPrice decimal.Decimal) decimal.Decimal {
	bal, err := s.quoter.TokenBalance(ctx, route.ChainID, route.Token.Address, types.BalancerV3Vault)
	if err != nil || bal.Sign() <= 0 {
		return decimal.NewFromFloat(s.cfg.Detection.DefaultPoolTVLUSD)
	}
	return route.Token.Whole(bal).Mul(loanPrice)
}

// evalAtSize re-quotes the route at a candidate loan size and returns
// the net USD profit there. Sizes whose realized output falls short of
// the linear expectation by more than the slippage tolerance are
// rejected with ErrSlippageExceeded.
func (s *Scanner) evalAtSize(route *types.Route, costs profit.Costs) profit.EvalAtSize {
	return func(ctx context.Context, amount *big.Int) (decimal.Decimal, error) {
		sized, err := s.requoteRoute(ctx, route, amount)
		if err != nil {
			return decimal.Zero, err
		}
		if exceedsSlippage(route, sized, amount, s.cfg.Detection.SlippageBps) {
			return decimal.Zero, profit.ErrSlippageExceeded
		}
		verdict, err := s.evaluator.Evaluate(sized, costs)
		if err != nil {
			return decimal.Zero, err
		}
		return verdict.NetUSD, nil
	}
}

// exceedsSlippage compares the sized route's output against the probe
// route's linear extrapolation at the same input.
func exceedsSlippage(probe, sized *types.Route, amount *big.Int, slippageBps int) bool {
	probeIn := probe.AmountIn()
	if probeIn.Sign() <= 0 {
		return false
	}
	expected := new(big.Int).Mul(probe.AmountOut(), amount)
	expected.Div(expected, probeIn)
	if expected.Sign() <= 0 {
		return false
	}
	floor := new(big.Int).Mul(expected, big.NewInt(10000-int64(slippageBps)))
	floor.Div(floor, big.NewInt(10000))
	return sized.AmountOut().Cmp(floor) < 0
}

// holdForGas reports whether the chain's gas price is over the
// execution ceiling, in which case the whole cycle is skipped for the
// chain rather than evaluating routes that can never clear the gate.
func holdForGas(gasPriceWei *big.Int, maxGwei float64) bool {
	if gasPriceWei == nil || maxGwei <= 0 {
		return false
	}
	gwei := decimal.NewFromBigInt(gasPriceWei, -9)
	return gwei.GreaterThan(decimal.NewFromFloat(maxGwei))
}

// requoteRoute fetches fresh quotes for every hop at the given input.
func (s *Scanner) requoteRoute(ctx context.Context, route *types.Route, amountIn *big.Int) (*types.Route, error) {
	venuesByID := make(map[string]market.Venue)
	for _, v := range s.quoter.Venues(route.ChainID) {
		venuesByID[v.ID] = v
	}

	sized := &types.Route{
		ChainID:      route.ChainID,
		Token:        route.Token,
		Intermediary: route.Intermediary,
		GasEstimate:  route.GasEstimate,
	}
	in := amountIn
	for _, hop := range route.Hops {
		venue, ok := venuesByID[hop.DEX]
		if !ok {
			return nil, fmt.Errorf("venue %s vanished", hop.DEX)
		}
		q, err := s.quoter.Quote(ctx, venue, hop.TokenIn, hop.TokenOut, in)
		if err != nil {
			return nil, err
		}
		newHop := hop
		newHop.AmountIn = in
		newHop.AmountOut = q.AmountOut
		sized.Hops = append(sized.Hops, newHop)
		in = q.AmountOut
	}
	return sized, nil
}

// feeFor computes the provider's flash fee for an amount.
func feeFor(amount *big.Int, source types.FlashSource) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(source.FeeBps()))
	return fee.Div(fee, big.NewInt(10000))
}

// Stats returns a copy of the runtime counters.
func (s *Scanner) Stats() types.ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
