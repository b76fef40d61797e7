package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/admission"
	"github.com/vegas-max/titan-arb/pkg/chains"
	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/feeds"
	"github.com/vegas-max/titan-arb/pkg/signals"
	ttypes "github.com/vegas-max/titan-arb/pkg/types"
)

// ResultSink receives terminal execution results.
type ResultSink interface {
	Record(ctx context.Context, result *ttypes.ExecutionResult) error
}

// ExecutorStats tracks executor runtime counters.
type ExecutorStats struct {
	Received  int64
	Succeeded int64
	Reverted  int64
	TimedOut  int64
	Simulated int64
	Discarded int64
	SimFailed int64
}

// Coordinator consumes signals and drives each through simulation and,
// in live mode, on-chain settlement. Signals for one chain process
// serially so nonces never race; chains run independently.
type Coordinator struct {
	cfg        *config.Config
	registry   *chains.Registry
	transport  signals.Transport
	settlement *Settlement
	noncer     *NonceManager
	gas        GasPolicy
	feed       feeds.Feed
	sink       ResultSink
	learner    admission.Learner

	live         bool
	simulateOnly bool
	wallet       common.Address
	key          *ecdsa.PrivateKey

	mu       sync.Mutex
	breakers map[uint64]*Breaker
	lanes    map[uint64]chan *ttypes.ExecutionSignal
	stats    ExecutorStats
	wg       sync.WaitGroup
}

// NewCoordinator wires the executor. Live mode loads the signing key
// from the configured environment variable and fails fast when it is
// missing or does not match the wallet address.
func NewCoordinator(cfg *config.Config, registry *chains.Registry, transport signals.Transport, feed feeds.Feed, sink ResultSink, learner admission.Learner) (*Coordinator, error) {
	settlement, err := NewSettlement()
	if err != nil {
		return nil, err
	}
	if learner == nil {
		learner = admission.NopLearner{}
	}

	c := &Coordinator{
		cfg:          cfg,
		registry:     registry,
		transport:    transport,
		settlement:   settlement,
		noncer:       NewNonceManager(registry),
		gas:          NewGasPolicy(cfg.Execution.MaxGasPriceGwei, cfg.Execution.GasProfitFraction),
		feed:         feed,
		sink:         sink,
		learner:      learner,
		live:         cfg.Execution.Mode == "live",
		simulateOnly: cfg.Execution.SimulateOnly,
		breakers:     make(map[uint64]*Breaker),
		lanes:        make(map[uint64]chan *ttypes.ExecutionSignal),
	}

	if c.live {
		raw := strings.TrimPrefix(os.Getenv(cfg.Execution.PrivateKeyEnv), "0x")
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key from %s: %w", cfg.Execution.PrivateKeyEnv, err)
		}
		c.key = key
		c.wallet = crypto.PubkeyToAddress(key.PublicKey)
		want := common.HexToAddress(cfg.Execution.WalletAddress)
		if c.wallet != want {
			return nil, fmt.Errorf("private key derives %s, config expects %s", c.wallet.Hex(), want.Hex())
		}
	} else if cfg.Execution.WalletAddress != "" {
		c.wallet = common.HexToAddress(cfg.Execution.WalletAddress)
	}

	return c, nil
}

// Run subscribes to the signal channel and processes until the context
// ends.
func (c *Coordinator) Run(ctx context.Context) error {
	in, err := c.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	mode := "paper"
	if c.live {
		mode = "live"
	}
	log.Printf("[INFO] executor: running in %s mode (simulate_only=%v)", mode, c.simulateOnly)

	for {
		select {
		case <-ctx.Done():
			c.closeLanes()
			c.wg.Wait()
			return ctx.Err()
		case sig, ok := <-in:
			if !ok {
				c.closeLanes()
				c.wg.Wait()
				return nil
			}
			c.dispatch(ctx, sig)
		}
	}
}

// dispatch routes a signal onto its chain's serial lane.
func (c *Coordinator) dispatch(ctx context.Context, sig *ttypes.ExecutionSignal) {
	c.mu.Lock()
	c.stats.Received++
	lane, exists := c.lanes[sig.ChainID]
	if !exists {
		lane = make(chan *ttypes.ExecutionSignal, 32)
		c.lanes[sig.ChainID] = lane
		c.wg.Add(1)
		go c.laneWorker(ctx, lane)
	}
	c.mu.Unlock()

	select {
	case lane <- sig:
	default:
		log.Printf("[WARN] executor: chain %d lane full, dropping %s", sig.ChainID, sig.ID)
		c.finish(ctx, sig, &ttypes.ExecutionResult{
			SignalID:    sig.ID,
			ChainID:     sig.ChainID,
			TokenSymbol: sig.Token.Symbol,
			Status:      ttypes.StatusDiscarded,
			Reason:      "lane_full",
			CompletedAt: time.Now(),
		})
	}
}

func (c *Coordinator) closeLanes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lane := range c.lanes {
		close(lane)
	}
	c.lanes = make(map[uint64]chan *ttypes.ExecutionSignal)
}

// laneWorker processes one chain's signals serially.
func (c *Coordinator) laneWorker(ctx context.Context, lane <-chan *ttypes.ExecutionSignal) {
	defer c.wg.Done()
	for sig := range lane {
		result := c.process(ctx, sig)
		c.finish(ctx, sig, result)
	}
}

// finish records the result and feeds the learner.
func (c *Coordinator) finish(ctx context.Context, sig *ttypes.ExecutionSignal, result *ttypes.ExecutionResult) {
	c.mu.Lock()
	switch result.Status {
	case ttypes.StatusSuccess:
		c.stats.Succeeded++
	case ttypes.StatusReverted:
		c.stats.Reverted++
	case ttypes.StatusTimeout:
		c.stats.TimedOut++
	case ttypes.StatusSimulated:
		c.stats.Simulated++
	case ttypes.StatusSimulationFailed:
		c.stats.SimFailed++
	default:
		c.stats.Discarded++
	}
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.Record(ctx, result); err != nil {
			log.Printf("[WARN] executor: failed to record result for %s: %v", sig.ID, err)
		}
	}
	c.learner.Observe(result)

	log.Printf("[INFO] executor: %s -> %s %s", sig.ID, result.Status, result.Reason)
}

// process runs one signal through the gate, simulation, and (in live
// mode) settlement.
func (c *Coordinator) process(ctx context.Context, sig *ttypes.ExecutionSignal) *ttypes.ExecutionResult {
	result := &ttypes.ExecutionResult{
		SignalID:    sig.ID,
		ChainID:     sig.ChainID,
		TokenSymbol: sig.Token.Symbol,
		CompletedAt: time.Now(),
	}
	fail := func(status ttypes.ExecutionStatus, reason string) *ttypes.ExecutionResult {
		result.Status = status
		result.Reason = reason
		result.CompletedAt = time.Now()
		return result
	}

	ch, ok := c.registry.Get(sig.ChainID)
	if !ok {
		return fail(ttypes.StatusDiscarded, "chain_not_connected")
	}
	if ch.Settlement == "" {
		return fail(ttypes.StatusDiscarded, "no_settlement_contract")
	}
	settlementAddr := common.HexToAddress(ch.Settlement)

	breaker := c.breakerFor(sig.ChainID)
	if err := breaker.Allow(); err != nil {
		return fail(ttypes.StatusDiscarded, "breaker_open")
	}

	// Expiry: quotes from a past block are worthless.
	head, err := ch.BlockNumber(ctx)
	if err != nil {
		breaker.Failure()
		return fail(ttypes.StatusDiscarded, "head_unavailable")
	}
	if sig.ExpiryBlock > 0 && head > sig.ExpiryBlock {
		// Not a chain fault; release the claimed attempt without an
		// outcome so a half-open trial slot survives.
		breaker.Cancel()
		return fail(ttypes.StatusDiscarded, "expired")
	}

	gasPrice, err := ch.SuggestGasPrice(ctx)
	if err != nil {
		breaker.Failure()
		return fail(ttypes.StatusDiscarded, "gas_price_unavailable")
	}
	nativeUSD, err := c.feed.PriceUSD(ch.NativeSymbol)
	if err != nil {
		nativeUSD = decimal.Zero
	}
	gasUnits := uint64(len(sig.Hops)) * 200_000
	if err := c.gas.Check(gasPrice, gasUnits, nativeUSD, sig.NetProfit); err != nil {
		breaker.Cancel()
		return fail(ttypes.StatusDiscarded, "gas_hold: "+err.Error())
	}

	calldata, err := c.settlement.EncodeExecute(sig)
	if err != nil {
		breaker.Cancel()
		return fail(ttypes.StatusDiscarded, "encode_failed: "+err.Error())
	}

	// Simulate before spending anything.
	if err := c.simulate(ctx, ch, settlementAddr, calldata); err != nil {
		breaker.Failure()
		return fail(ttypes.StatusSimulationFailed, trimRevert(err))
	}

	if !c.live || c.simulateOnly {
		breaker.Success()
		result.ActualProfit = sig.NetProfit
		return fail(ttypes.StatusSimulated, "")
	}

	return c.broadcast(ctx, ch, settlementAddr, sig, calldata, gasPrice, breaker, result)
}

// simulate runs the settlement call as eth_call from the wallet.
func (c *Coordinator) simulate(ctx context.Context, ch *chains.Chain, to common.Address, calldata []byte) error {
	return ch.Call(ctx, func(cl *ethclient.Client) error {
		_, err := cl.CallContract(ctx, ethereum.CallMsg{
			From: c.wallet,
			To:   &to,
			Data: calldata,
		}, nil)
		return err
	})
}

// broadcast signs and sends the settlement transaction, then waits for
// its receipt.
func (c *Coordinator) broadcast(ctx context.Context, ch *chains.Chain, to common.Address, sig *ttypes.ExecutionSignal, calldata []byte, gasPrice *big.Int, breaker *Breaker, result *ttypes.ExecutionResult) *ttypes.ExecutionResult {
	fail := func(status ttypes.ExecutionStatus, reason string) *ttypes.ExecutionResult {
		result.Status = status
		result.Reason = reason
		result.CompletedAt = time.Now()
		return result
	}

	nonce, err := c.noncer.Reserve(ctx, sig.ChainID, c.wallet)
	if err != nil {
		breaker.Failure()
		return fail(ttypes.StatusDiscarded, "nonce_unavailable")
	}

	var gasLimit uint64
	err = ch.Call(ctx, func(cl *ethclient.Client) error {
		var err error
		gasLimit, err = cl.EstimateGas(ctx, ethereum.CallMsg{
			From: c.wallet,
			To:   &to,
			Data: calldata,
		})
		return err
	})
	if err != nil {
		c.noncer.Release(sig.ChainID, c.wallet, nonce)
		breaker.Failure()
		return fail(ttypes.StatusSimulationFailed, "estimate_failed: "+trimRevert(err))
	}
	gasLimit = gasLimit + gasLimit/5 // headroom over the estimate

	var tipCap *big.Int
	_ = ch.Call(ctx, func(cl *ethclient.Client) error {
		var err error
		tipCap, err = cl.SuggestGasTipCap(ctx)
		return err
	})
	if tipCap == nil {
		tipCap = big.NewInt(1_500_000_000) // 1.5 gwei
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(sig.ChainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: gasPrice,
		Gas:       gasLimit,
		To:        &to,
		Data:      calldata,
	})
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(sig.ChainID))
	signed, err := types.SignTx(tx, signer, c.key)
	if err != nil {
		c.noncer.Release(sig.ChainID, c.wallet, nonce)
		breaker.Failure()
		return fail(ttypes.StatusDiscarded, "sign_failed")
	}

	err = ch.Call(ctx, func(cl *ethclient.Client) error {
		return cl.SendTransaction(ctx, signed)
	})
	if err != nil {
		c.noncer.Release(sig.ChainID, c.wallet, nonce)
		if strings.Contains(err.Error(), "nonce") {
			_ = c.noncer.Resync(ctx, sig.ChainID, c.wallet)
		}
		breaker.Failure()
		return fail(ttypes.StatusDiscarded, "send_failed: "+trimRevert(err))
	}
	result.TxHash = signed.Hash().Hex()
	log.Printf("[INFO] executor: broadcast %s tx=%s nonce=%d", sig.ID, result.TxHash, nonce)

	receipt, err := c.waitReceipt(ctx, ch, signed.Hash())
	if err != nil {
		// Unknown outcome; resync so the next reservation is honest.
		_ = c.noncer.Resync(ctx, sig.ChainID, c.wallet)
		breaker.Failure()
		return fail(ttypes.StatusTimeout, "receipt_timeout")
	}
	c.noncer.Complete(sig.ChainID, c.wallet, nonce)
	result.GasUsed = receipt.GasUsed

	if receipt.Status != types.ReceiptStatusSuccessful {
		breaker.Failure()
		return fail(ttypes.StatusReverted, "reverted_onchain")
	}
	breaker.Success()
	result.ActualProfit = sig.NetProfit
	return fail(ttypes.StatusSuccess, "")
}

// waitReceipt polls for the receipt until the configured timeout.
func (c *Coordinator) waitReceipt(ctx context.Context, ch *chains.Chain, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.cfg.TxTimeout())
	poll := ch.BlockTime / 2
	if poll < 250*time.Millisecond {
		poll = 250 * time.Millisecond
	}

	for time.Now().Before(deadline) {
		var receipt *types.Receipt
		err := ch.Call(ctx, func(cl *ethclient.Client) error {
			var err error
			receipt, err = cl.TransactionReceipt(ctx, hash)
			return err
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
	return nil, fmt.Errorf("no receipt for %s within %s", hash.Hex(), c.cfg.TxTimeout())
}

func (c *Coordinator) breakerFor(chainID uint64) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[chainID]
	if !ok {
		b = NewBreaker(c.cfg.Execution.BreakerThreshold, c.cfg.BreakerCooldown())
		c.breakers[chainID] = b
	}
	return b
}

// Stats returns a copy of the runtime counters.
func (c *Coordinator) Stats() ExecutorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// trimRevert shortens noisy RPC revert strings for logs and records.
func trimRevert(err error) string {
	s := err.Error()
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}
