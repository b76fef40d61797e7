// Package types defines core data structures for the arbitrage brain and executor.
package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LiquidityTier classifies a token by how deep and reliable its markets are.
type LiquidityTier string

const (
	TierStable LiquidityTier = "stable" // USDC, USDT, DAI
	TierMajor  LiquidityTier = "major"  // WETH, WBTC, top DeFi assets
	TierAlt    LiquidityTier = "alt"    // everything else
)

// Token represents an ERC-20 token on a specific chain.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Tier     LiquidityTier  `json:"tier"`
}

// Units converts a whole-unit amount into raw token units.
func (t Token) Units(whole int64) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)
	return new(big.Int).Mul(big.NewInt(whole), exp)
}

// Whole converts a raw token amount to a decimal whole-unit value.
func (t Token) Whole(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(t.Decimals))
}

// Quote is a single DEX quote. Ephemeral: it lives for one scan cycle.
type Quote struct {
	ChainID   uint64         `json:"chain_id"`
	DEX       string         `json:"dex"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
	Timestamp time.Time      `json:"timestamp"`
}

// RouteHop is one swap leg of a candidate route.
type RouteHop struct {
	DEX       string         `json:"dex"`
	Protocol  uint8          `json:"protocol"` // settlement ABI protocol id
	Router    common.Address `json:"router"`
	TokenIn   Token          `json:"token_in"`
	TokenOut  Token          `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
	Extra     []byte         `json:"extra,omitempty"` // protocol-specific data (e.g. V3 fee tier)
	GasUnits  uint64         `json:"gas_units"`
}

// Route is an ordered list of hops returning to the starting token.
type Route struct {
	ChainID      uint64     `json:"chain_id"`
	Token        Token      `json:"token"`
	Intermediary Token      `json:"intermediary"`
	Hops         []RouteHop `json:"hops"`
	GasEstimate  uint64     `json:"gas_estimate"`
}

// AmountIn returns the route's starting amount.
func (r *Route) AmountIn() *big.Int {
	if len(r.Hops) == 0 {
		return big.NewInt(0)
	}
	return r.Hops[0].AmountIn
}

// AmountOut returns the route's final output amount.
func (r *Route) AmountOut() *big.Int {
	if len(r.Hops) == 0 {
		return big.NewInt(0)
	}
	return r.Hops[len(r.Hops)-1].AmountOut
}

// Fingerprint identifies a route shape (not its size) within a cycle,
// used for at-most-once signal dispatch. Routes through different
// intermediaries are distinct even on the same venue pair.
func (r *Route) Fingerprint() string {
	fp := fmt.Sprintf("%d:%s:%s", r.ChainID, r.Token.Symbol, r.Intermediary.Symbol)
	for _, h := range r.Hops {
		fp += ":" + h.DEX
	}
	return fp
}

// BalancerV3Vault is deployed at the same address on every supported
// chain. Its loan-token balance bounds how much a flash loan can draw.
var BalancerV3Vault = common.HexToAddress("0xbA1333333333a1BA1108E8412f11850A5C319bA9")

// FlashSource identifies the flash-loan provider, matching the
// settlement contract's uint8 encoding.
type FlashSource uint8

const (
	FlashBalancerV3 FlashSource = 0
	FlashAaveV3     FlashSource = 1
)

// FeeBps returns the provider's flash-loan fee in basis points.
func (s FlashSource) FeeBps() int64 {
	switch s {
	case FlashAaveV3:
		return 5
	default:
		return 0 // Balancer V3 charges no flash fee
	}
}

func (s FlashSource) String() string {
	switch s {
	case FlashAaveV3:
		return "aave_v3"
	default:
		return "balancer_v3"
	}
}

// LoanPlan is the sized flash loan attached to an accepted opportunity.
type LoanPlan struct {
	Token     Token           `json:"token"`
	Amount    *big.Int        `json:"amount"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Source    FlashSource     `json:"source"`
	FeeHint   *big.Int        `json:"fee_hint"`
	MinProfit *big.Int        `json:"min_profit"` // raw token units, enforced on-chain
}

// Opportunity is a detected arbitrage candidate. It lives only within
// the scan cycle that produced it and is never persisted.
type Opportunity struct {
	ID           string          `json:"id"`
	ChainID      uint64          `json:"chain_id"`
	Token        Token           `json:"token"`
	Route        *Route          `json:"route"`
	GrossProfit  decimal.Decimal `json:"gross_profit_usd"`
	NetProfit    decimal.Decimal `json:"net_profit_usd"`
	GasCostUSD   decimal.Decimal `json:"gas_cost_usd"`
	GasPriceGwei decimal.Decimal `json:"gas_price_gwei"`
	QualityScore int             `json:"quality_score"`
	Confidence   float64         `json:"confidence"`
	ExpiryBlock  uint64          `json:"expiry_block"`
	DetectedAt   time.Time       `json:"detected_at"`

	RejectionReasons []string `json:"rejection_reasons,omitempty"`
}

// Reject appends a structured rejection reason.
func (o *Opportunity) Reject(reason string) {
	o.RejectionReasons = append(o.RejectionReasons, reason)
}

// SignalHop is one encoded hop of an execution signal. MinOut is the
// minimum-output floor enforced on-chain; it is always > 0.
type SignalHop struct {
	Protocol uint8          `json:"protocol"`
	Router   common.Address `json:"router"`
	TokenOut common.Address `json:"token_out"`
	MinOut   *big.Int       `json:"min_out"`
	Extra    []byte         `json:"extra,omitempty"`
}

// ExecutionSignal is the wire message from the brain to the executor.
// A signal is consumed at most once.
type ExecutionSignal struct {
	ID           string          `json:"id"`
	ChainID      uint64          `json:"chain_id"`
	Token        Token           `json:"token"`
	Loan         LoanPlan        `json:"loan"`
	Hops         []SignalHop     `json:"hops"`
	ExpiryBlock  uint64          `json:"expiry_block"`
	NetProfit    decimal.Decimal `json:"net_profit_usd"`
	GasPriceGwei decimal.Decimal `json:"gas_price_gwei"`
	Score        float64         `json:"score"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ExecutionStatus is the terminal state of a processed signal.
type ExecutionStatus string

const (
	StatusSuccess          ExecutionStatus = "success"
	StatusReverted         ExecutionStatus = "reverted"
	StatusTimeout          ExecutionStatus = "timeout"
	StatusSimulated        ExecutionStatus = "simulated" // simulate-only mode, predicted success
	StatusSimulationFailed ExecutionStatus = "simulation_failed"
	StatusDiscarded        ExecutionStatus = "discarded" // expired or gated before broadcast
)

// ExecutionResult is the append-only record of a processed signal.
type ExecutionResult struct {
	SignalID     string          `json:"signal_id"`
	ChainID      uint64          `json:"chain_id"`
	TokenSymbol  string          `json:"token_symbol"`
	TxHash       string          `json:"tx_hash,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	ActualProfit decimal.Decimal `json:"actual_profit_usd"`
	GasUsed      uint64          `json:"gas_used"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// ScanStats holds brain runtime statistics.
type ScanStats struct {
	StartTime          time.Time `json:"start_time"`
	TotalCycles        int64     `json:"total_cycles"`
	RoutesEvaluated    int64     `json:"routes_evaluated"`
	OpportunitiesFound int64     `json:"opportunities_found"`
	SignalsPublished   int64     `json:"signals_published"`
	LastCycleTime      time.Time `json:"last_cycle_time"`
	Errors             int64     `json:"errors"`
}
