// Package config provides configuration management for the brain and executor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vegas-max/titan-arb/pkg/retry"
)

// Config holds the complete system configuration.
type Config struct {
	// Global settings
	ScanIntervalMs int  `json:"scan_interval_ms"`
	Verbose        bool `json:"verbose"`

	Detection DetectionSettings `json:"detection"`
	Admission AdmissionSettings `json:"admission"`
	Execution ExecutionSettings `json:"execution"`
	Signals   SignalSettings    `json:"signals"`
	Feeds     FeedSettings      `json:"feeds"`
	Recorder  RecorderSettings  `json:"recorder"`
	Retry     retry.Policy      `json:"retry"`

	Chains []ChainSettings `json:"chains"`
	Tokens []TokenSettings `json:"tokens"`
	DEXes  []DEXSettings   `json:"dexes"`
}

// DetectionSettings holds brain-side profitability parameters.
type DetectionSettings struct {
	MinNetProfitUSD   float64 `json:"min_net_profit_usd"`
	ProbeSizeUSD      float64 `json:"probe_size_usd"`
	MinLoanUSD        float64 `json:"min_loan_usd"`
	PoolRiskFraction  float64 `json:"pool_risk_fraction"`
	DefaultPoolTVLUSD float64 `json:"default_pool_tvl_usd"`
	SlippageBps       int     `json:"slippage_bps"`
	TWAPWindowSecs    int     `json:"twap_window_secs"`
	TWAPToleranceBps  int     `json:"twap_tolerance_bps"`
	ExpiryBlocks      uint64  `json:"expiry_blocks"`
	WorkersPerChain   int     `json:"workers_per_chain"`
	TokenRefreshCron  string  `json:"token_refresh_cron"`
	DiscoveryCacheTTL int     `json:"discovery_cache_ttl_secs"`
}

// AdmissionSettings holds the risk-gate parameters.
type AdmissionSettings struct {
	MinQualityScore  int     `json:"min_quality_score"`
	PumpThreshold    float64 `json:"pump_threshold"`
	OracleEnabled    bool    `json:"oracle_enabled"`
	MinOracleScore   float64 `json:"min_oracle_score"`
	ReliableChainIDs []uint64 `json:"reliable_chain_ids"`
}

// ExecutionSettings holds executor-side parameters.
type ExecutionSettings struct {
	Mode              string  `json:"mode"` // "paper" or "live"
	WalletAddress     string  `json:"wallet_address"`
	PrivateKeyEnv     string  `json:"private_key_env"` // env var name holding the key
	MaxGasPriceGwei   float64 `json:"max_gas_price_gwei"`
	GasProfitFraction float64 `json:"gas_profit_fraction"`
	BreakerThreshold  int     `json:"breaker_threshold"`
	BreakerCooldownS  int     `json:"breaker_cooldown_secs"`
	TxTimeoutSecs     int     `json:"tx_timeout_secs"`
	SimulateOnly      bool    `json:"simulate_only"`
}

// SignalSettings holds the brain-to-executor transport.
type SignalSettings struct {
	Transport string `json:"transport"` // "redis" or "memory"
	RedisURL  string `json:"redis_url"`
	Channel   string `json:"channel"`
}

// FeedSettings holds USD price-feed sources.
type FeedSettings struct {
	BinanceWS    bool               `json:"binance_ws"`
	StaticPrices map[string]float64 `json:"static_prices"`
	StaleAfterS  int                `json:"stale_after_secs"`
}

// RecorderSettings holds result-persistence options.
type RecorderSettings struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ChainSettings holds per-chain connectivity and contracts.
type ChainSettings struct {
	ChainID      uint64   `json:"chain_id"`
	Name         string   `json:"name"`
	RPCURLs      []string `json:"rpc_urls"`
	NativeSymbol string   `json:"native_symbol"`
	Settlement   string   `json:"settlement"` // flash-arb settlement contract
	Enabled      bool     `json:"enabled"`
	BlockTimeMs  int      `json:"block_time_ms"`
}

// TokenSettings holds configuration for a tracked token on a chain.
type TokenSettings struct {
	Symbol   string `json:"symbol"`
	ChainID  uint64 `json:"chain_id"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Tier     string `json:"tier"` // "stable", "major", "alt"
}

// DEXSettings holds configuration for a venue on a chain.
type DEXSettings struct {
	ID       string `json:"id"`
	ChainID  uint64 `json:"chain_id"`
	Protocol string `json:"protocol"` // "univ2" or "univ3"
	Router   string `json:"router"`
	Quoter   string `json:"quoter,omitempty"` // V3 QuoterV2
	FeeTier  int    `json:"fee_tier,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		ScanIntervalMs: 12000, // roughly one mainnet block
		Verbose:        true,

		Detection: DetectionSettings{
			MinNetProfitUSD:   5,
			ProbeSizeUSD:      10000,
			MinLoanUSD:        10000,
			PoolRiskFraction:  0.20,
			DefaultPoolTVLUSD: 2_000_000,
			SlippageBps:       50, // 0.5%
			TWAPWindowSecs:    30,
			TWAPToleranceBps:  500, // 5%
			ExpiryBlocks:      3,
			WorkersPerChain:   4,
			TokenRefreshCron:  "@every 1h",
			DiscoveryCacheTTL: 3600,
		},

		Admission: AdmissionSettings{
			MinQualityScore:  50,
			PumpThreshold:    0.2,
			OracleEnabled:    false,
			MinOracleScore:   0.5,
			ReliableChainIDs: []uint64{1, 42161, 8453},
		},

		Execution: ExecutionSettings{
			Mode:              "paper",
			PrivateKeyEnv:     "EXECUTOR_PRIVATE_KEY",
			MaxGasPriceGwei:   200,
			GasProfitFraction: 0.5,
			BreakerThreshold:  10,
			BreakerCooldownS:  60,
			TxTimeoutSecs:     90,
		},

		Signals: SignalSettings{
			Transport: "redis",
			RedisURL:  "redis://localhost:6379/0",
			Channel:   "trade_signals",
		},

		Feeds: FeedSettings{
			BinanceWS: true,
			StaticPrices: map[string]float64{
				"USDC": 1, "USDT": 1, "DAI": 1,
			},
			StaleAfterS: 120,
		},

		Recorder: RecorderSettings{
			Enabled: true,
			Path:    "titan.db",
		},

		Retry: retry.DefaultPolicy(),

		Chains: []ChainSettings{
			{ChainID: 1, Name: "ethereum", NativeSymbol: "ETH", Enabled: true, BlockTimeMs: 12000},
			{ChainID: 42161, Name: "arbitrum", NativeSymbol: "ETH", Enabled: true, BlockTimeMs: 250},
			{ChainID: 8453, Name: "base", NativeSymbol: "ETH", Enabled: true, BlockTimeMs: 2000},
			{ChainID: 137, Name: "polygon", NativeSymbol: "POL", Enabled: false, BlockTimeMs: 2000},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, then applies
// environment overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadFromEnv loads the default configuration with environment overrides.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCAN_INTERVAL_MS"); v != "" {
		if val, err := parseInt(v); err == nil {
			c.ScanIntervalMs = val
		}
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		c.Verbose = strings.ToLower(v) == "true"
	}

	if v := os.Getenv("MIN_NET_PROFIT_USD"); v != "" {
		if val, err := parseFloat(v); err == nil {
			c.Detection.MinNetProfitUSD = val
		}
	}
	if v := os.Getenv("MIN_LOAN_USD"); v != "" {
		if val, err := parseFloat(v); err == nil {
			c.Detection.MinLoanUSD = val
		}
	}
	if v := os.Getenv("MAX_GAS_PRICE_GWEI"); v != "" {
		if val, err := parseFloat(v); err == nil {
			c.Execution.MaxGasPriceGwei = val
		}
	}
	if v := os.Getenv("EXECUTION_MODE"); v != "" {
		c.Execution.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("WALLET_ADDRESS"); v != "" {
		c.Execution.WalletAddress = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Signals.RedisURL = v
	}
	if v := os.Getenv("SIGNAL_CHANNEL"); v != "" {
		c.Signals.Channel = v
	}
	if v := os.Getenv("RECORDER_PATH"); v != "" {
		c.Recorder.Path = v
	}

	// Per-chain RPC endpoints: RPC_URLS_<CHAINID> is a comma-separated list.
	for i := range c.Chains {
		key := fmt.Sprintf("RPC_URLS_%d", c.Chains[i].ChainID)
		if v := os.Getenv(key); v != "" {
			c.Chains[i].RPCURLs = splitAndTrim(v)
		}
	}
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnabledChains returns only enabled chains.
func (c *Config) EnabledChains() []ChainSettings {
	var enabled []ChainSettings
	for _, ch := range c.Chains {
		if ch.Enabled {
			enabled = append(enabled, ch)
		}
	}
	return enabled
}

// ChainByID looks up a chain by its ID.
func (c *Config) ChainByID(id uint64) (ChainSettings, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == id {
			return ch, true
		}
	}
	return ChainSettings{}, false
}

// TokensForChain returns tracked tokens on the given chain.
func (c *Config) TokensForChain(chainID uint64) []TokenSettings {
	var out []TokenSettings
	for _, t := range c.Tokens {
		if t.ChainID == chainID {
			out = append(out, t)
		}
	}
	return out
}

// DEXesForChain returns enabled venues on the given chain.
func (c *Config) DEXesForChain(chainID uint64) []DEXSettings {
	var out []DEXSettings
	for _, d := range c.DEXes {
		if d.ChainID == chainID && d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// IsReliableChain reports whether the chain is on the reliable list.
func (c *Config) IsReliableChain(chainID uint64) bool {
	for _, id := range c.Admission.ReliableChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}

// ScanInterval returns the scan interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}

// TWAPWindow returns the TWAP window as a duration.
func (c *Config) TWAPWindow() time.Duration {
	return time.Duration(c.Detection.TWAPWindowSecs) * time.Second
}

// BreakerCooldown returns the circuit-breaker cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Execution.BreakerCooldownS) * time.Second
}

// TxTimeout returns the transaction confirmation deadline.
func (c *Config) TxTimeout() time.Duration {
	return time.Duration(c.Execution.TxTimeoutSecs) * time.Second
}

// Validate checks the configuration. Callers treat an error as fatal.
func (c *Config) Validate() error {
	if c.ScanIntervalMs < 100 {
		return fmt.Errorf("scan_interval_ms must be at least 100")
	}
	if c.Detection.MinNetProfitUSD < 0 {
		return fmt.Errorf("min_net_profit_usd cannot be negative")
	}
	if c.Detection.ProbeSizeUSD <= 0 {
		return fmt.Errorf("probe_size_usd must be positive")
	}
	if c.Detection.PoolRiskFraction <= 0 || c.Detection.PoolRiskFraction > 1 {
		return fmt.Errorf("pool_risk_fraction must be in (0,1], got %f", c.Detection.PoolRiskFraction)
	}
	if c.Detection.SlippageBps < 0 || c.Detection.SlippageBps >= 10000 {
		return fmt.Errorf("slippage_bps must be in [0,10000), got %d", c.Detection.SlippageBps)
	}
	if c.Detection.TWAPWindowSecs <= 0 {
		return fmt.Errorf("twap_window_secs must be positive")
	}
	if c.Detection.WorkersPerChain < 1 {
		return fmt.Errorf("workers_per_chain must be at least 1")
	}
	if c.Admission.MinQualityScore < 0 || c.Admission.MinQualityScore > 100 {
		return fmt.Errorf("min_quality_score must be in [0,100], got %d", c.Admission.MinQualityScore)
	}
	switch c.Execution.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("execution mode must be \"paper\" or \"live\", got %q", c.Execution.Mode)
	}
	if c.Execution.Mode == "live" {
		if c.Execution.WalletAddress == "" {
			return fmt.Errorf("live mode requires wallet_address")
		}
		if os.Getenv(c.Execution.PrivateKeyEnv) == "" {
			return fmt.Errorf("live mode requires %s to be set", c.Execution.PrivateKeyEnv)
		}
	}
	if c.Execution.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("max_gas_price_gwei must be positive")
	}
	if c.Execution.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be at least 1")
	}
	switch c.Signals.Transport {
	case "redis", "memory":
	default:
		return fmt.Errorf("signal transport must be \"redis\" or \"memory\", got %q", c.Signals.Transport)
	}
	if c.Signals.Channel == "" {
		return fmt.Errorf("signal channel cannot be empty")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	if len(c.EnabledChains()) == 0 {
		return fmt.Errorf("at least 1 chain must be enabled")
	}
	for _, ch := range c.EnabledChains() {
		if len(ch.RPCURLs) == 0 {
			return fmt.Errorf("chain %s (%d) has no rpc_urls", ch.Name, ch.ChainID)
		}
	}
	return nil
}

// Helper functions
func parseInt(s string) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseFloat(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	return v, err
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
