package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vegas-max/titan-arb/pkg/chains"
	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/feeds"
	"github.com/vegas-max/titan-arb/pkg/retry"
	"github.com/vegas-max/titan-arb/pkg/signals"
	ttypes "github.com/vegas-max/titan-arb/pkg/types"
)

// fakeRPC answers just enough of the JSON-RPC surface for the
// coordinator's pre-broadcast path and counts every method seen.
type fakeRPC struct {
	mu      sync.Mutex
	head    uint64
	callErr string // non-empty makes eth_call fail
	calls   map[string]int
}

func newFakeRPC(head uint64) *fakeRPC {
	return &fakeRPC{head: head, calls: make(map[string]int)}
}

func (f *fakeRPC) seen(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRPC) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.calls[req.Method]++
	head := f.head
	callErr := f.callErr
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	result := func(v string) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"%s"}`, req.ID, v)
	}
	switch req.Method {
	case "eth_chainId":
		result("0x1")
	case "eth_blockNumber":
		result(fmt.Sprintf("0x%x", head))
	case "eth_gasPrice":
		result("0x77359400") // 2 gwei
	case "eth_maxPriorityFeePerGas":
		result("0x59682f00")
	case "eth_getTransactionCount":
		result("0x0")
	case "eth_estimateGas":
		result("0x61a80")
	case "eth_call":
		if callErr != "" {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":3,"message":"%s"}}`, req.ID, callErr)
			return
		}
		result("0x")
	case "eth_sendRawTransaction":
		result("0x" + strings.Repeat("11", 32))
	default:
		result("0x")
	}
}

func execTestConfig(url string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Chains = []config.ChainSettings{{
		ChainID:      1,
		Name:         "mainnet",
		RPCURLs:      []string{url},
		NativeSymbol: "ETH",
		Settlement:   "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0",
		Enabled:      true,
		BlockTimeMs:  1000,
	}}
	cfg.Retry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	cfg.Execution.Mode = "paper"
	cfg.Feeds.StaticPrices = map[string]float64{"ETH": 2500}
	return cfg
}

func newTestCoordinator(t *testing.T, cfg *config.Config) *Coordinator {
	t.Helper()
	ctx := context.Background()
	registry, err := chains.NewRegistry(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(registry.Close)

	coord, err := NewCoordinator(cfg, registry, signals.NewMemoryTransport(),
		feeds.NewStaticFeed(cfg.Feeds.StaticPrices), nil, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return coord
}

func TestProcessDiscardsExpiredSignal(t *testing.T) {
	fake := newFakeRPC(200)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	coord := newTestCoordinator(t, execTestConfig(srv.URL))
	sig := testSignal()
	sig.ExpiryBlock = 100 // head is already 200

	res := coord.process(context.Background(), sig)
	if res.Status != ttypes.StatusDiscarded || res.Reason != "expired" {
		t.Fatalf("result = %s %q, want %s %q", res.Status, res.Reason, ttypes.StatusDiscarded, "expired")
	}
	if n := coord.breakerFor(1).ConsecutiveFailures(); n != 0 {
		t.Errorf("expiry is not a chain fault, breaker failures = %d, want 0", n)
	}

	// Re-evaluating the same signal past its expiry block must discard
	// again, never execute.
	res = coord.process(context.Background(), sig)
	if res.Status != ttypes.StatusDiscarded {
		t.Fatalf("repeat status = %s, want %s", res.Status, ttypes.StatusDiscarded)
	}
	if n := fake.seen("eth_call"); n != 0 {
		t.Errorf("expired signal was simulated %d times, want 0", n)
	}
	if n := fake.seen("eth_sendRawTransaction"); n != 0 {
		t.Errorf("expired signal was broadcast %d times, want 0", n)
	}
}

func TestProcessExpiredDiscardKeepsHalfOpenTrial(t *testing.T) {
	fake := newFakeRPC(200)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	coord := newTestCoordinator(t, execTestConfig(srv.URL))
	sig := testSignal()
	sig.ExpiryBlock = 100

	breaker := coord.breakerFor(1)
	now := time.Unix(1000, 0)
	breaker.now = func() time.Time { return now }
	for i := 0; i < coord.cfg.Execution.BreakerThreshold; i++ {
		breaker.Failure()
	}
	now = now.Add(coord.cfg.BreakerCooldown() + time.Second)

	// The half-open trial goes to an expired signal, which is
	// discarded without an outcome. The slot must come back.
	res := coord.process(context.Background(), sig)
	if res.Reason != "expired" {
		t.Fatalf("reason = %q, want %q", res.Reason, "expired")
	}
	if err := breaker.Allow(); err != nil {
		t.Fatal("trial slot must be available again after a no-outcome discard")
	}
}

func TestProcessSimulationFailureNeverBroadcasts(t *testing.T) {
	fake := newFakeRPC(50)
	fake.callErr = "execution reverted"
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	cfg := execTestConfig(srv.URL)
	cfg.Execution.Mode = "live"
	cfg.Execution.PrivateKeyEnv = "TEST_EXECUTOR_KEY"
	cfg.Execution.WalletAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	t.Setenv("TEST_EXECUTOR_KEY", "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")

	coord := newTestCoordinator(t, cfg)
	sig := testSignal()
	sig.ExpiryBlock = 100

	res := coord.process(context.Background(), sig)
	if res.Status != ttypes.StatusSimulationFailed {
		t.Fatalf("status = %s, want %s", res.Status, ttypes.StatusSimulationFailed)
	}
	if n := fake.seen("eth_sendRawTransaction"); n != 0 {
		t.Errorf("failed simulation was broadcast %d times, want 0", n)
	}
	if n := coord.breakerFor(1).ConsecutiveFailures(); n != 1 {
		t.Errorf("breaker failures = %d, want 1", n)
	}
}

func TestProcessPaperModeSimulates(t *testing.T) {
	fake := newFakeRPC(50)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	coord := newTestCoordinator(t, execTestConfig(srv.URL))
	sig := testSignal()
	sig.ExpiryBlock = 100

	res := coord.process(context.Background(), sig)
	if res.Status != ttypes.StatusSimulated {
		t.Fatalf("status = %s %q, want %s", res.Status, res.Reason, ttypes.StatusSimulated)
	}
	if n := fake.seen("eth_call"); n != 1 {
		t.Errorf("simulations = %d, want 1", n)
	}
	if n := fake.seen("eth_sendRawTransaction"); n != 0 {
		t.Errorf("paper mode must never broadcast, saw %d sends", n)
	}
}
