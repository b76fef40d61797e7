// Package market gathers DEX quotes and maintains short time-weighted
// price windows for manipulation checks.
package market

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PairKey builds the canonical key for a token pair on a chain. The
// pair is sorted so A/B and B/A share one window.
func PairKey(chainID uint64, tokenA, tokenB string) string {
	a, b := strings.ToUpper(tokenA), strings.ToUpper(tokenB)
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s-%s", chainID, a, b)
}

type sample struct {
	price decimal.Decimal
	at    time.Time
}

// TWAPOracle keeps a rolling window of price samples per pair and
// answers whether a spot price deviates too far from the window mean.
type TWAPOracle struct {
	mu      sync.RWMutex
	window  time.Duration
	samples map[string][]sample
	now     func() time.Time
}

// NewTWAPOracle creates an oracle with the given window.
func NewTWAPOracle(window time.Duration) *TWAPOracle {
	return &TWAPOracle{
		window:  window,
		samples: make(map[string][]sample),
		now:     time.Now,
	}
}

// Record adds a price observation for the pair.
func (o *TWAPOracle) Record(key string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	kept := o.prune(o.samples[key], now)
	o.samples[key] = append(kept, sample{price: price, at: now})
}

// prune drops samples older than the window.
func (o *TWAPOracle) prune(ss []sample, now time.Time) []sample {
	cutoff := now.Add(-o.window)
	i := sort.Search(len(ss), func(i int) bool { return ss[i].at.After(cutoff) })
	return ss[i:]
}

// Mean returns the arithmetic mean of the in-window samples. The
// second return is false when the window is empty.
func (o *TWAPOracle) Mean(key string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ss := o.prune(o.samples[key], o.now())
	if len(ss) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, s := range ss {
		sum = sum.Add(s.price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(ss)))), true
}

// WithinBounds reports whether spot deviates from the window mean by
// no more than toleranceBps. An empty window passes: there is nothing
// to compare against yet.
func (o *TWAPOracle) WithinBounds(key string, spot decimal.Decimal, toleranceBps int) bool {
	mean, ok := o.Mean(key)
	if !ok || mean.IsZero() {
		return true
	}
	dev := spot.Sub(mean).Abs().Div(mean).Mul(decimal.NewFromInt(10000))
	return dev.LessThanOrEqual(decimal.NewFromInt(int64(toleranceBps)))
}

// SampleCount returns how many in-window samples the pair has.
func (o *TWAPOracle) SampleCount(key string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.prune(o.samples[key], o.now()))
}
