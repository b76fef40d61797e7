// Package feeds provides USD reference prices for gas and profit math.
package feeds

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Feed supplies a USD price for a token symbol.
type Feed interface {
	// PriceUSD returns the current USD price for the symbol. An error
	// means no fresh price is available.
	PriceUSD(symbol string) (decimal.Decimal, error)
}

// StaticFeed serves fixed prices from configuration. Used for
// stablecoins and as the fallback when the live feed is down.
type StaticFeed struct {
	prices map[string]decimal.Decimal
}

// NewStaticFeed builds a feed from a symbol-to-price map.
func NewStaticFeed(prices map[string]float64) *StaticFeed {
	f := &StaticFeed{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		f.prices[strings.ToUpper(sym)] = decimal.NewFromFloat(p)
	}
	return f
}

// PriceUSD implements Feed.
func (f *StaticFeed) PriceUSD(symbol string) (decimal.Decimal, error) {
	if p, ok := f.prices[strings.ToUpper(symbol)]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("no static price for %s", symbol)
}

// LayeredFeed tries feeds in order until one answers.
type LayeredFeed struct {
	feeds []Feed
}

// NewLayeredFeed layers feeds front to back.
func NewLayeredFeed(feeds ...Feed) *LayeredFeed {
	return &LayeredFeed{feeds: feeds}
}

// PriceUSD implements Feed.
func (f *LayeredFeed) PriceUSD(symbol string) (decimal.Decimal, error) {
	var lastErr error
	for _, feed := range f.feeds {
		p, err := feed.PriceUSD(symbol)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no feeds configured")
	}
	return decimal.Zero, lastErr
}

// cachedPrice is a live price with its arrival time.
type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceCache is a thread-safe price store fed by a live source.
// Prices go stale after the configured window.
type PriceCache struct {
	mu         sync.RWMutex
	prices     map[string]cachedPrice
	staleAfter time.Duration
	now        func() time.Time
}

// NewPriceCache creates a cache with the given staleness window.
func NewPriceCache(staleAfter time.Duration) *PriceCache {
	return &PriceCache{
		prices:     make(map[string]cachedPrice),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Set records a price observation.
func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[strings.ToUpper(symbol)] = cachedPrice{price: price, at: c.now()}
}

// PriceUSD implements Feed. Stale prices are treated as missing.
func (c *PriceCache) PriceUSD(symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	if c.staleAfter > 0 && c.now().Sub(cp.at) > c.staleAfter {
		return decimal.Zero, fmt.Errorf("price for %s is stale", symbol)
	}
	return cp.price, nil
}
