package market

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/types"
)

// Book holds the quotes gathered in one scan cycle. It is rebuilt
// every cycle and never persisted.
type Book struct {
	mu     sync.RWMutex
	quotes map[string]*types.Quote // "dex:in:out"
}

// NewBook returns an empty quote book.
func NewBook() *Book {
	return &Book{quotes: make(map[string]*types.Quote)}
}

func bookKey(dex string, in, out common.Address) string {
	return fmt.Sprintf("%s:%s:%s", dex, in.Hex(), out.Hex())
}

// Put stores a quote.
func (b *Book) Put(q *types.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[bookKey(q.DEX, q.TokenIn, q.TokenOut)] = q
}

// Get returns the quote for a venue and direction.
func (b *Book) Get(dex string, in, out common.Address) (*types.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[bookKey(dex, in, out)]
	return q, ok
}

// Len returns the number of stored quotes.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}

// Collector gathers quotes for a chain's token pairs each cycle with a
// bounded worker pool, and feeds implied prices into the TWAP oracle.
type Collector struct {
	quoter  *Quoter
	oracle  *TWAPOracle
	workers int
}

// NewCollector wires a collector to a quoter and oracle.
func NewCollector(quoter *Quoter, oracle *TWAPOracle, workers int) *Collector {
	if workers < 1 {
		workers = 1
	}
	return &Collector{quoter: quoter, oracle: oracle, workers: workers}
}

// pairJob is one quote request.
type pairJob struct {
	venue    Venue
	tokenIn  types.Token
	tokenOut types.Token
	amountIn *big.Int
}

// Collect quotes every (stable, target) pair in both directions on
// every venue of the chain. probeFor sizes the starting amount in the
// input token's units.
func (c *Collector) Collect(ctx context.Context, chainID uint64, stables, targets []types.Token, probeFor func(types.Token) *big.Int) *Book {
	book := NewBook()
	venues := c.quoter.Venues(chainID)
	if len(venues) == 0 {
		return book
	}

	var jobs []pairJob
	for _, v := range venues {
		for _, s := range stables {
			for _, t := range targets {
				if s.Address == t.Address {
					continue
				}
				jobs = append(jobs,
					pairJob{venue: v, tokenIn: s, tokenOut: t, amountIn: probeFor(s)},
					pairJob{venue: v, tokenIn: t, tokenOut: s, amountIn: probeFor(t)},
				)
			}
		}
	}

	jobCh := make(chan pairJob)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				q, err := c.quoter.Quote(ctx, job.venue, job.tokenIn, job.tokenOut, job.amountIn)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("[WARN] collector: %v", err)
					}
					continue
				}
				book.Put(q)
				c.recordSample(job, q)
			}
		}()
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return book
		case jobCh <- job:
		}
	}
	close(jobCh)
	wg.Wait()
	return book
}

// recordSample feeds the quote's implied price into the TWAP window.
// The price is always expressed as tokenOut per tokenIn with the pair
// in canonical order, so both directions land in one window.
func (c *Collector) recordSample(job pairJob, q *types.Quote) {
	in := job.tokenIn.Whole(q.AmountIn)
	out := job.tokenOut.Whole(q.AmountOut)
	if in.IsZero() || out.IsZero() {
		return
	}
	a, b := job.tokenIn.Symbol, job.tokenOut.Symbol
	price := out.Div(in)
	if a > b {
		// Canonical direction is b->a; invert.
		price = in.Div(out)
	}
	c.oracle.Record(PairKey(q.ChainID, a, b), price)
}

// SpotPrice derives the canonical spot price for a pair from the book,
// preferring the first venue that quoted it.
func (c *Collector) SpotPrice(book *Book, chainID uint64, tokenA, tokenB types.Token) (decimal.Decimal, bool) {
	for _, v := range c.quoter.Venues(chainID) {
		q, ok := book.Get(v.ID, tokenA.Address, tokenB.Address)
		if !ok {
			continue
		}
		in := tokenA.Whole(q.AmountIn)
		out := tokenB.Whole(q.AmountOut)
		if in.IsZero() || out.IsZero() {
			continue
		}
		if tokenA.Symbol > tokenB.Symbol {
			return in.Div(out), true
		}
		return out.Div(in), true
	}
	return decimal.Zero, false
}
