package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	binanceWSURL   = "wss://stream.binance.com:9443/ws"
	binanceUSWSURL = "wss://stream.binance.us:9443/ws"
)

// BinanceFeed streams bookTicker mid prices for native tokens (ETH,
// POL, ...) into a PriceCache. It reconnects with backoff and falls
// back to the US endpoint when the global one is unreachable.
type BinanceFeed struct {
	cache   *PriceCache
	symbols []string // e.g. ["ETHUSDT", "POLUSDT"]

	connMu sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	msgID  int
	useUS  bool

	reconnectAttempts int
}

// NewBinanceFeed creates a feed for the given token symbols. Symbols
// are quoted against USDT.
func NewBinanceFeed(cache *PriceCache, tokenSymbols []string) *BinanceFeed {
	f := &BinanceFeed{cache: cache}
	seen := map[string]bool{}
	for _, sym := range tokenSymbols {
		s := strings.ToUpper(sym)
		if s == "USDT" || s == "USDC" || s == "DAI" || seen[s] {
			continue
		}
		seen[s] = true
		f.symbols = append(f.symbols, s+"USDT")
	}
	return f
}

// PriceUSD implements Feed by delegating to the backing cache.
func (f *BinanceFeed) PriceUSD(symbol string) (decimal.Decimal, error) {
	return f.cache.PriceUSD(symbol)
}

// Start connects and subscribes, then keeps the stream alive until the
// context is cancelled.
func (f *BinanceFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)
	if err := f.connect(); err != nil {
		return err
	}
	if err := f.subscribe(); err != nil {
		return err
	}
	go f.readLoop()
	go f.pingLoop()
	return nil
}

// Stop closes the connection.
func (f *BinanceFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *BinanceFeed) connect() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	wsURL := binanceWSURL
	if f.useUS {
		wsURL = binanceUSWSURL
	}
	conn, _, err := dialer.DialContext(f.ctx, wsURL, nil)
	if err != nil && !f.useUS {
		conn, _, err = dialer.DialContext(f.ctx, binanceUSWSURL, nil)
		if err == nil {
			f.useUS = true
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}
	f.conn = conn
	f.reconnectAttempts = 0
	return nil
}

func (f *BinanceFeed) subscribe() error {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	f.msgID++
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     f.msgID,
	}
	return conn.WriteJSON(msg)
}

// binanceBookTicker is Binance's bookTicker payload.
type binanceBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

func (f *BinanceFeed) readLoop() {
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("[WARN] binance feed: read error: %v", err)
			f.reconnect()
			return
		}

		var ticker binanceBookTicker
		if err := json.Unmarshal(message, &ticker); err != nil || ticker.Symbol == "" {
			continue
		}
		f.handleTicker(&ticker)
	}
}

// handleTicker stores the bid/ask midpoint as the USD price.
func (f *BinanceFeed) handleTicker(t *binanceBookTicker) {
	bid, err1 := decimal.NewFromString(t.BidPrice)
	ask, err2 := decimal.NewFromString(t.AskPrice)
	if err1 != nil || err2 != nil || bid.IsZero() || ask.IsZero() {
		return
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	symbol := strings.TrimSuffix(strings.ToUpper(t.Symbol), "USDT")
	f.cache.Set(symbol, mid)
}

func (f *BinanceFeed) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Printf("[WARN] binance feed: ping failed: %v", err)
				}
			}
		}
	}
}

func (f *BinanceFeed) reconnect() {
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.reconnectAttempts++
		delay := time.Duration(f.reconnectAttempts) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		time.Sleep(delay)

		if err := f.connect(); err != nil {
			log.Printf("[WARN] binance feed: reconnect failed: %v", err)
			continue
		}
		if err := f.subscribe(); err != nil {
			log.Printf("[WARN] binance feed: resubscribe failed: %v", err)
			continue
		}
		go f.readLoop()
		return
	}
}
