package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"intraday-systemv1/internal/model"
)

// Fill records one simulated execution.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Side      string    `json:"side"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	FillPrice int64     `json:"fill_price"` // paise
	FillQty   int64     `json:"fill_qty"`
	FilledAt  time.Time `json:"filled_at"`
	Slippage  int64     `json:"slippage"` // paise
}

type paperOrder struct {
	state   OrderState
	side    string
	symbol  string
	exch    string
	qty     int64
	trigger int64 // stop orders: fire when price <= trigger
	limit   int64 // limit orders: fire when price >= limit
}

// Paper simulates order execution without broker calls. Market orders fill
// immediately at the current quote with configurable slippage; stop and
// limit orders rest until MarkPrice crosses them.
type Paper struct {
	mu       sync.Mutex
	orderSeq int64
	capital  int64 // paise
	quotes   map[string]int64
	ticks    map[string]int64
	orders   map[string]*paperOrder
	fills    []Fill
	history  map[string][]model.Candle

	slippageBps int64
}

// NewPaper creates a paper gateway with the given starting capital (paise)
// and slippage in basis points.
func NewPaper(capital, slippageBps int64) *Paper {
	return &Paper{
		capital:     capital,
		quotes:      make(map[string]int64),
		ticks:       make(map[string]int64),
		orders:      make(map[string]*paperOrder),
		history:     make(map[string][]model.Candle),
		slippageBps: slippageBps,
	}
}

// SetQuote sets the last traded price for an instrument.
func (p *Paper) SetQuote(symbol, exchange string, price int64) {
	p.mu.Lock()
	p.quotes[exchange+":"+symbol] = price
	p.mu.Unlock()
}

// SetTickSize sets the tick size for an instrument.
func (p *Paper) SetTickSize(symbol, exchange string, tick int64) {
	p.mu.Lock()
	p.ticks[exchange+":"+symbol] = tick
	p.mu.Unlock()
}

// SetHistory seeds historical candles returned by HistoricalCandles.
func (p *Paper) SetHistory(symbol, exchange string, candles []model.Candle) {
	p.mu.Lock()
	p.history[exchange+":"+symbol] = candles
	p.mu.Unlock()
}

// MarkPrice moves the quote and fills any resting stop or limit orders the
// new price crosses.
func (p *Paper) MarkPrice(symbol, exchange string, price int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := exchange + ":" + symbol
	p.quotes[key] = price

	for _, o := range p.orders {
		if o.state.Status != OrderPending || o.exch+":"+o.symbol != key {
			continue
		}
		switch {
		case o.trigger > 0 && price <= o.trigger:
			p.fillLocked(o, o.trigger)
		case o.limit > 0 && price >= o.limit:
			p.fillLocked(o, o.limit)
		}
	}
}

// Fills returns a snapshot of all fills so far.
func (p *Paper) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *Paper) PlaceMarket(_ context.Context, side, symbol, exchange string, qty int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.quotes[exchange+":"+symbol]
	if !ok || price <= 0 {
		return "", fmt.Errorf("place market %s %s:%s: no quote", side, exchange, symbol)
	}

	slip := price * p.slippageBps / 10000
	if side == SideBuy {
		price += slip
	} else {
		price -= slip
	}

	o := p.newOrderLocked(side, symbol, exchange, qty)
	p.fillLocked(o, price)
	p.fills[len(p.fills)-1].Slippage = slip
	return o.state.OrderID, nil
}

func (p *Paper) PlaceStopLossSell(_ context.Context, symbol, exchange string, qty, trigger int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.newOrderLocked(SideSell, symbol, exchange, qty)
	o.trigger = trigger
	return o.state.OrderID, nil
}

func (p *Paper) PlaceTakeProfitSell(_ context.Context, symbol, exchange string, qty, limit int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.newOrderLocked(SideSell, symbol, exchange, qty)
	o.limit = limit
	return o.state.OrderID, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: unknown order", orderID)
	}
	if o.state.Status == OrderPending {
		o.state.Status = OrderCanceled
	}
	return nil
}

func (p *Paper) OrderStatus(_ context.Context, orderID string) (OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("status %s: unknown order", orderID)
	}
	return o.state, nil
}

func (p *Paper) LastPrice(_ context.Context, symbol, exchange string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.quotes[exchange+":"+symbol]
	if !ok {
		return 0, fmt.Errorf("quote %s:%s: unknown instrument", exchange, symbol)
	}
	return price, nil
}

func (p *Paper) TickSize(symbol, exchange string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks[exchange+":"+symbol]
}

func (p *Paper) AvailableCapital(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capital, nil
}

func (p *Paper) HistoricalCandles(_ context.Context, symbol, exchange string, _ time.Duration, n int) ([]model.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.history[exchange+":"+symbol]
	if len(h) > n {
		h = h[len(h)-n:]
	}
	cp := make([]model.Candle, len(h))
	copy(cp, h)
	return cp, nil
}

// newOrderLocked allocates a pending order. Caller holds p.mu.
func (p *Paper) newOrderLocked(side, symbol, exchange string, qty int64) *paperOrder {
	p.orderSeq++
	o := &paperOrder{
		state: OrderState{
			OrderID: fmt.Sprintf("PAPER-%d", p.orderSeq),
			Status:  OrderPending,
		},
		side:   side,
		symbol: symbol,
		exch:   exchange,
		qty:    qty,
	}
	p.orders[o.state.OrderID] = o
	return o
}

// fillLocked completes an order at the given price. Caller holds p.mu.
func (p *Paper) fillLocked(o *paperOrder, price int64) {
	o.state.Status = OrderComplete
	o.state.FillPrice = price
	o.state.FillQty = o.qty
	o.state.Message = fmt.Sprintf("paper filled at %d", price)

	p.fills = append(p.fills, Fill{
		OrderID:   o.state.OrderID,
		Side:      o.side,
		Symbol:    o.symbol,
		Exchange:  o.exch,
		FillPrice: price,
		FillQty:   o.qty,
		FilledAt:  time.Now(),
	})
	log.Printf("[paper] %s %s:%s qty=%d price=%d order=%s",
		o.side, o.exch, o.symbol, o.qty, price, o.state.OrderID)
}
