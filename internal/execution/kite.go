package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"intraday-systemv1/internal/model"
	"intraday-systemv1/pkg/kiteconnect"
)

// KiteGateway adapts the Kite Connect client to the OrderGateway interface.
// All orders use the MIS intraday product, so the broker force-squares-off
// anything the engine fails to close itself.
type KiteGateway struct {
	kc *kiteconnect.Client

	mu     sync.Mutex
	tokens map[string]uint32 // instrument key → broker token
	ticks  map[string]int64  // instrument key → tick size, paise
}

// NewKiteGateway wraps an authenticated client. The instrument list supplies
// token and tick size lookups.
func NewKiteGateway(kc *kiteconnect.Client, instruments []model.Instrument) *KiteGateway {
	g := &KiteGateway{
		kc:     kc,
		tokens: make(map[string]uint32, len(instruments)),
		ticks:  make(map[string]int64, len(instruments)),
	}
	for _, inst := range instruments {
		g.tokens[inst.Key()] = inst.Token
		g.ticks[inst.Key()] = inst.TickSize
	}
	return g
}

func (g *KiteGateway) PlaceMarket(ctx context.Context, side, symbol, exchange string, qty int64) (string, error) {
	return g.kc.PlaceOrder(ctx, kiteconnect.OrderParams{
		Exchange:        exchange,
		TradingSymbol:   symbol,
		TransactionType: side,
		OrderType:       kiteconnect.OrderTypeMarket,
		Quantity:        qty,
		Product:         kiteconnect.ProductMIS,
		Tag:             "intraday-engine",
	})
}

func (g *KiteGateway) PlaceStopLossSell(ctx context.Context, symbol, exchange string, qty, trigger int64) (string, error) {
	return g.kc.PlaceOrder(ctx, kiteconnect.OrderParams{
		Exchange:        exchange,
		TradingSymbol:   symbol,
		TransactionType: kiteconnect.TransactionSell,
		OrderType:       kiteconnect.OrderTypeSLM,
		Quantity:        qty,
		Product:         kiteconnect.ProductMIS,
		TriggerPrice:    trigger,
		Tag:             "intraday-sl",
	})
}

func (g *KiteGateway) PlaceTakeProfitSell(ctx context.Context, symbol, exchange string, qty, limit int64) (string, error) {
	return g.kc.PlaceOrder(ctx, kiteconnect.OrderParams{
		Exchange:        exchange,
		TradingSymbol:   symbol,
		TransactionType: kiteconnect.TransactionSell,
		OrderType:       kiteconnect.OrderTypeLimit,
		Quantity:        qty,
		Product:         kiteconnect.ProductMIS,
		Price:           limit,
		Tag:             "intraday-tp",
	})
}

func (g *KiteGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.kc.CancelOrder(ctx, orderID)
}

func (g *KiteGateway) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	hist, err := g.kc.OrderHistory(ctx, orderID)
	if err != nil {
		return OrderState{}, err
	}
	if len(hist) == 0 {
		return OrderState{OrderID: orderID, Status: OrderPending}, nil
	}
	last := hist[len(hist)-1]
	return OrderState{
		OrderID:   orderID,
		Status:    mapKiteStatus(last.Status),
		FillPrice: int64(math.Round(last.AveragePrice * 100)),
		FillQty:   last.FilledQty,
		Message:   last.StatusMessage,
	}, nil
}

func (g *KiteGateway) LastPrice(ctx context.Context, symbol, exchange string) (int64, error) {
	key := exchange + ":" + symbol
	prices, err := g.kc.LTP(ctx, key)
	if err != nil {
		return 0, err
	}
	price, ok := prices[key]
	if !ok {
		return 0, fmt.Errorf("ltp %s: not in response", key)
	}
	return price, nil
}

func (g *KiteGateway) TickSize(symbol, exchange string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ticks[exchange+":"+symbol]
}

// AvailableCapital applies the funding priority: intraday payin first, then
// available cash, then net equity.
func (g *KiteGateway) AvailableCapital(ctx context.Context) (int64, error) {
	m, err := g.kc.EquityMargins(ctx)
	if err != nil {
		return 0, err
	}
	switch {
	case m.IntradayPayin > 0:
		return m.IntradayPayin, nil
	case m.AvailableCash > 0:
		return m.AvailableCash, nil
	default:
		return m.Net, nil
	}
}

func (g *KiteGateway) HistoricalCandles(ctx context.Context, symbol, exchange string, interval time.Duration, n int) ([]model.Candle, error) {
	key := exchange + ":" + symbol
	g.mu.Lock()
	token, ok := g.tokens[key]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("historical %s: unknown instrument token", key)
	}

	to := time.Now()
	// Fetch a wider window than n candles to cover market-closed gaps.
	from := to.Add(-time.Duration(4*n) * interval)
	raw, err := g.kc.HistoricalData(ctx, token, kiteInterval(interval), from, to)
	if err != nil {
		return nil, err
	}
	if len(raw) > n {
		raw = raw[len(raw)-n:]
	}

	out := make([]model.Candle, len(raw))
	for i, hc := range raw {
		out[i] = model.Candle{
			Symbol:   symbol,
			Exchange: exchange,
			TS:       hc.TS,
			Open:     hc.Open,
			High:     hc.High,
			Low:      hc.Low,
			Close:    hc.Close,
			Volume:   hc.Volume,
		}
	}
	return out, nil
}

// kiteInterval maps a candle duration to the historical API interval name.
func kiteInterval(d time.Duration) string {
	minutes := int(d.Minutes())
	switch minutes {
	case 1:
		return "minute"
	case 0:
		return "minute"
	default:
		return fmt.Sprintf("%dminute", minutes)
	}
}

func mapKiteStatus(status string) string {
	switch status {
	case "COMPLETE":
		return OrderComplete
	case "REJECTED":
		return OrderRejected
	case "CANCELLED", "CANCELLED AMO":
		return OrderCanceled
	default:
		return OrderPending
	}
}
