// Package execution turns signal decisions into broker orders and drives the
// per-candle decision pipeline. The Coordinator serializes all work for one
// instrument onto one worker, so position state for an instrument is never
// touched by two goroutines at once.
package execution

import (
	"context"
	"errors"
	"time"

	"intraday-systemv1/internal/model"
)

// Order side and status values as reported by the broker.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderComplete = "COMPLETE"
	OrderPending  = "PENDING"
	OrderRejected = "REJECTED"
	OrderCanceled = "CANCELLED"
)

// ErrOrderRejected is returned when the broker rejects an order outright.
var ErrOrderRejected = errors.New("order rejected by broker")

// ErrOrderNotFilled is returned when an order does not reach COMPLETE within
// the polling window.
var ErrOrderNotFilled = errors.New("order not filled in time")

// OrderState is the broker-side view of one order.
type OrderState struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	FillPrice int64  `json:"fill_price"` // average fill, paise; 0 until filled
	FillQty   int64  `json:"fill_qty"`
	Message   string `json:"message"`
}

// OrderGateway is the broker surface the coordinator trades through. The live
// implementation wraps the Kite REST API; Paper simulates fills in-process.
type OrderGateway interface {
	// PlaceMarket places a market order and returns the broker order id.
	PlaceMarket(ctx context.Context, side, symbol, exchange string, qty int64) (string, error)

	// PlaceStopLossSell places a sell stop order triggered at the given
	// price (paise).
	PlaceStopLossSell(ctx context.Context, symbol, exchange string, qty, trigger int64) (string, error)

	// PlaceTakeProfitSell places a sell limit order at the given price.
	PlaceTakeProfitSell(ctx context.Context, symbol, exchange string, qty, limit int64) (string, error)

	// CancelOrder cancels a pending order. Canceling an already-complete
	// order is not an error.
	CancelOrder(ctx context.Context, orderID string) error

	// OrderStatus fetches the current broker state of an order.
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)

	// LastPrice returns the last traded price in paise.
	LastPrice(ctx context.Context, symbol, exchange string) (int64, error)

	// TickSize returns the instrument's tick size in paise, or 0 if unknown.
	TickSize(symbol, exchange string) int64

	// AvailableCapital returns deployable capital in paise.
	AvailableCapital(ctx context.Context) (int64, error)

	// HistoricalCandles returns up to n most recent closed candles at the
	// given interval, oldest first, for indicator warm-up.
	HistoricalCandles(ctx context.Context, symbol, exchange string, interval time.Duration, n int) ([]model.Candle, error)
}

// filled reports whether a state is terminal with a fill.
func (s OrderState) filled() bool {
	return s.Status == OrderComplete && s.FillQty > 0
}
