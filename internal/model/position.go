package model

import "time"

// PositionStatus is the lifecycle state of a position. OPEN transitions to
// exactly one terminal CLOSED_* status and never changes afterwards.
type PositionStatus string

const (
	StatusOpen           PositionStatus = "OPEN"
	StatusClosedProfit   PositionStatus = "CLOSED_PROFIT"
	StatusClosedLoss     PositionStatus = "CLOSED_LOSS"
	StatusClosedReversal PositionStatus = "CLOSED_REVERSAL"
	StatusClosedEOD      PositionStatus = "CLOSED_EOD"
)

// Terminal reports whether the status is one of the CLOSED_* states.
func (s PositionStatus) Terminal() bool {
	return s != StatusOpen && s != ""
}

// Position represents a tracked long intraday position. All prices are in
// paise. Positions are owned exclusively by the ledger: created on a
// confirmed entry fill, mutated only by the ledger, immutable once terminal.
type Position struct {
	ID         int64          `json:"id"`
	Symbol     string         `json:"symbol"`
	Exchange   string         `json:"exchange"`
	Qty        int64          `json:"qty"`
	EntryPrice int64          `json:"entry_price"`
	StopLoss   int64          `json:"stop_loss"`   // tick-size rounded
	TakeProfit int64          `json:"take_profit"` // tick-size rounded
	TickSize   int64          `json:"tick_size"`
	OpenedAt   time.Time      `json:"opened_at"`
	Status     PositionStatus `json:"status"`

	// Broker order references (empty when protective orders are disabled).
	EntryOrderID string `json:"entry_order_id"`
	SLOrderID    string `json:"sl_order_id"`
	TPOrderID    string `json:"tp_order_id"`

	// Set once terminal.
	ExitPrice  int64     `json:"exit_price"`
	ExitReason string    `json:"exit_reason"`
	PnL        int64     `json:"pnl"` // realized, paise
	ClosedAt   time.Time `json:"closed_at"`
}

// Key returns a unique key for this position's instrument: "exchange:symbol".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Symbol
}

// UnrealizedPnL computes unrealized profit/loss in paise at the given price.
func (p *Position) UnrealizedPnL(price int64) int64 {
	return (price - p.EntryPrice) * p.Qty
}

// UnrealizedPnLPercent computes unrealized P&L as a percent of entry price.
func (p *Position) UnrealizedPnLPercent(price int64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return float64(price-p.EntryPrice) / float64(p.EntryPrice) * 100
}

// PositionEvent is published to persistence and the operator surface when a
// position opens or closes, or when a risk limit blocks an entry.
type PositionEvent struct {
	Type     string    `json:"type"` // OPENED, CLOSED, RISK_BREACH, SESSION_SUMMARY
	TS       time.Time `json:"ts"`
	Position *Position `json:"position,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	PnL      int64     `json:"pnl,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Position event types.
const (
	EventOpened         = "OPENED"
	EventClosed         = "CLOSED"
	EventRiskBreach     = "RISK_BREACH"
	EventSessionSummary = "SESSION_SUMMARY"
)
