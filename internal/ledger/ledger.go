// Package ledger owns the authoritative in-memory state of open and closed
// positions. Positions are created only on a confirmed entry fill, mutated
// only by the ledger, and immutable once they reach a terminal status.
// All prices and P&L are in paise.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"intraday-systemv1/internal/model"
)

// DefaultTickSize is used when the instrument's tick size is unavailable
// (5 paise = ₹0.05).
const DefaultTickSize = 5

// Bracket percentages for long positions: stop-loss 2% below entry,
// take-profit 4% above.
const (
	stopLossNum   = 98
	takeProfitNum = 104
	bracketDen    = 100
)

// ErrNotFound is returned when a position id does not exist.
var ErrNotFound = errors.New("position not found")

// ErrAlreadyClosed is returned when closing a position twice.
var ErrAlreadyClosed = errors.New("position already closed")

// exit-reason → terminal status mapping. MACD_CROSSED_BELOW_SIGNAL is a
// legacy reason kept for persisted records from older sessions.
var statusByReason = map[string]model.PositionStatus{
	model.ExitTakeProfit:        model.StatusClosedProfit,
	model.ExitStopLoss:          model.StatusClosedLoss,
	model.ExitMACDReversal:      model.StatusClosedReversal,
	model.ExitPriceBelowCloud:   model.StatusClosedReversal,
	"MACD_CROSSED_BELOW_SIGNAL": model.StatusClosedReversal,
	model.ExitEOD:               model.StatusClosedEOD,
}

// OpenParams describes a confirmed entry fill to be recorded.
type OpenParams struct {
	Symbol       string
	Exchange     string
	EntryPrice   int64 // fill price, paise
	Qty          int64
	TickSize     int64 // 0 selects DefaultTickSize
	EntryOrderID string
	OpenedAt     time.Time
}

// Ledger is the single owner of position state.
type Ledger struct {
	mu     sync.Mutex
	seq    int64
	open   map[int64]*model.Position
	byKey  map[string]map[int64]struct{} // instrument key → open position ids
	closed []*model.Position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		open:  make(map[int64]*model.Position),
		byKey: make(map[string]map[int64]struct{}),
	}
}

// Size computes the order quantity for an entry:
// floor((capital × sizePercentBps/10000) / price). A result of zero is an
// expected outcome for high-priced instruments under small allocations,
// not an error.
func Size(capital int64, sizePercentBps int64, price int64) int64 {
	if price <= 0 || capital <= 0 || sizePercentBps <= 0 {
		return 0
	}
	alloc := capital * sizePercentBps / 10000
	return alloc / price
}

// RoundToTick rounds a price to the nearest multiple of tick, with ties
// rounded away from the entry by direction: tieUp=true rounds a tie up
// (take-profit side), tieUp=false rounds a tie down (stop-loss side).
// Idempotent: rounding twice equals rounding once.
func RoundToTick(price, tick int64, tieUp bool) int64 {
	if tick <= 0 {
		return price
	}
	rem := price % tick
	if rem == 0 {
		return price
	}
	down := price - rem
	switch {
	case 2*rem < tick:
		return down
	case 2*rem > tick:
		return down + tick
	case tieUp:
		return down + tick
	default:
		return down
	}
}

// Brackets computes the tick-rounded stop-loss and take-profit prices for
// an entry price. The stop-loss tie rounds down and the take-profit tie
// rounds up, so neither level is rounded toward the entry past its target.
func Brackets(entryPrice, tick int64) (stopLoss, takeProfit int64) {
	if tick <= 0 {
		tick = DefaultTickSize
	}
	stopLoss = RoundToTick(entryPrice*stopLossNum/bracketDen, tick, false)
	takeProfit = RoundToTick(entryPrice*takeProfitNum/bracketDen, tick, true)
	return stopLoss, takeProfit
}

// Open records a confirmed entry fill and returns the new OPEN position.
func (l *Ledger) Open(p OpenParams) *model.Position {
	tick := p.TickSize
	if tick <= 0 {
		tick = DefaultTickSize
	}
	sl, tp := Brackets(p.EntryPrice, tick)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	pos := &model.Position{
		ID:           l.seq,
		Symbol:       p.Symbol,
		Exchange:     p.Exchange,
		Qty:          p.Qty,
		EntryPrice:   p.EntryPrice,
		StopLoss:     sl,
		TakeProfit:   tp,
		TickSize:     tick,
		OpenedAt:     p.OpenedAt,
		Status:       model.StatusOpen,
		EntryOrderID: p.EntryOrderID,
	}
	l.open[pos.ID] = pos
	key := pos.Key()
	if l.byKey[key] == nil {
		l.byKey[key] = make(map[int64]struct{})
	}
	l.byKey[key][pos.ID] = struct{}{}

	log.Printf("[ledger] opened %s #%d qty=%d entry=%d sl=%d tp=%d",
		key, pos.ID, pos.Qty, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)
	return pos
}

// SetProtectiveOrders records broker-side SL/TP order ids on an open position.
func (l *Ledger) SetProtectiveOrders(id int64, slOrderID, tpOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.open[id]
	if !ok {
		return fmt.Errorf("set protective orders #%d: %w", id, ErrNotFound)
	}
	pos.SLOrderID = slOrderID
	pos.TPOrderID = tpOrderID
	return nil
}

// Close transitions an open position to its terminal status, computes
// realized P&L = (exit − entry) × qty, and removes it from the open set.
// This is the only path out of the open working set.
func (l *Ledger) Close(id int64, exitPrice int64, reason string, closedAt time.Time) (*model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.open[id]
	if !ok {
		for _, c := range l.closed {
			if c.ID == id {
				return nil, fmt.Errorf("close #%d: %w", id, ErrAlreadyClosed)
			}
		}
		return nil, fmt.Errorf("close #%d: %w", id, ErrNotFound)
	}

	status, ok := statusByReason[reason]
	if !ok {
		status = model.StatusClosedLoss
	}

	pos.ExitPrice = exitPrice
	pos.ExitReason = reason
	pos.PnL = (exitPrice - pos.EntryPrice) * pos.Qty
	pos.ClosedAt = closedAt
	pos.Status = status

	delete(l.open, id)
	delete(l.byKey[pos.Key()], id)
	l.closed = append(l.closed, pos)

	log.Printf("[ledger] closed %s #%d exit=%d pnl=%d reason=%s status=%s",
		pos.Key(), pos.ID, exitPrice, pos.PnL, reason, status)
	return pos, nil
}

// OpenPositions returns the open positions for one instrument key.
// The returned pointers are owned by the ledger; callers must not mutate.
func (l *Ledger) OpenPositions(key string) []*model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.byKey[key]
	out := make([]*model.Position, 0, len(ids))
	for id := range ids {
		out = append(out, l.open[id])
	}
	return out
}

// AllOpen returns every open position across instruments.
func (l *Ledger) AllOpen() []*model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, pos)
	}
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

// OpenCountFor returns the number of open positions for an instrument key.
func (l *Ledger) OpenCountFor(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey[key])
}

// PerformanceSummary is a derived, read-only view over closed positions.
type PerformanceSummary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent
	TotalPnL      int64   `json:"total_pnl"`
	MaxDrawdown   int64   `json:"max_drawdown"` // most negative cumulative P&L, paise
}

// Summary computes the session performance over closed positions on demand.
func (l *Ledger) Summary() PerformanceSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s PerformanceSummary
	var cum int64
	for _, pos := range l.closed {
		s.TotalTrades++
		if pos.PnL > 0 {
			s.WinningTrades++
		} else if pos.PnL < 0 {
			s.LosingTrades++
		}
		s.TotalPnL += pos.PnL
		cum += pos.PnL
		if cum < s.MaxDrawdown {
			s.MaxDrawdown = cum
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	return s
}

// Closed returns a snapshot of all closed positions.
func (l *Ledger) Closed() []*model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.Position, len(l.closed))
	copy(out, l.closed)
	return out
}
