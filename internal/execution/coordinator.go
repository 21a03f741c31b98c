package execution

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"intraday-systemv1/internal/indicator"
	"intraday-systemv1/internal/ledger"
	"intraday-systemv1/internal/model"
	"intraday-systemv1/internal/risk"
	"intraday-systemv1/internal/signal"
)

// ErrNoCapital is returned by StartSession when no deployable capital is
// available. The engine must not trade in that state.
var ErrNoCapital = errors.New("no deployable capital")

const lockStripes = 16

// Config holds the coordinator's tunables.
type Config struct {
	SizePercentBps   int64         // position size as basis points of capital (1111 = 11.11%)
	Workers          int           // candle worker goroutines
	OrderRetries     int           // market order placement attempts
	PollAttempts     int           // order status polls before giving up
	PollInterval     time.Duration // delay between status polls
	Interval         time.Duration // candle interval, for warm-up requests
	WarmupCandles    int           // history depth for indicator seeding
	ProtectiveOrders bool          // place broker-side SL/TP orders after entry
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SizePercentBps:   1111,
		Workers:          4,
		OrderRetries:     3,
		PollAttempts:     10,
		PollInterval:     300 * time.Millisecond,
		Interval:         5 * time.Minute,
		WarmupCandles:    indicator.DefaultWarmup,
		ProtectiveOrders: false,
	}
}

// Coordinator drives the candle → indicators → signals → orders pipeline.
//
// Candles are dispatched to workers by instrument hash, so all decisions for
// one instrument are serialized on one goroutine. Striped locks additionally
// guard position state against the end-of-day sweep, which runs outside the
// worker pool.
type Coordinator struct {
	cfg  Config
	gw   OrderGateway
	ind  *indicator.Engine
	eval *signal.Evaluator
	gate *risk.Gate
	book *ledger.Ledger

	capital int64 // session capital snapshot, paise
	locks   [lockStripes]sync.Mutex

	// OnEvent is called for every position open/close (optional).
	OnEvent func(model.PositionEvent)
	// Fresh reports whether live data for an instrument key is current.
	// When set, entries are suppressed for stale instruments (optional).
	Fresh func(key string) bool
	// Journal persists order fills when set (optional).
	Journal *Journal
}

// NewCoordinator wires the pipeline together.
func NewCoordinator(cfg Config, gw OrderGateway, ind *indicator.Engine,
	eval *signal.Evaluator, gate *risk.Gate, book *ledger.Ledger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.OrderRetries <= 0 {
		cfg.OrderRetries = 1
	}
	return &Coordinator{cfg: cfg, gw: gw, ind: ind, eval: eval, gate: gate, book: book}
}

// StartSession snapshots deployable capital and resets the risk counters.
// A session with no capital is a fatal condition.
func (c *Coordinator) StartSession(ctx context.Context) error {
	capital, err := c.gw.AvailableCapital(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if capital <= 0 {
		return fmt.Errorf("start session: %w (got %d paise)", ErrNoCapital, capital)
	}
	c.capital = capital
	c.gate.ResetSession(capital)
	log.Printf("[coordinator] session started, capital=%d paise", capital)
	return nil
}

// WarmUp seeds the indicator engine from historical candles so signals can
// fire from the first live candle. A failed backfill for one instrument is
// logged and skipped: that instrument warms up from live data instead.
func (c *Coordinator) WarmUp(ctx context.Context, instruments []model.Instrument) {
	for _, inst := range instruments {
		candles, err := c.gw.HistoricalCandles(ctx, inst.Symbol, inst.Exchange, c.cfg.Interval, c.cfg.WarmupCandles)
		if err != nil {
			log.Printf("[coordinator] warm-up failed for %s: %v, will warm from live data", inst.Key(), err)
			continue
		}
		c.ind.Seed(candles)
		log.Printf("[coordinator] warmed up %s with %d candles", inst.Key(), len(candles))
	}
}

// Run consumes closed candles until ctx is cancelled or candleCh is closed.
func (c *Coordinator) Run(ctx context.Context, candleCh <-chan model.Candle) {
	n := c.cfg.Workers
	workers := make([]chan model.Candle, n)
	var wg sync.WaitGroup
	for i := range workers {
		workers[i] = make(chan model.Candle, 64)
		wg.Add(1)
		go func(in <-chan model.Candle) {
			defer wg.Done()
			for candle := range in {
				c.handleCandle(ctx, candle)
			}
		}(workers[i])
	}
	defer func() {
		for _, w := range workers {
			close(w)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			workers[stripeIndex(candle.Key())%uint32(n)] <- candle
		}
	}
}

// handleCandle runs the full decision pipeline for one closed candle.
func (c *Coordinator) handleCandle(ctx context.Context, candle model.Candle) {
	snap, err := c.ind.Update(candle)
	if err != nil {
		if !errors.Is(err, indicator.ErrInsufficientHistory) {
			log.Printf("[coordinator] indicator update %s: %v", candle.Key(), err)
		}
		return
	}

	key := candle.Key()
	mu := c.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	// Exits run before entries so a freed slot is available immediately.
	for _, pos := range c.book.OpenPositions(key) {
		if d, ok := c.eval.Exit(snap, pos); ok {
			c.closePosition(ctx, pos, d.Price, d.ExitReason, d.TS)
		}
	}

	// Synthetic gap-fill candles keep indicators current but carry no new
	// price information, so they never justify a fresh entry.
	if candle.Synthetic {
		return
	}
	if c.Fresh != nil && !c.Fresh(key) {
		log.Printf("[coordinator] skipping entry for %s: stale market data", key)
		return
	}

	d := c.eval.Entry(snap)
	if d.Kind != model.SignalEntry {
		return
	}
	c.tryEntry(ctx, snap, d)
}

// tryEntry sizes, risk-checks, and places an approved entry.
func (c *Coordinator) tryEntry(ctx context.Context, snap model.IndicatorSnapshot, d model.SignalDecision) {
	key := d.Key()

	qty := ledger.Size(c.capital, c.cfg.SizePercentBps, d.Price)
	if qty <= 0 {
		log.Printf("[coordinator] skipping %s entry: allocation below one share at price %d", key, d.Price)
		return
	}

	ok, reason := c.gate.ApproveEntry(key)
	if !ok {
		log.Printf("[coordinator] entry blocked for %s: %s (signal %s)", key, reason, d.Strength)
		return
	}

	orderID, state, err := c.placeAndAwait(ctx, SideBuy, d.Symbol, d.Exchange, qty)
	if err != nil {
		c.gate.Release(key)
		log.Printf("[coordinator] entry order failed for %s: %v", key, err)
		return
	}

	fillPrice := state.FillPrice
	if fillPrice <= 0 {
		fillPrice = d.Price
	}

	pos := c.book.Open(ledger.OpenParams{
		Symbol:       d.Symbol,
		Exchange:     d.Exchange,
		EntryPrice:   fillPrice,
		Qty:          qty,
		TickSize:     c.gw.TickSize(d.Symbol, d.Exchange),
		EntryOrderID: orderID,
		OpenedAt:     d.TS,
	})

	if c.cfg.ProtectiveOrders {
		c.placeProtective(ctx, pos)
	}
	c.journalFill(orderID, SideBuy, pos.Symbol, pos.Exchange, qty, fillPrice, string(d.Strength))
	c.emit(model.PositionEvent{Type: model.EventOpened, TS: d.TS, Position: pos})
}

// placeProtective places broker-side SL and TP orders for a new position.
// Failures leave the position protected by the per-candle exit rules only.
func (c *Coordinator) placeProtective(ctx context.Context, pos *model.Position) {
	slID, err := c.gw.PlaceStopLossSell(ctx, pos.Symbol, pos.Exchange, pos.Qty, pos.StopLoss)
	if err != nil {
		log.Printf("[coordinator] stop-loss order failed for %s #%d: %v", pos.Key(), pos.ID, err)
	}
	tpID, err := c.gw.PlaceTakeProfitSell(ctx, pos.Symbol, pos.Exchange, pos.Qty, pos.TakeProfit)
	if err != nil {
		log.Printf("[coordinator] take-profit order failed for %s #%d: %v", pos.Key(), pos.ID, err)
	}
	if slID != "" || tpID != "" {
		if err := c.book.SetProtectiveOrders(pos.ID, slID, tpID); err != nil {
			log.Printf("[coordinator] recording protective orders for #%d: %v", pos.ID, err)
		}
	}
}

// closePosition unwinds one open position: protective orders are cancelled
// first so the exit sell cannot double-fill. A failed exit order leaves the
// position open for retry on the next candle.
func (c *Coordinator) closePosition(ctx context.Context, pos *model.Position, refPrice int64, reason string, ts time.Time) {
	for _, orderID := range []string{pos.SLOrderID, pos.TPOrderID} {
		if orderID == "" {
			continue
		}
		if err := c.gw.CancelOrder(ctx, orderID); err != nil {
			log.Printf("[coordinator] cancel %s for %s #%d: %v", orderID, pos.Key(), pos.ID, err)
		}
	}

	orderID, state, err := c.placeAndAwait(ctx, SideSell, pos.Symbol, pos.Exchange, pos.Qty)
	if err != nil {
		log.Printf("[coordinator] exit order failed for %s #%d (%s), will retry: %v",
			pos.Key(), pos.ID, reason, err)
		return
	}

	exitPrice := state.FillPrice
	if exitPrice <= 0 {
		exitPrice = refPrice
	}

	closed, err := c.book.Close(pos.ID, exitPrice, reason, ts)
	if err != nil {
		log.Printf("[coordinator] ledger close #%d: %v", pos.ID, err)
		return
	}
	c.gate.RecordClose(closed.Key(), closed.PnL)
	c.journalFill(orderID, SideSell, closed.Symbol, closed.Exchange, closed.Qty, exitPrice, reason)
	c.emit(model.PositionEvent{
		Type:     model.EventClosed,
		TS:       ts,
		Position: closed,
		Reason:   reason,
		PnL:      closed.PnL,
	})
}

// EODSweep force-closes every open position at the square-off cutoff,
// regardless of P&L or signals.
func (c *Coordinator) EODSweep(ctx context.Context, now time.Time) {
	open := c.book.AllOpen()
	if len(open) == 0 {
		return
	}
	log.Printf("[coordinator] end-of-day sweep: closing %d open positions", len(open))

	for _, pos := range open {
		key := pos.Key()
		price, err := c.gw.LastPrice(ctx, pos.Symbol, pos.Exchange)
		if err != nil {
			log.Printf("[coordinator] eod quote for %s: %v", key, err)
			price = pos.EntryPrice
		}
		mu := c.stripe(key)
		mu.Lock()
		if pos.Status == model.StatusOpen {
			c.closePosition(ctx, pos, price, model.ExitEOD, now)
		}
		mu.Unlock()
	}

	s := c.book.Summary()
	c.emit(model.PositionEvent{
		Type: model.EventSessionSummary,
		TS:   now,
		PnL:  s.TotalPnL,
		Detail: fmt.Sprintf("trades=%d wins=%d losses=%d win_rate=%.1f%% max_drawdown=%d",
			s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate, s.MaxDrawdown),
	})
}

// placeAndAwait places a market order with bounded retries and polls it to a
// terminal fill.
func (c *Coordinator) placeAndAwait(ctx context.Context, side, symbol, exchange string, qty int64) (string, OrderState, error) {
	var orderID string
	var err error
	for attempt := 1; attempt <= c.cfg.OrderRetries; attempt++ {
		orderID, err = c.gw.PlaceMarket(ctx, side, symbol, exchange, qty)
		if err == nil {
			break
		}
		log.Printf("[coordinator] place %s %s:%s attempt %d/%d: %v",
			side, exchange, symbol, attempt, c.cfg.OrderRetries, err)
		if attempt < c.cfg.OrderRetries {
			select {
			case <-ctx.Done():
				return "", OrderState{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
	}
	if err != nil {
		return "", OrderState{}, err
	}

	state, err := c.awaitFill(ctx, orderID)
	if err != nil {
		return orderID, state, err
	}
	return orderID, state, nil
}

// awaitFill polls an order until COMPLETE, REJECTED, or the poll budget runs
// out.
func (c *Coordinator) awaitFill(ctx context.Context, orderID string) (OrderState, error) {
	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		state, err := c.gw.OrderStatus(ctx, orderID)
		if err != nil {
			return OrderState{}, err
		}
		switch {
		case state.filled():
			return state, nil
		case state.Status == OrderRejected:
			return state, fmt.Errorf("order %s: %w: %s", orderID, ErrOrderRejected, state.Message)
		}
		select {
		case <-ctx.Done():
			return OrderState{}, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return OrderState{}, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFilled)
}

func (c *Coordinator) journalFill(orderID, side, symbol, exchange string, qty, price int64, reason string) {
	if c.Journal == nil {
		return
	}
	err := c.Journal.RecordFill(Fill{
		OrderID:   orderID,
		Side:      side,
		Symbol:    symbol,
		Exchange:  exchange,
		FillQty:   qty,
		FillPrice: price,
		FilledAt:  time.Now(),
	}, reason)
	if err != nil {
		log.Printf("[coordinator] journal write: %v", err)
	}
}

func (c *Coordinator) emit(ev model.PositionEvent) {
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}

func (c *Coordinator) stripe(key string) *sync.Mutex {
	return &c.locks[stripeIndex(key)%lockStripes]
}

func stripeIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
