// Package agg builds fixed-interval OHLC candles from a stream of ticks.
//
// Interval boundaries are wall-clock aligned (e.g. :00, :05, :10 for a
// 5-minute interval) regardless of first-tick arrival time. Exactly one
// candle is emitted per instrument per interval: intervals with no ticks
// emit a synthetic flat candle carried forward from the prior close, so
// downstream indicator windows never see gaps.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"intraday-systemv1/internal/model"
)

// DefaultInterval is the candle duration used by the trading engine.
const DefaultInterval = 5 * time.Minute

// instState holds the in-progress candle and carry-forward state for one
// instrument.
type instState struct {
	bucket    int64 // Unix second of the forming candle's bucket start
	forming   bool
	candle    model.Candle
	lastClose int64 // close of the last emitted candle, for gap fill
	lastEmit  int64 // bucket start of the last emitted candle (0 = none)
}

// Aggregator folds ticks into interval-aligned OHLC candles.
// It runs in a single goroutine so all ticks for one instrument are applied
// in arrival order; different instruments simply occupy different map slots.
type Aggregator struct {
	mu       sync.Mutex
	interval int64 // seconds
	states   map[string]*instState // key = "exchange:symbol"

	flushInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnLateTick func()
	OnGapFill  func()
}

// New creates an Aggregator with the given candle interval.
func New(interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		interval:      int64(interval / time.Second),
		states:        make(map[string]*instState),
		flushInterval: time.Second, // check frequency for bucket rollover
	}
}

// Run consumes ticks from tickCh in a single goroutine, aggregates them into
// interval candles, and sends finalized candles to candleCh. Blocks until
// ctx is cancelled or tickCh is closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(candleCh)
				return
			}
			a.processTick(tick, candleCh)

		case <-ticker.C:
			a.flushElapsed(time.Now().Unix(), candleCh)
		}
	}
}

// Ingest applies a single tick inline (used by the replay pipeline and tests
// to avoid timing dependence on the flush ticker).
func (a *Aggregator) Ingest(tick model.Tick, candleCh chan<- model.Candle) {
	a.processTick(tick, candleCh)
}

// FlushAt finalizes every bucket that has fully elapsed as of the given wall
// clock time, emitting gap-fill candles for empty intervals.
func (a *Aggregator) FlushAt(now time.Time, candleCh chan<- model.Candle) {
	a.flushElapsed(now.Unix(), candleCh)
}

func (a *Aggregator) processTick(tick model.Tick, candleCh chan<- model.Candle) {
	bucket := tick.TickTS.Unix()
	bucket -= bucket % a.interval
	key := tick.Key()

	a.mu.Lock()
	defer a.mu.Unlock()

	st, exists := a.states[key]
	if !exists {
		st = &instState{}
		a.states[key] = st
	}

	// Late tick: belongs to an interval that has already been finalized.
	// It must never retroactively reopen a candle.
	if (st.forming && bucket < st.bucket) || (!st.forming && st.lastEmit != 0 && bucket <= st.lastEmit) {
		log.Printf("[agg] dropping late tick %s ts=%v (bucket already closed)", key, tick.TickTS)
		if a.OnLateTick != nil {
			a.OnLateTick()
		}
		return
	}

	if st.forming && bucket > st.bucket {
		a.finalize(st, candleCh)
	}

	if !st.forming {
		// Emit synthetic flat candles for any empty intervals we skipped.
		a.fillGaps(st, tick.Symbol, tick.Exchange, bucket, candleCh)
		st.bucket = bucket
		st.forming = true
		st.candle = model.Candle{
			Symbol:     tick.Symbol,
			Exchange:   tick.Exchange,
			TS:         time.Unix(bucket, 0).UTC(),
			Open:       tick.Price,
			High:       tick.Price,
			Low:        tick.Price,
			Close:      tick.Price,
			Volume:     tick.Qty,
			TicksCount: 1,
		}
		return
	}

	// Same bucket: extend OHLCV.
	c := &st.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Qty
	c.TicksCount++
}

// flushElapsed finalizes forming candles whose bucket has fully elapsed, and
// emits gap-fill candles for instruments that went quiet.
func (a *Aggregator) flushElapsed(now int64, candleCh chan<- model.Candle) {
	lastFull := now - now%a.interval - a.interval // start of the last fully elapsed bucket

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, st := range a.states {
		if st.forming && st.bucket <= lastFull {
			a.finalize(st, candleCh)
		}
		if !st.forming && st.lastEmit != 0 && st.lastEmit < lastFull {
			c := st.candle // retains symbol/exchange of the last real candle
			a.fillGaps(st, c.Symbol, c.Exchange, lastFull+a.interval, candleCh)
		}
	}
}

// fillGaps emits synthetic flat candles for every empty bucket strictly
// between the last emitted bucket and upto (exclusive). Caller holds a.mu.
func (a *Aggregator) fillGaps(st *instState, symbol, exchange string, upto int64, candleCh chan<- model.Candle) {
	if st.lastEmit == 0 {
		return
	}
	for b := st.lastEmit + a.interval; b < upto; b += a.interval {
		synth := model.Candle{
			Symbol:    symbol,
			Exchange:  exchange,
			TS:        time.Unix(b, 0).UTC(),
			Open:      st.lastClose,
			High:      st.lastClose,
			Low:       st.lastClose,
			Close:     st.lastClose,
			Synthetic: true,
		}
		st.lastEmit = b
		emit(candleCh, synth)
		if a.OnGapFill != nil {
			a.OnGapFill()
		}
	}
}

// finalize emits the forming candle and records carry-forward state.
// Caller holds a.mu.
func (a *Aggregator) finalize(st *instState, candleCh chan<- model.Candle) {
	st.forming = false
	st.lastClose = st.candle.Close
	st.lastEmit = st.bucket
	emit(candleCh, st.candle)
}

// flushAll finalizes every forming candle regardless of bucket (shutdown).
func (a *Aggregator) flushAll(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, st := range a.states {
		if st.forming {
			a.finalize(st, candleCh)
		}
	}
}

// emit sends a finalized candle to candleCh. Non-blocking to avoid deadlocks.
func emit(candleCh chan<- model.Candle, c model.Candle) {
	select {
	case candleCh <- c:
	default:
		log.Printf("[agg] candleCh full, dropping candle %s ts=%v", c.Key(), c.TS)
	}
}
