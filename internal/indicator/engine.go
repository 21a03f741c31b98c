// Package indicator computes Ichimoku Cloud and MACD values incrementally
// over closed candles. All state is bounded: rolling high/low windows for
// Ichimoku, O(1) exponential averages for MACD.
package indicator

import (
	"errors"
	"sync"

	"intraday-systemv1/internal/model"
)

// ErrInsufficientHistory is returned until an instrument has accumulated
// the minimum warm-up lookback. Indicator values produced earlier would be
// misleading, so none are produced at all.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// DefaultWarmup is the minimum number of candles before the engine will
// produce a snapshot. It covers Ichimoku's 52-candle lookback plus MACD
// signal-line seeding.
const DefaultWarmup = 60

// MACD periods.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

const volumePeriod = 20

// instrumentState holds the live indicator set for one instrument.
type instrumentState struct {
	ichimoku *Ichimoku
	macd     *MACD
	volBuf   []int64
	volIdx   int
	volSum   int64
	count    int
}

// Engine maintains per-instrument indicator state and produces an
// IndicatorSnapshot for each closed candle.
type Engine struct {
	mu     sync.Mutex
	warmup int
	states map[string]*instrumentState
}

// NewEngine creates an indicator engine. warmup <= 0 selects DefaultWarmup.
func NewEngine(warmup int) *Engine {
	if warmup <= 0 {
		warmup = DefaultWarmup
	}
	return &Engine{
		warmup: warmup,
		states: make(map[string]*instrumentState, 16),
	}
}

// Seed back-fills historical candles for warm-up. Called once at startup
// with candles in chronological order; snapshots are not produced.
func (e *Engine) Seed(candles []model.Candle) {
	for i := range candles {
		e.update(&candles[i])
	}
}

// Update feeds a closed candle and returns the resulting snapshot.
// Returns ErrInsufficientHistory until the warm-up lookback is satisfied.
func (e *Engine) Update(c model.Candle) (model.IndicatorSnapshot, error) {
	st := e.update(&c)

	if st.count < e.warmup || !st.ichimoku.Ready() || !st.macd.Ready() {
		return model.IndicatorSnapshot{}, ErrInsufficientHistory
	}

	ic, m := st.ichimoku, st.macd
	price := float64(c.Close) / 100

	snap := model.IndicatorSnapshot{
		Symbol:   c.Symbol,
		Exchange: c.Exchange,
		TS:       c.TS,

		TenkanSen:   ic.TenkanSen(),
		KijunSen:    ic.KijunSen(),
		SenkouSpanA: ic.SenkouSpanA(),
		SenkouSpanB: ic.SenkouSpanB(),
		ChikouSpan:  ic.ChikouSpan(),
		CloudTop:    ic.CloudTop(),
		CloudBottom: ic.CloudBottom(),

		PriceAboveCloud: price > ic.CloudTop(),
		PriceBelowCloud: price < ic.CloudBottom(),
		CloudGreen:      ic.CloudGreen(),

		MACDLine:        m.Line(),
		SignalLine:      m.SignalLine(),
		Histogram:       m.Histogram(),
		PrevHistogram:   m.PrevHistogram(),
		HistogramRising: m.HistogramRising(),

		Volume:       c.Volume,
		CurrentPrice: c.Close,
	}

	if st.count >= volumePeriod {
		snap.VolumeAvg = float64(st.volSum) / float64(volumePeriod)
		snap.VolumeAboveAvg = float64(c.Volume) > snap.VolumeAvg
	}

	return snap, nil
}

// History returns the number of candles accumulated for an instrument key.
func (e *Engine) History(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[key]; ok {
		return st.count
	}
	return 0
}

func (e *Engine) update(c *model.Candle) *instrumentState {
	key := c.Key()

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[key]
	if !ok {
		st = &instrumentState{
			ichimoku: NewIchimoku(),
			macd:     NewMACD(macdFast, macdSlow, macdSignal),
			volBuf:   make([]int64, volumePeriod),
		}
		e.states[key] = st
	}

	st.ichimoku.Update(c.High, c.Low, c.Close)
	st.macd.Update(float64(c.Close) / 100)

	if st.count >= volumePeriod {
		st.volSum -= st.volBuf[st.volIdx]
	}
	st.volBuf[st.volIdx] = c.Volume
	st.volSum += c.Volume
	st.volIdx = (st.volIdx + 1) % volumePeriod

	st.count++
	return st
}
