package indicator

// MACD maintains Moving Average Convergence Divergence incrementally:
// MACD line = EMA(fast) − EMA(slow) of closes, signal line = EMA(signal)
// of the MACD line, histogram = MACD line − signal line. The previous
// histogram value is retained for rising/falling comparison.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	line     float64
	sigLine  float64
	hist     float64
	prevHist float64
	histSet  bool
}

// NewMACD creates a MACD with the given fast/slow/signal periods
// (conventionally 12/26/9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

// Update feeds a close price (rupees).
func (m *MACD) Update(close float64) {
	m.fast.Update(close)
	m.slow.Update(close)

	if !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()

	// The signal line averages only defined MACD values.
	m.signal.Update(m.line)
	if !m.signal.Ready() {
		return
	}
	m.sigLine = m.signal.Value()

	if m.histSet {
		m.prevHist = m.hist
	}
	m.hist = m.line - m.sigLine
	if !m.histSet {
		m.prevHist = m.hist
		m.histSet = true
	}
}

// Ready reports whether both the slow EMA and the signal EMA are seeded.
func (m *MACD) Ready() bool {
	return m.slow.Ready() && m.signal.Ready()
}

func (m *MACD) Line() float64          { return m.line }
func (m *MACD) SignalLine() float64    { return m.sigLine }
func (m *MACD) Histogram() float64     { return m.hist }
func (m *MACD) PrevHistogram() float64 { return m.prevHist }

// HistogramRising reports whether the histogram increased versus the
// previous update.
func (m *MACD) HistogramRising() bool {
	return m.histSet && m.hist > m.prevHist
}
