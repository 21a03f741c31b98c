package indicator

// Ichimoku lookback periods.
const (
	tenkanPeriod = 9
	kijunPeriod  = 26
	senkouPeriod = 52
	cloudShift   = 26 // spans are projected this many candles forward
)

// spanPair is one computed (Senkou Span A, Senkou Span B) value.
type spanPair struct {
	a, b float64
}

// Ichimoku maintains the Ichimoku Cloud components incrementally over a
// bounded high/low window. Span values are kept in a small ring so the
// cloud that applies to the current candle is the one computed cloudShift
// candles ago; until enough projected history exists, the most recent
// computed spans are used.
type Ichimoku struct {
	highs  *window
	lows   *window
	closes *window

	spans    []spanPair
	spanIdx  int
	spanCnt  int

	tenkan, kijun          float64
	spanA, spanB           float64
	chikou                 float64
	chikouSet              bool
}

// NewIchimoku creates an Ichimoku calculator with standard 9/26/52 periods.
func NewIchimoku() *Ichimoku {
	return &Ichimoku{
		highs:  newWindow(senkouPeriod),
		lows:   newWindow(senkouPeriod),
		closes: newWindow(cloudShift + 1),
		spans:  make([]spanPair, cloudShift+1),
	}
}

// Update feeds one closed candle's high/low/close (paise).
func (ic *Ichimoku) Update(high, low, close int64) {
	ic.highs.push(high)
	ic.lows.push(low)
	ic.closes.push(close)

	if !ic.highs.have(tenkanPeriod) {
		return
	}
	h, _ := ic.highs.maxMin(tenkanPeriod)
	_, l := ic.lows.maxMin(tenkanPeriod)
	ic.tenkan = float64(h+l) / 200 // midpoint, paise → rupees

	if !ic.highs.have(kijunPeriod) {
		return
	}
	h, _ = ic.highs.maxMin(kijunPeriod)
	_, l = ic.lows.maxMin(kijunPeriod)
	ic.kijun = float64(h+l) / 200

	if !ic.highs.have(senkouPeriod) {
		return
	}
	h, _ = ic.highs.maxMin(senkouPeriod)
	_, l = ic.lows.maxMin(senkouPeriod)

	pair := spanPair{
		a: (ic.tenkan + ic.kijun) / 2,
		b: float64(h+l) / 200,
	}
	ic.spans[ic.spanIdx] = pair
	ic.spanIdx = (ic.spanIdx + 1) % len(ic.spans)
	ic.spanCnt++

	// Cloud applying to the current candle: spans computed cloudShift
	// candles ago, falling back to the latest while projection history
	// is still short.
	if ic.spanCnt > cloudShift {
		i := (ic.spanIdx - 1 - cloudShift + 2*len(ic.spans)) % len(ic.spans)
		pair = ic.spans[i]
	}
	ic.spanA = pair.a
	ic.spanB = pair.b

	if v, ok := ic.closes.at(cloudShift); ok {
		ic.chikou = float64(v) / 100
		ic.chikouSet = true
	}
}

// Ready reports whether the full 52-candle lookback is satisfied.
func (ic *Ichimoku) Ready() bool {
	return ic.highs.have(senkouPeriod)
}

func (ic *Ichimoku) TenkanSen() float64   { return ic.tenkan }
func (ic *Ichimoku) KijunSen() float64    { return ic.kijun }
func (ic *Ichimoku) SenkouSpanA() float64 { return ic.spanA }
func (ic *Ichimoku) SenkouSpanB() float64 { return ic.spanB }
func (ic *Ichimoku) ChikouSpan() float64  { return ic.chikou }

// CloudTop returns the upper cloud boundary in rupees.
func (ic *Ichimoku) CloudTop() float64 {
	if ic.spanA > ic.spanB {
		return ic.spanA
	}
	return ic.spanB
}

// CloudBottom returns the lower cloud boundary in rupees.
func (ic *Ichimoku) CloudBottom() float64 {
	if ic.spanA < ic.spanB {
		return ic.spanA
	}
	return ic.spanB
}

// CloudGreen reports a bullish cloud (Span A above Span B).
func (ic *Ichimoku) CloudGreen() bool {
	return ic.spanA > ic.spanB
}
