package model

import "time"

// IndicatorSnapshot carries the Ichimoku and MACD values computed for one
// instrument at one closed candle. Indicator values are in rupees (float64);
// CurrentPrice stays in paise for exact comparisons against position levels.
// A snapshot is superseded by the next candle's snapshot, never merged.
type IndicatorSnapshot struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TS       time.Time `json:"ts"`

	// Ichimoku Cloud (9/26/52, spans projected 26 forward)
	TenkanSen   float64 `json:"tenkan_sen"`
	KijunSen    float64 `json:"kijun_sen"`
	SenkouSpanA float64 `json:"senkou_span_a"`
	SenkouSpanB float64 `json:"senkou_span_b"`
	ChikouSpan  float64 `json:"chikou_span"` // close 26 candles back, 0 until available
	CloudTop    float64 `json:"cloud_top"`
	CloudBottom float64 `json:"cloud_bottom"`

	PriceAboveCloud bool `json:"price_above_cloud"`
	PriceBelowCloud bool `json:"price_below_cloud"`
	CloudGreen      bool `json:"cloud_green"` // Senkou Span A > Senkou Span B

	// MACD (12/26/9)
	MACDLine        float64 `json:"macd_line"`
	SignalLine      float64 `json:"signal_line"`
	Histogram       float64 `json:"histogram"`
	PrevHistogram   float64 `json:"prev_histogram"`
	HistogramRising bool    `json:"histogram_rising"`

	// Volume confirmation (optional sixth entry condition)
	Volume           int64   `json:"volume"`
	VolumeAvg        float64 `json:"volume_avg"`
	VolumeAboveAvg   bool    `json:"volume_above_avg"`

	CurrentPrice int64 `json:"current_price"` // candle close in paise
}

// Key returns a unique key for this snapshot's instrument: "exchange:symbol".
func (s *IndicatorSnapshot) Key() string {
	return s.Exchange + ":" + s.Symbol
}
