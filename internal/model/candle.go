package model

import (
	"encoding/json"
	"time"
)

// Candle represents a 5-minute OHLC candle for a single instrument.
// All prices are in paise (int64) to avoid floating-point drift.
// A candle is immutable once emitted by the aggregator.
type Candle struct {
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	TS         time.Time `json:"ts"`          // bucket start time (UTC, interval-aligned)
	Open       int64     `json:"open"`        // paise
	High       int64     `json:"high"`        // paise
	Low        int64     `json:"low"`         // paise
	Close      int64     `json:"close"`       // paise
	Volume     int64     `json:"volume"`      // cumulative quantity in this interval
	TicksCount int       `json:"ticks_count"` // number of ticks aggregated
	Synthetic  bool      `json:"synthetic"`   // gap-fill candle carried forward from prior close
}

// Key returns a unique key for this candle's instrument: "exchange:symbol".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
