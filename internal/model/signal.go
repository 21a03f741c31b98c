package model

import "time"

// SignalKind classifies a signal decision.
type SignalKind string

const (
	SignalEntry SignalKind = "ENTRY"
	SignalExit  SignalKind = "EXIT"
	SignalNone  SignalKind = "NONE"
)

// Strength classifies how many entry conditions were satisfied.
type Strength string

const (
	StrengthStrong   Strength = "STRONG"   // 4-5 conditions
	StrengthModerate Strength = "MODERATE" // 3 conditions
	StrengthWeak     Strength = "WEAK"     // 2 conditions
	StrengthNone     Strength = "NONE"     // fewer than 2
)

// Exit reasons, in evaluation priority order. EOD is a sweep, not a
// per-candle rule.
const (
	ExitTakeProfit      = "TAKE_PROFIT"
	ExitStopLoss        = "STOP_LOSS"
	ExitMACDReversal    = "MACD_REVERSAL"
	ExitPriceBelowCloud = "PRICE_BELOW_CLOUD"
	ExitEOD             = "EOD"
)

// SignalDecision is the output of one evaluation of an instrument at a
// candle close.
type SignalDecision struct {
	Symbol     string     `json:"symbol"`
	Exchange   string     `json:"exchange"`
	TS         time.Time  `json:"ts"`
	Kind       SignalKind `json:"kind"`
	Strength   Strength   `json:"strength"`
	Conditions []string   `json:"conditions"`  // satisfied entry conditions or the exit reason
	ExitReason string     `json:"exit_reason"` // set only for EXIT decisions
	Price      int64      `json:"price"`       // reference price in paise
}

// Key returns a unique key for this decision's instrument: "exchange:symbol".
func (d *SignalDecision) Key() string {
	return d.Exchange + ":" + d.Symbol
}
