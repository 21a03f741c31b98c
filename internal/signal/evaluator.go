// Package signal evaluates indicator snapshots into entry and exit
// decisions. Entry uses a flexible multi-condition rule (at least 2 of 5
// bullish conditions); exits run in strict priority order per open position.
// Both are evaluated only at candle close, never intrabar.
package signal

import (
	"intraday-systemv1/internal/model"
)

// Entry condition names, as reported in SignalDecision.Conditions.
const (
	CondPriceAboveCloud  = "PRICE_ABOVE_CLOUD"
	CondTenkanAboveKijun = "TENKAN_ABOVE_KIJUN"
	CondCloudGreen       = "CLOUD_GREEN"
	CondMACDAboveSignal  = "MACD_ABOVE_SIGNAL"
	CondHistogramRising  = "HISTOGRAM_RISING"
	CondVolumeConfirm    = "VOLUME_ABOVE_AVG"
)

const minConditions = 2

// Technical exit thresholds.
const (
	// MACD reversal requires the histogram meaningfully negative: below
	// -0.1% of the entry price, to filter noise.
	macdHistogramEntryFraction = 0.001
	// Price-below-cloud exit requires the position to be losing at least
	// this much percent, to avoid premature exits on noise.
	cloudExitMinLossPercent = -0.5
)

// Evaluator produces entry/exit decisions from indicator snapshots.
type Evaluator struct {
	// VolumeConfirm enables volume-above-average as an optional sixth
	// entry condition.
	VolumeConfirm bool
}

// New creates a signal evaluator.
func New(volumeConfirm bool) *Evaluator {
	return &Evaluator{VolumeConfirm: volumeConfirm}
}

// Entry evaluates the bullish entry conditions against a snapshot.
// Returns a decision of kind ENTRY when at least 2 conditions hold,
// otherwise kind NONE.
func (e *Evaluator) Entry(snap model.IndicatorSnapshot) model.SignalDecision {
	var met []string

	if snap.PriceAboveCloud {
		met = append(met, CondPriceAboveCloud)
	}
	if snap.TenkanSen > snap.KijunSen {
		met = append(met, CondTenkanAboveKijun)
	}
	if snap.CloudGreen {
		met = append(met, CondCloudGreen)
	}
	if snap.MACDLine > snap.SignalLine {
		met = append(met, CondMACDAboveSignal)
	}
	if snap.Histogram > 0 && snap.HistogramRising {
		met = append(met, CondHistogramRising)
	}
	if e.VolumeConfirm && snap.VolumeAboveAvg {
		met = append(met, CondVolumeConfirm)
	}

	d := model.SignalDecision{
		Symbol:     snap.Symbol,
		Exchange:   snap.Exchange,
		TS:         snap.TS,
		Kind:       model.SignalNone,
		Strength:   model.StrengthNone,
		Conditions: met,
		Price:      snap.CurrentPrice,
	}

	if len(met) < minConditions {
		return d
	}

	d.Kind = model.SignalEntry
	switch {
	case len(met) >= 4:
		d.Strength = model.StrengthStrong
	case len(met) == 3:
		d.Strength = model.StrengthModerate
	default:
		d.Strength = model.StrengthWeak
	}
	return d
}

// Exit evaluates the exit rules for one open position, first match wins:
//
//  1. price >= take-profit        → TAKE_PROFIT
//  2. price <= stop-loss          → STOP_LOSS
//  3. losing only: MACD below signal with a meaningfully negative
//     histogram                   → MACD_REVERSAL
//  4. losing > 0.5% only: close below cloud → PRICE_BELOW_CLOUD
//
// Technical exits (3 and 4) never fire on a profitable or flat position,
// so reversal signals cannot cut a winner short. The end-of-day sweep is
// handled by the coordinator, not here.
func (e *Evaluator) Exit(snap model.IndicatorSnapshot, pos *model.Position) (model.SignalDecision, bool) {
	price := snap.CurrentPrice
	d := model.SignalDecision{
		Symbol:   snap.Symbol,
		Exchange: snap.Exchange,
		TS:       snap.TS,
		Kind:     model.SignalExit,
		Price:    price,
	}

	if price >= pos.TakeProfit {
		d.ExitReason = model.ExitTakeProfit
		d.Conditions = []string{model.ExitTakeProfit}
		return d, true
	}
	if price <= pos.StopLoss {
		d.ExitReason = model.ExitStopLoss
		d.Conditions = []string{model.ExitStopLoss}
		return d, true
	}

	pnlPercent := pos.UnrealizedPnLPercent(price)
	if pnlPercent < 0 {
		entryRupees := float64(pos.EntryPrice) / 100
		threshold := -(entryRupees * macdHistogramEntryFraction)
		if snap.MACDLine < snap.SignalLine && snap.Histogram < threshold {
			d.ExitReason = model.ExitMACDReversal
			d.Conditions = []string{model.ExitMACDReversal}
			return d, true
		}
		if pnlPercent <= cloudExitMinLossPercent && snap.PriceBelowCloud {
			d.ExitReason = model.ExitPriceBelowCloud
			d.Conditions = []string{model.ExitPriceBelowCloud}
			return d, true
		}
	}

	return model.SignalDecision{}, false
}
