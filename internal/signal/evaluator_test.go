package signal

import (
	"testing"
	"time"

	"intraday-systemv1/internal/model"
)

// bullishSnap returns a snapshot with all five entry conditions true.
func bullishSnap(price int64) model.IndicatorSnapshot {
	return model.IndicatorSnapshot{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		TS:       time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),

		TenkanSen:   2510,
		KijunSen:    2490,
		SenkouSpanA: 2470,
		SenkouSpanB: 2450,
		CloudTop:    2470,
		CloudBottom: 2450,

		PriceAboveCloud: true,
		CloudGreen:      true,

		MACDLine:        3.2,
		SignalLine:      2.1,
		Histogram:       1.1,
		PrevHistogram:   0.8,
		HistogramRising: true,

		CurrentPrice: price,
	}
}

func position(entry, sl, tp int64) *model.Position {
	return &model.Position{
		ID:         1,
		Symbol:     "RELIANCE",
		Exchange:   "NSE",
		Qty:        10,
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Status:     model.StatusOpen,
	}
}

func TestEntry_AllConditionsStrong(t *testing.T) {
	e := New(false)
	d := e.Entry(bullishSnap(250000))

	if d.Kind != model.SignalEntry {
		t.Fatalf("expected ENTRY, got %s", d.Kind)
	}
	if d.Strength != model.StrengthStrong {
		t.Errorf("expected STRONG with 5 conditions, got %s", d.Strength)
	}
	if len(d.Conditions) != 5 {
		t.Errorf("expected 5 conditions, got %v", d.Conditions)
	}
}

func TestEntry_StrengthLadder(t *testing.T) {
	e := New(false)

	cases := []struct {
		name     string
		mutate   func(*model.IndicatorSnapshot)
		strength model.Strength
		kind     model.SignalKind
	}{
		{
			name: "four conditions strong",
			mutate: func(s *model.IndicatorSnapshot) {
				s.HistogramRising = false
			},
			strength: model.StrengthStrong,
			kind:     model.SignalEntry,
		},
		{
			name: "three conditions moderate",
			mutate: func(s *model.IndicatorSnapshot) {
				s.HistogramRising = false
				s.CloudGreen = false
			},
			strength: model.StrengthModerate,
			kind:     model.SignalEntry,
		},
		{
			name: "two conditions weak",
			mutate: func(s *model.IndicatorSnapshot) {
				s.HistogramRising = false
				s.CloudGreen = false
				s.MACDLine = 1.0
				s.SignalLine = 2.0
			},
			strength: model.StrengthWeak,
			kind:     model.SignalEntry,
		},
		{
			name: "one condition none",
			mutate: func(s *model.IndicatorSnapshot) {
				s.HistogramRising = false
				s.CloudGreen = false
				s.MACDLine = 1.0
				s.SignalLine = 2.0
				s.TenkanSen = 2480 // below kijun
			},
			strength: model.StrengthNone,
			kind:     model.SignalNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := bullishSnap(250000)
			tc.mutate(&snap)
			d := e.Entry(snap)
			if d.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", d.Kind, tc.kind)
			}
			if d.Strength != tc.strength {
				t.Errorf("strength = %s, want %s", d.Strength, tc.strength)
			}
		})
	}
}

func TestEntry_VolumeConfirmOptional(t *testing.T) {
	snap := bullishSnap(250000)
	snap.VolumeAboveAvg = true

	if d := New(false).Entry(snap); len(d.Conditions) != 5 {
		t.Errorf("volume gate disabled: expected 5 conditions, got %v", d.Conditions)
	}
	if d := New(true).Entry(snap); len(d.Conditions) != 6 {
		t.Errorf("volume gate enabled: expected 6 conditions, got %v", d.Conditions)
	}
}

func TestExit_TakeProfitBeatsStopLoss(t *testing.T) {
	e := New(false)
	// Degenerate candle where both TP and SL thresholds are crossed:
	// TAKE_PROFIT must win deterministically.
	pos := position(100000, 98000, 104000)
	snap := bullishSnap(104500)
	pos.StopLoss = 105000 // SL above price too

	d, ok := e.Exit(snap, pos)
	if !ok {
		t.Fatal("expected exit")
	}
	if d.ExitReason != model.ExitTakeProfit {
		t.Errorf("expected TAKE_PROFIT, got %s", d.ExitReason)
	}
}

func TestExit_StopLoss(t *testing.T) {
	e := New(false)
	pos := position(100000, 98000, 104000)

	d, ok := e.Exit(bullishSnap(97900), pos)
	if !ok || d.ExitReason != model.ExitStopLoss {
		t.Fatalf("expected STOP_LOSS, got ok=%v reason=%s", ok, d.ExitReason)
	}
}

func TestExit_MACDReversalOnlyWhenLosing(t *testing.T) {
	e := New(false)
	pos := position(100000, 95000, 110000)

	snap := bullishSnap(100500) // profitable
	snap.MACDLine = -2
	snap.SignalLine = 1
	snap.Histogram = -3 // far below -0.1% of entry (-1.0 rupees)

	if _, ok := e.Exit(snap, pos); ok {
		t.Error("MACD reversal must not fire on a profitable position")
	}

	snap.CurrentPrice = 99500 // losing
	d, ok := e.Exit(snap, pos)
	if !ok || d.ExitReason != model.ExitMACDReversal {
		t.Fatalf("expected MACD_REVERSAL on losing position, got ok=%v reason=%s", ok, d.ExitReason)
	}
}

func TestExit_MACDReversalHistogramThreshold(t *testing.T) {
	e := New(false)
	pos := position(100000, 95000, 110000) // entry 1000 rupees, threshold -1.0

	snap := bullishSnap(99500)
	snap.MACDLine = -2
	snap.SignalLine = 1
	snap.Histogram = -0.5 // negative but within noise band

	if _, ok := e.Exit(snap, pos); ok {
		t.Error("histogram within -0.1% of entry should not trigger MACD_REVERSAL")
	}
}

func TestExit_PriceBelowCloudNeedsHalfPercentLoss(t *testing.T) {
	e := New(false)
	pos := position(100000, 95000, 110000)

	snap := bullishSnap(99600) // -0.4%: not enough
	snap.PriceAboveCloud = false
	snap.PriceBelowCloud = true

	if _, ok := e.Exit(snap, pos); ok {
		t.Error("cloud exit should not fire above -0.5% loss")
	}

	snap.CurrentPrice = 99500 // exactly -0.5%
	d, ok := e.Exit(snap, pos)
	if !ok || d.ExitReason != model.ExitPriceBelowCloud {
		t.Fatalf("expected PRICE_BELOW_CLOUD at -0.5%%, got ok=%v reason=%s", ok, d.ExitReason)
	}
}

func TestExit_NoExitOnHealthyPosition(t *testing.T) {
	e := New(false)
	pos := position(100000, 98000, 104000)

	if d, ok := e.Exit(bullishSnap(101000), pos); ok {
		t.Errorf("no exit expected, got %s", d.ExitReason)
	}
}
