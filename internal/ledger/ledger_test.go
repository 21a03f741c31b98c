package ledger

import (
	"errors"
	"testing"
	"time"

	"intraday-systemv1/internal/model"
)

func TestSize(t *testing.T) {
	cases := []struct {
		name    string
		capital int64 // paise
		bps     int64
		price   int64 // paise
		want    int64
	}{
		// ₹1,00,000 capital, 11.11% per position, ₹1,200 stock → 9 shares.
		{"typical allocation", 10_000_000, 1111, 120_000, 9},
		{"exact division", 10_000_000, 1000, 100_000, 10},
		{"price above allocation", 10_000_000, 1111, 120_000_000, 0},
		{"zero capital", 0, 1111, 120_000, 0},
		{"zero price", 10_000_000, 1111, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Size(tc.capital, tc.bps, tc.price); got != tc.want {
				t.Errorf("Size(%d, %d, %d) = %d, want %d",
					tc.capital, tc.bps, tc.price, got, tc.want)
			}
		})
	}
}

func TestBrackets(t *testing.T) {
	// Entry ₹1,000.00, tick ₹0.05: SL ₹980.00, TP ₹1,040.00 exactly.
	sl, tp := Brackets(100_000, 5)
	if sl != 98_000 {
		t.Errorf("stop-loss = %d, want 98000", sl)
	}
	if tp != 104_000 {
		t.Errorf("take-profit = %d, want 104000", tp)
	}

	// Entry ₹123.45 (12345 paise): raw SL 12098.1 → 12098 before rounding,
	// tick 5 rounds to 12100; raw TP 12838.8 → 12838, rounds to 12840.
	sl, tp = Brackets(12_345, 5)
	if sl%5 != 0 || tp%5 != 0 {
		t.Errorf("brackets not tick-aligned: sl=%d tp=%d", sl, tp)
	}

	// Zero tick falls back to the default.
	sl0, tp0 := Brackets(100_000, 0)
	if sl0 != 98_000 || tp0 != 104_000 {
		t.Errorf("default tick brackets = %d/%d, want 98000/104000", sl0, tp0)
	}
}

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		price, tick int64
		tieUp       bool
		want        int64
	}{
		{98_000, 5, false, 98_000}, // already aligned
		{98_002, 5, false, 98_000}, // below midpoint rounds down
		{98_003, 5, false, 98_005}, // above midpoint rounds up
		{98_004, 5, true, 98_005},
		{100_003, 2, false, 100_002}, // tie: stop-loss side rounds down
		{100_003, 2, true, 100_004},  // tie: take-profit side rounds up
		{98_002, 0, false, 98_002},   // zero tick passes through
	}
	for _, tc := range cases {
		got := RoundToTick(tc.price, tc.tick, tc.tieUp)
		if got != tc.want {
			t.Errorf("RoundToTick(%d, %d, %v) = %d, want %d",
				tc.price, tc.tick, tc.tieUp, got, tc.want)
		}
		// Idempotent.
		if again := RoundToTick(got, tc.tick, tc.tieUp); again != got {
			t.Errorf("RoundToTick not idempotent: %d then %d", got, again)
		}
	}
}

func TestLedger_OpenClose(t *testing.T) {
	l := New()
	opened := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	pos := l.Open(OpenParams{
		Symbol:       "RELIANCE",
		Exchange:     "NSE",
		EntryPrice:   100_000,
		Qty:          9,
		TickSize:     5,
		EntryOrderID: "ORD1",
		OpenedAt:     opened,
	})
	if pos.Status != model.StatusOpen {
		t.Fatalf("status = %s, want OPEN", pos.Status)
	}
	if pos.StopLoss != 98_000 || pos.TakeProfit != 104_000 {
		t.Errorf("brackets = %d/%d, want 98000/104000", pos.StopLoss, pos.TakeProfit)
	}
	if l.OpenCount() != 1 || l.OpenCountFor("NSE:RELIANCE") != 1 {
		t.Errorf("open counts wrong: total=%d instrument=%d",
			l.OpenCount(), l.OpenCountFor("NSE:RELIANCE"))
	}

	closed, err := l.Close(pos.ID, 104_000, model.ExitTakeProfit, opened.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != model.StatusClosedProfit {
		t.Errorf("status = %s, want CLOSED_PROFIT", closed.Status)
	}
	if closed.PnL != (104_000-100_000)*9 {
		t.Errorf("pnl = %d, want %d", closed.PnL, int64(36_000))
	}
	if l.OpenCount() != 0 {
		t.Errorf("open count after close = %d, want 0", l.OpenCount())
	}
}

func TestLedger_CloseErrors(t *testing.T) {
	l := New()
	now := time.Now()

	if _, err := l.Close(42, 100, model.ExitStopLoss, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pos := l.Open(OpenParams{Symbol: "SBIN", Exchange: "NSE", EntryPrice: 50_000, Qty: 5, OpenedAt: now})
	if _, err := l.Close(pos.ID, 49_000, model.ExitStopLoss, now); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if _, err := l.Close(pos.ID, 49_000, model.ExitStopLoss, now); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestLedger_ReasonStatusMapping(t *testing.T) {
	cases := []struct {
		reason string
		status model.PositionStatus
	}{
		{model.ExitTakeProfit, model.StatusClosedProfit},
		{model.ExitStopLoss, model.StatusClosedLoss},
		{model.ExitMACDReversal, model.StatusClosedReversal},
		{model.ExitPriceBelowCloud, model.StatusClosedReversal},
		{"MACD_CROSSED_BELOW_SIGNAL", model.StatusClosedReversal},
		{model.ExitEOD, model.StatusClosedEOD},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			l := New()
			pos := l.Open(OpenParams{Symbol: "SBIN", Exchange: "NSE", EntryPrice: 50_000, Qty: 1, OpenedAt: time.Now()})
			closed, err := l.Close(pos.ID, 49_000, tc.reason, time.Now())
			if err != nil {
				t.Fatalf("close: %v", err)
			}
			if closed.Status != tc.status {
				t.Errorf("status for %s = %s, want %s", tc.reason, closed.Status, tc.status)
			}
		})
	}
}

func TestLedger_EODCloseOfLosingPosition(t *testing.T) {
	// An end-of-day sweep of a losing position closes as CLOSED_EOD, not
	// CLOSED_LOSS: the status records why the trade ended, not its sign.
	l := New()
	pos := l.Open(OpenParams{Symbol: "INFY", Exchange: "NSE", EntryPrice: 150_000, Qty: 4, OpenedAt: time.Now()})

	closed, err := l.Close(pos.ID, 148_500, model.ExitEOD, time.Now())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != model.StatusClosedEOD {
		t.Errorf("status = %s, want CLOSED_EOD", closed.Status)
	}
	if closed.PnL != -6_000 {
		t.Errorf("pnl = %d, want -6000", closed.PnL)
	}
}

func TestLedger_Summary(t *testing.T) {
	l := New()
	now := time.Now()

	open := func(entry int64) *model.Position {
		return l.Open(OpenParams{Symbol: "SBIN", Exchange: "NSE", EntryPrice: entry, Qty: 10, OpenedAt: now})
	}

	// Loss -10000, loss -20000 (drawdown trough -30000), win +50000.
	p1 := open(100_000)
	l.Close(p1.ID, 99_000, model.ExitStopLoss, now)
	p2 := open(100_000)
	l.Close(p2.ID, 98_000, model.ExitStopLoss, now)
	p3 := open(100_000)
	l.Close(p3.ID, 105_000, model.ExitTakeProfit, now)

	s := l.Summary()
	if s.TotalTrades != 3 || s.WinningTrades != 1 || s.LosingTrades != 2 {
		t.Errorf("trade counts wrong: %+v", s)
	}
	if s.TotalPnL != 20_000 {
		t.Errorf("total pnl = %d, want 20000", s.TotalPnL)
	}
	if s.MaxDrawdown != -30_000 {
		t.Errorf("max drawdown = %d, want -30000", s.MaxDrawdown)
	}
	if s.WinRate < 33.3 || s.WinRate > 33.4 {
		t.Errorf("win rate = %.2f, want ~33.33", s.WinRate)
	}
}

func TestLedger_OpenPositionsPerInstrument(t *testing.T) {
	l := New()
	now := time.Now()
	l.Open(OpenParams{Symbol: "SBIN", Exchange: "NSE", EntryPrice: 50_000, Qty: 1, OpenedAt: now})
	l.Open(OpenParams{Symbol: "SBIN", Exchange: "NSE", EntryPrice: 51_000, Qty: 1, OpenedAt: now})
	l.Open(OpenParams{Symbol: "INFY", Exchange: "NSE", EntryPrice: 150_000, Qty: 1, OpenedAt: now})

	if n := len(l.OpenPositions("NSE:SBIN")); n != 2 {
		t.Errorf("SBIN open positions = %d, want 2", n)
	}
	if n := len(l.OpenPositions("NSE:INFY")); n != 1 {
		t.Errorf("INFY open positions = %d, want 1", n)
	}
	if n := len(l.AllOpen()); n != 3 {
		t.Errorf("all open = %d, want 3", n)
	}
}
