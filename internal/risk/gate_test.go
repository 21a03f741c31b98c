package risk

import (
	"sync"
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{
		MaxPositions:         9,
		MaxPerInstrument:     6,
		CircuitBreakerLosses: 3,
		MaxDrawdownPercent:   18,
	}
}

func TestGate_MaxPositions(t *testing.T) {
	g := New(testLimits(), 10_000_000)

	for i := 0; i < 9; i++ {
		ok, _ := g.ApproveEntry("NSE:SBIN")
		if i < 6 && !ok {
			t.Fatalf("entry %d should be approved", i)
		}
	}
	// Instrument cap (6) hits before portfolio cap for a single symbol.
	if ok, reason := g.ApproveEntry("NSE:SBIN"); ok || reason != ReasonInstrumentCap {
		t.Errorf("expected instrument_cap rejection, got ok=%v reason=%s", ok, reason)
	}

	// Fill the remaining portfolio slots with other instruments.
	g2 := New(testLimits(), 10_000_000)
	syms := []string{"NSE:A", "NSE:B", "NSE:C"}
	for i := 0; i < 9; i++ {
		if ok, reason := g2.ApproveEntry(syms[i%3]); !ok {
			t.Fatalf("entry %d rejected: %s", i, reason)
		}
	}
	if ok, reason := g2.ApproveEntry("NSE:D"); ok || reason != ReasonMaxPositions {
		t.Errorf("expected max_positions rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestGate_ConcurrentApprovalsNeverExceedCaps(t *testing.T) {
	g := New(testLimits(), 10_000_000)
	syms := []string{"NSE:A", "NSE:B", "NSE:C", "NSE:D"}

	var wg sync.WaitGroup
	approved := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := g.ApproveEntry(syms[i%len(syms)]); ok {
				approved <- syms[i%len(syms)]
			}
		}(i)
	}
	wg.Wait()
	close(approved)

	perSym := map[string]int{}
	total := 0
	for s := range approved {
		perSym[s]++
		total++
	}
	if total > 9 {
		t.Errorf("approved %d entries, cap is 9", total)
	}
	for s, n := range perSym {
		if n > 6 {
			t.Errorf("%s approved %d times, cap is 6", s, n)
		}
	}
	if g.OpenCount() != total {
		t.Errorf("open count %d != approvals %d", g.OpenCount(), total)
	}
}

func TestGate_ReleaseFreesSlot(t *testing.T) {
	limits := testLimits()
	limits.MaxPositions = 1
	g := New(limits, 10_000_000)

	if ok, _ := g.ApproveEntry("NSE:A"); !ok {
		t.Fatal("first entry should be approved")
	}
	if ok, _ := g.ApproveEntry("NSE:B"); ok {
		t.Fatal("second entry should be rejected while slot held")
	}
	g.Release("NSE:A")
	if ok, _ := g.ApproveEntry("NSE:B"); !ok {
		t.Error("entry should be approved after release")
	}
}

func TestGate_CircuitBreaker(t *testing.T) {
	g := New(testLimits(), 10_000_000)

	// Three consecutive losing closes trip the breaker.
	for i := 0; i < 3; i++ {
		ok, _ := g.ApproveEntry("NSE:SBIN")
		if !ok {
			t.Fatalf("entry %d should be approved", i)
		}
		g.RecordClose("NSE:SBIN", -5000)
	}
	if ok, reason := g.ApproveEntry("NSE:SBIN"); ok || reason != ReasonCircuitBreaker {
		t.Errorf("expected circuit_breaker rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestGate_WinResetsLossStreak(t *testing.T) {
	g := New(testLimits(), 10_000_000)

	// Two losses, a win, then a third loss: streak must be 1, not 3.
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", -1000)
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", -1000)
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", 8000)
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", -1000)

	if got := g.Snapshot().ConsecutiveLosses; got != 1 {
		t.Errorf("consecutive losses = %d, want 1", got)
	}
	if ok, _ := g.ApproveEntry("NSE:A"); !ok {
		t.Error("entry should be approved with streak below breaker")
	}
}

func TestGate_DrawdownLimit(t *testing.T) {
	g := New(testLimits(), 10_000_000) // ₹1,00,000 capital

	// 18% of capital = 1,800,000 paise. Two losses keep the streak below
	// the circuit breaker, so only the drawdown can block here.
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", -1_000_000)
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", -900_000)

	if ok, reason := g.ApproveEntry("NSE:A"); ok || reason != ReasonDrawdown {
		t.Errorf("expected drawdown rejection at 19%%, got ok=%v reason=%s", ok, reason)
	}

	// Positive cumulative P&L never triggers the drawdown check.
	g2 := New(testLimits(), 10_000_000)
	g2.ApproveEntry("NSE:A")
	g2.RecordClose("NSE:A", 5_000_000)
	if ok, _ := g2.ApproveEntry("NSE:A"); !ok {
		t.Error("profitable session must not trip drawdown")
	}
}

func TestGate_WarnOncePerEpisode(t *testing.T) {
	limits := testLimits()
	limits.MaxPositions = 1
	g := New(limits, 10_000_000)

	breaches := make(chan string, 10)
	g.OnBreach = func(reason, detail string) { breaches <- reason }

	g.ApproveEntry("NSE:A")
	g.ApproveEntry("NSE:B") // breach logged
	g.ApproveEntry("NSE:B") // same episode: silent
	g.ApproveEntry("NSE:B")

	// Clear the condition, then breach again: a second warning is due.
	g.RecordClose("NSE:A", 100)
	g.ApproveEntry("NSE:B")
	g.ApproveEntry("NSE:C")

	got := 0
	timeout := time.After(time.Second)
	for got < 2 {
		select {
		case <-breaches:
			got++
		case <-timeout:
			t.Fatalf("expected 2 breach notifications, got %d", got)
		}
	}
	// No third notification should arrive for the suppressed repeats.
	select {
	case r := <-breaches:
		t.Errorf("unexpected extra breach notification: %s", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGate_ResetSession(t *testing.T) {
	g := New(testLimits(), 10_000_000)
	g.ApproveEntry("NSE:A")
	g.RecordClose("NSE:A", -1000)
	g.ApproveEntry("NSE:A")

	g.ResetSession(20_000_000)
	st := g.Snapshot()
	if st.OpenCount != 0 || st.ConsecutiveLosses != 0 || st.RealizedPnL != 0 {
		t.Errorf("reset did not clear counters: %+v", st)
	}
	if st.InitialCapital != 20_000_000 {
		t.Errorf("reset did not re-snapshot capital: %d", st.InitialCapital)
	}
}
