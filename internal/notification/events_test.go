package notification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"intraday-systemv1/internal/model"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	return nil
}

func TestFromPositionEvent_Opened(t *testing.T) {
	a := FromPositionEvent(model.PositionEvent{
		Type: model.EventOpened,
		Position: &model.Position{
			Symbol:     "SBIN",
			Qty:        9,
			EntryPrice: 120_000,
			StopLoss:   117_600,
			TakeProfit: 124_800,
		},
	})

	if a.Level != AlertInfo {
		t.Errorf("level = %s, want INFO", a.Level)
	}
	if a.Title != "Opened SBIN" {
		t.Errorf("title = %q", a.Title)
	}
	for _, want := range []string{"₹1200.00", "₹1176.00", "₹1248.00"} {
		if !strings.Contains(a.Message, want) {
			t.Errorf("message %q missing %s", a.Message, want)
		}
	}
}

func TestFromPositionEvent_ClosedAtLossWarns(t *testing.T) {
	a := FromPositionEvent(model.PositionEvent{
		Type: model.EventClosed,
		Position: &model.Position{
			Symbol:     "INFY",
			Qty:        5,
			EntryPrice: 100_000,
			ExitPrice:  98_000,
		},
		Reason: "STOP_LOSS",
		PnL:    -10_000,
	})

	if a.Level != AlertWarning {
		t.Errorf("level = %s, want WARNING for a losing close", a.Level)
	}
	if !strings.Contains(a.Title, "STOP_LOSS") {
		t.Errorf("title %q missing exit reason", a.Title)
	}
	if !strings.Contains(a.Message, "-₹100.00") {
		t.Errorf("message %q missing loss amount", a.Message)
	}
}

func TestFromPositionEvent_RiskBreach(t *testing.T) {
	a := FromPositionEvent(model.PositionEvent{
		Type:   model.EventRiskBreach,
		Reason: "MAX_TRADES_REACHED",
	})
	if a.Level != AlertWarning || a.Message != "MAX_TRADES_REACHED" {
		t.Errorf("alert = %+v", a)
	}
}

func TestPublishEvents(t *testing.T) {
	n := &captureNotifier{}
	events := make(chan model.PositionEvent, 2)
	events <- model.PositionEvent{Type: model.EventRiskBreach, Reason: "LOSS_STREAK"}
	events <- model.PositionEvent{Type: model.EventSessionSummary, Detail: "trades=3 pnl=₹45.00"}
	close(events)

	done := make(chan struct{})
	go func() {
		PublishEvents(context.Background(), n, events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishEvents did not return on channel close")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.alerts) != 2 {
		t.Fatalf("delivered %d alerts, want 2", len(n.alerts))
	}
	if n.alerts[1].Title != "Session summary" {
		t.Errorf("second alert = %+v", n.alerts[1])
	}
}

func TestRupeesFormatting(t *testing.T) {
	cases := map[int64]string{
		0:       "₹0.00",
		1:       "₹0.01",
		-6000:   "-₹60.00",
		120_005: "₹1200.05",
	}
	for paise, want := range cases {
		if got := rupees(paise); got != want {
			t.Errorf("rupees(%d) = %s, want %s", paise, got, want)
		}
	}
}
