package notification

import (
	"context"
	"fmt"
	"log"

	"intraday-systemv1/internal/model"
)

// FromPositionEvent converts a position lifecycle event into an alert.
func FromPositionEvent(ev model.PositionEvent) Alert {
	switch ev.Type {
	case model.EventOpened:
		p := ev.Position
		return Alert{
			Level: AlertInfo,
			Title: fmt.Sprintf("Opened %s", p.Symbol),
			Message: fmt.Sprintf("%d @ %s, SL %s, TP %s",
				p.Qty, rupees(p.EntryPrice), rupees(p.StopLoss), rupees(p.TakeProfit)),
		}
	case model.EventClosed:
		p := ev.Position
		level := AlertInfo
		if ev.PnL < 0 {
			level = AlertWarning
		}
		return Alert{
			Level: level,
			Title: fmt.Sprintf("Closed %s (%s)", p.Symbol, ev.Reason),
			Message: fmt.Sprintf("%d @ %s -> %s, PnL %s",
				p.Qty, rupees(p.EntryPrice), rupees(p.ExitPrice), rupees(ev.PnL)),
		}
	case model.EventRiskBreach:
		return Alert{
			Level:   AlertWarning,
			Title:   "Risk limit reached",
			Message: ev.Reason,
		}
	case model.EventSessionSummary:
		return Alert{
			Level:   AlertInfo,
			Title:   "Session summary",
			Message: ev.Detail,
		}
	default:
		return Alert{
			Level:   AlertInfo,
			Title:   ev.Type,
			Message: ev.Detail,
		}
	}
}

// PublishEvents drains position events and forwards them to the notifier.
// Delivery failures are logged and never block the pipeline.
func PublishEvents(ctx context.Context, n Notifier, events <-chan model.PositionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := n.Send(ctx, FromPositionEvent(ev)); err != nil {
				log.Printf("[notify] deliver %s: %v", ev.Type, err)
			}
		}
	}
}

// rupees formats a paise amount as a rupee string, e.g. -6000 -> "-₹60.00".
func rupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, paise/100, paise%100)
}
