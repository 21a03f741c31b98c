package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"intraday-systemv1/internal/model"
)

// CandleSource serves the most recent closed candle per instrument.
type CandleSource interface {
	LatestCandle(ctx context.Context, exchange, symbol string) (model.Candle, bool, error)
}

// EventSource serves recent position events, newest first.
type EventSource interface {
	RecentEvents(ctx context.Context, n int64) ([]model.PositionEvent, error)
}

// OpsHandler exposes recent trading activity for operator tooling: the
// latest published candle per instrument and the position event tail.
type OpsHandler struct {
	candles CandleSource
	events  EventSource
}

// NewOpsHandler creates the operator query handler.
func NewOpsHandler(candles CandleSource, events EventSource) *OpsHandler {
	return &OpsHandler{candles: candles, events: events}
}

// Candle handles GET /ops/candle?exchange=NSE&symbol=SBIN.
func (h *OpsHandler) Candle(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	symbol := r.URL.Query().Get("symbol")
	if exchange == "" || symbol == "" {
		http.Error(w, "exchange and symbol query params required", http.StatusBadRequest)
		return
	}

	c, ok, err := h.candles.LatestCandle(r.Context(), exchange, symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "no candle published for "+exchange+":"+symbol, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// Events handles GET /ops/events?n=50. n defaults to 50, capped at 500.
func (h *OpsHandler) Events(w http.ResponseWriter, r *http.Request) {
	n := int64(50)
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = v
	}
	if n > 500 {
		n = 500
	}

	events, err := h.events.RecentEvents(r.Context(), n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
