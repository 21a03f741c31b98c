package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intraday-systemv1/internal/model"
)

type fakeOpsStore struct {
	candle model.Candle
	found  bool
	events []model.PositionEvent
	gotN   int64
	err    error
}

func (s *fakeOpsStore) LatestCandle(_ context.Context, exchange, symbol string) (model.Candle, bool, error) {
	return s.candle, s.found, s.err
}

func (s *fakeOpsStore) RecentEvents(_ context.Context, n int64) ([]model.PositionEvent, error) {
	s.gotN = n
	return s.events, s.err
}

func TestOpsHandler_Candle(t *testing.T) {
	store := &fakeOpsStore{
		candle: model.Candle{
			Symbol:   "SBIN",
			Exchange: "NSE",
			TS:       time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC),
			Open:     54_300, High: 54_500, Low: 54_250, Close: 54_450,
		},
		found: true,
	}
	h := NewOpsHandler(store, store)

	rec := httptest.NewRecorder()
	h.Candle(rec, httptest.NewRequest("GET", "/ops/candle?exchange=NSE&symbol=SBIN", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got model.Candle
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Key() != "NSE:SBIN" || got.Close != 54_450 {
		t.Errorf("candle = %+v", got)
	}

	// Missing query params.
	rec = httptest.NewRecorder()
	h.Candle(rec, httptest.NewRequest("GET", "/ops/candle?symbol=SBIN", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing exchange: status = %d, want 400", rec.Code)
	}

	// Nothing published yet.
	store.found = false
	rec = httptest.NewRecorder()
	h.Candle(rec, httptest.NewRequest("GET", "/ops/candle?exchange=NSE&symbol=SBIN", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("no candle: status = %d, want 404", rec.Code)
	}

	// Store failure.
	store.err = errors.New("connection refused")
	rec = httptest.NewRecorder()
	h.Candle(rec, httptest.NewRequest("GET", "/ops/candle?exchange=NSE&symbol=SBIN", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("store error: status = %d, want 502", rec.Code)
	}
}

func TestOpsHandler_Events(t *testing.T) {
	store := &fakeOpsStore{
		events: []model.PositionEvent{
			{Type: model.EventClosed, Reason: "TAKE_PROFIT", PnL: 12_500},
			{Type: model.EventOpened},
		},
	}
	h := NewOpsHandler(store, store)

	rec := httptest.NewRecorder()
	h.Events(rec, httptest.NewRequest("GET", "/ops/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.gotN != 50 {
		t.Errorf("default n = %d, want 50", store.gotN)
	}
	var got []model.PositionEvent
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Type != model.EventClosed || got[0].PnL != 12_500 {
		t.Errorf("events = %+v", got)
	}

	// Explicit n, capped at 500.
	rec = httptest.NewRecorder()
	h.Events(rec, httptest.NewRequest("GET", "/ops/events?n=9999", nil))
	if store.gotN != 500 {
		t.Errorf("capped n = %d, want 500", store.gotN)
	}

	// Invalid n.
	rec = httptest.NewRecorder()
	h.Events(rec, httptest.NewRequest("GET", "/ops/events?n=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid n: status = %d, want 400", rec.Code)
	}
}
