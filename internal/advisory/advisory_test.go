package advisory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestHTTPAdvisor_Sentiment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sentiment" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"label": "BULLISH", "confidence": 0.82})
	}))
	defer srv.Close()

	a := NewHTTPAdvisor(srv.URL)
	label, conf, err := a.Sentiment(context.Background())
	if err != nil {
		t.Fatalf("Sentiment: %v", err)
	}
	if label != SentimentBullish || conf != 0.82 {
		t.Errorf("got %s/%v", label, conf)
	}
}

func TestHTTPAdvisor_SentimentRejectsUnknownLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"label": "MOON", "confidence": 1.0})
	}))
	defer srv.Close()

	a := NewHTTPAdvisor(srv.URL)
	if _, _, err := a.Sentiment(context.Background()); err == nil {
		t.Fatal("expected error for unknown label")
	}
}

func TestHTTPAdvisor_RankSectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rank" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var in struct {
			Sectors []string `json:"sectors"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		if len(in.Sectors) != 3 {
			t.Errorf("sectors = %v", in.Sectors)
		}
		json.NewEncoder(w).Encode(map[string]any{"ranked": []string{"IT", "BANK", "AUTO"}})
	}))
	defer srv.Close()

	a := NewHTTPAdvisor(srv.URL)
	ranked, err := a.RankSectors(context.Background(), []string{"BANK", "AUTO", "IT"})
	if err != nil {
		t.Fatalf("RankSectors: %v", err)
	}
	if !reflect.DeepEqual(ranked, []string{"IT", "BANK", "AUTO"}) {
		t.Errorf("ranked = %v", ranked)
	}
}

func TestStatic_Defaults(t *testing.T) {
	s := NewStatic()
	label, conf, err := s.Sentiment(context.Background())
	if err != nil || label != SentimentNeutral || conf != 0.5 {
		t.Errorf("got %s/%v/%v", label, conf, err)
	}

	in := []string{"BANK", "IT"}
	ranked, err := s.RankSectors(context.Background(), in)
	if err != nil || !reflect.DeepEqual(ranked, in) {
		t.Errorf("ranked = %v, err = %v", ranked, err)
	}
}

func TestStatic_PreferredOrder(t *testing.T) {
	s := &Static{Label: SentimentBullish, Confidence: 0.9, Order: []string{"IT", "PHARMA"}}
	ranked, err := s.RankSectors(context.Background(), []string{"BANK", "IT", "AUTO"})
	if err != nil {
		t.Fatal(err)
	}
	// Preferred sectors first, the rest keep input order.
	want := []string{"IT", "BANK", "AUTO"}
	if !reflect.DeepEqual(ranked, want) {
		t.Errorf("ranked = %v, want %v", ranked, want)
	}
}
