package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramNotifier_Send(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "-100123")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "Position closed <SBIN>",
		Message: "P&L: -1250.50",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if gotPayload["chat_id"] != "-100123" {
		t.Errorf("chat_id = %s", gotPayload["chat_id"])
	}
	if gotPayload["parse_mode"] != "HTML" {
		t.Errorf("parse_mode = %s", gotPayload["parse_mode"])
	}
	text := gotPayload["text"]
	if !strings.Contains(text, "🚨") {
		t.Errorf("critical alert missing emoji: %q", text)
	}
	if !strings.Contains(text, "&lt;SBIN&gt;") || !strings.Contains(text, "P&amp;L") {
		t.Errorf("text not HTML-escaped: %q", text)
	}
}

func TestTelegramNotifier_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"description": "Bad Request: chat not found",
		})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "bogus")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m"})
	if err == nil {
		t.Fatal("expected error for api failure")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v, want api description surfaced", err)
	}
}
