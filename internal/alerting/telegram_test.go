package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testEvent() Event {
	return Event{
		At:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Kind:     "take_profit",
		Severity: "info",
		Message:  "BTC: Value >= 2x cost. Consider selling 33% (~0.330000 units)",
	}
}

func TestTelegramSinkSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body failed: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	if err := sink.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("emit should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "take_profit") {
		t.Fatalf("text should carry the event kind: %q", received["text"])
	}
	if !strings.Contains(received["text"], "Consider selling") {
		t.Fatalf("text should carry the message: %q", received["text"])
	}
}

func TestTelegramSinkNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	if err := sink.Emit(context.Background(), testEvent()); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestTelegramSinkHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	if err := sink.Emit(context.Background(), testEvent()); err == nil {
		t.Fatal("HTTP 502 should be an error")
	}
}
