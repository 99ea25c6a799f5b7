package alerting

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLSinkAppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "alerts.jsonl")
	sink := NewJSONLSink(path)

	events := []Event{
		{At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Kind: "take_profit", Severity: "info", Message: "first"},
		{At: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), Kind: "rebalance", Message: "second"},
	}
	for _, event := range events {
		if err := sink.Emit(context.Background(), event); err != nil {
			t.Fatalf("emit failed: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open alert log failed: %v", err)
	}
	defer file.Close()

	var got []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line is not valid json: %v", err)
		}
		got = append(got, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].Kind != "take_profit" || got[1].Kind != "rebalance" {
		t.Fatalf("unexpected kinds: %q, %q", got[0].Kind, got[1].Kind)
	}
	if got[1].Severity != "info" {
		t.Fatalf("severity must default to info, got %q", got[1].Severity)
	}
}

type failingSink struct{}

func (failingSink) Emit(ctx context.Context, event Event) error {
	return errors.New("boom")
}

func TestMultiSinkAttemptsEverySink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	jsonl := NewJSONLSink(path)
	multi := MultiSink{failingSink{}, jsonl}

	err := multi.Emit(context.Background(), Event{At: time.Now(), Kind: "take_profit", Message: "hi"})
	if err == nil {
		t.Fatal("expected the failing sink's error to surface")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("the healthy sink must still receive the event: %v", statErr)
	}
}
