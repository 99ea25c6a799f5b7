// Package alerting delivers fired-rule events to best-effort side
// channels. Delivery failures never invalidate the durable alert record.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one fired-rule notification.
type Event struct {
	At       time.Time      `json:"at"`
	Kind     string         `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Payload  map[string]any `json:"payload"`
}

// Sink accepts alert events for delivery.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// JSONLSink appends one JSON object per event to a newline-delimited log
// file.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink constructs a sink writing to the given path.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Emit appends the event to the log file, creating parent directories as
// needed.
func (s *JSONLSink) Emit(ctx context.Context, event Event) error {
	if event.Severity == "" {
		event.Severity = "info"
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create alert log dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write alert event: %w", err)
	}
	return nil
}

// MultiSink fans one event out to several sinks. Emit returns the first
// error but still attempts every sink.
type MultiSink []Sink

// Emit delivers the event to each sink in order.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var first error
	for _, sink := range m {
		if err := sink.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Sink = (*JSONLSink)(nil)
	_ Sink = (MultiSink)(nil)
)
