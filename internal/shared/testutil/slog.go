// Package testutil holds shared test helpers. The log capture handler lets
// tests assert on structured log output without parsing rendered JSON.
package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is one captured structured log entry.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler is a slog.Handler that records every entry in memory.
type CaptureHandler struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	records *[]LogRecord
}

// NewCaptureLogger returns a logger whose records can be inspected through
// the returned handler.
func NewCaptureLogger() (*slog.Logger, *CaptureHandler) {
	h := &CaptureHandler{records: &[]LogRecord{}}
	return slog.New(h), h
}

// Enabled reports true for every level so tests see debug output too.
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle records the log entry.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

// WithAttrs returns a handler sharing the same record sink.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CaptureHandler{attrs: merged, records: h.records}
}

// WithGroup is accepted but not tracked; grouped attrs land at the top level.
func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

// Records returns a copy of everything logged so far.
func (h *CaptureHandler) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogRecord, len(*h.records))
	copy(out, *h.records)
	return out
}

// HasMessage reports whether any record carries the message.
func (h *CaptureHandler) HasMessage(message string) bool {
	for _, r := range h.Records() {
		if r.Message == message {
			return true
		}
	}
	return false
}
