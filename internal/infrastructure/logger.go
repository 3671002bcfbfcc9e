// Package infrastructure wires process-level concerns for the license
// server: the structured logger and the OpenTelemetry metric pipeline.
package infrastructure

import (
	"context"
	"log/slog"
	"os"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"qmlcli/internal/config"
)

// NewLogger builds the process logger from configuration. Output is JSON
// unless the format is explicitly "text"; records carry the chi request id
// when one is present on the context.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(&requestIDHandler{Handler: handler})
}

// requestIDHandler injects the chi request id into every record logged with
// a request-scoped context, so engine logs correlate with HTTP access logs.
type requestIDHandler struct {
	slog.Handler
}

func (h *requestIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		r.AddAttrs(slog.String("request_id", reqID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &requestIDHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *requestIDHandler) WithGroup(name string) slog.Handler {
	return &requestIDHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
