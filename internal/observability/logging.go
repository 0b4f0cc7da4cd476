// Package observability configures structured logging and attaches per-request
// trace context to it, grounded on the teacher's internal/observability package.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type requestIDKey struct{}

// InitLogger configures the global zerolog logger. If logPath is non-empty,
// logs are written there (append mode) instead of stdout; on failure it
// falls back to stdout and prints a warning to stderr.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			fmt.Fprintf(os.Stderr, "observability: failed to open log file %q: %v\n", logPath, err)
		}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		lvl = l
	}
	zerolog.SetGlobalLevel(lvl)
}

// WithRequestID returns a context carrying the inbound request id, so that
// every log statement downstream of the HTTP handler can tag it automatically.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request id previously attached with WithRequestID.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// LoggerWithTrace returns a zerolog.Logger pre-populated with the request id
// carried on ctx, if any.
func LoggerWithTrace(ctx context.Context) zerolog.Logger {
	l := log.Logger
	if id := RequestID(ctx); id != "" {
		l = l.With().Str("request_id", id).Logger()
	}
	return l
}
