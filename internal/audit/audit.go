package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/complylens/complylens/internal/metrics"
)

// Event is a single audited registry interaction.
type Event struct {
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Success    bool

	// Security marks a security-relevant denial (HTTP 403). Security events
	// carry the tenant/user so denials can be traced per principal.
	Security  bool
	TenantID  string
	UserID    string
	RequestID string
}

// Sink receives audit events. Record is fire-and-forget: implementations
// swallow their own failures and must never block the caller on error.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// LogSink writes audit events through slog and mirrors security denials to a
// prometheus counter.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if e.Security {
		metrics.RegistryDenialsTotal.WithLabelValues(e.Endpoint).Inc()
		logger.WarnContext(ctx, "registry access denied",
			"endpoint", e.Endpoint,
			"status", e.StatusCode,
			"tenant_id", e.TenantID,
			"user_id", e.UserID,
			"request_id", e.RequestID,
		)
		return
	}

	level := slog.LevelDebug
	if !e.Success {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "registry request",
		"endpoint", e.Endpoint,
		"status", e.StatusCode,
		"duration_ms", e.Duration.Milliseconds(),
		"success", e.Success,
	)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
