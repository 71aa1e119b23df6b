// Package slogsink provides the stdlib-only reference audit.Sink: every
// event becomes one structured log line. This is deliberately the one
// sink in the audit package built on the standard library rather than a
// third-party transport — every deployment has a logger already, and an
// audit trail that depends on an external system to even start up
// defeats the point of an always-on fallback sink.
package slogsink

import (
	"context"
	"log/slog"

	"github.com/gifton/pipelinekit/core/audit"
	"github.com/gifton/pipelinekit/core/logger"
)

// Sink writes audit events to a *slog.Logger at Info level.
type Sink struct {
	logger *slog.Logger
}

// New constructs a Sink. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger}
}

// Log implements audit.Sink.
func (s *Sink) Log(ctx context.Context, evt audit.Event) error {
	s.logger.InfoContext(ctx, "audit event",
		logger.Event(evt.EventType),
		slog.Time("timestamp", evt.Timestamp),
		logger.TraceID(evt.TraceID),
		slog.String("span_id", evt.SpanID),
		logger.ID("user_id", evt.UserID),
		slog.String("session_id", evt.SessionID),
		slog.Any("metadata", evt.Metadata),
	)
	return nil
}
