package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Span is a single named interval within a Trace (spec §3 "Trace / Span (C2
// adjunct)"). Outcome is left as a free-form string ("ok", "error: ...") so
// callers are not forced into a fixed enum.
type Span struct {
	ID       string
	Name     string
	Start    time.Time
	End      time.Time
	ParentID string
	Outcome  string
}

// Trace collects the spans emitted for one correlation id.
type Trace struct {
	CorrelationID string
	Spans         []Span
	Start         time.Time
	End           time.Time
}

// StartSpan begins a span under correlationID and returns an end function
// that records its outcome, emitting "span.start" and "span.end" events on
// the bus so external observers (audit sinks, the websocket bridge) can
// reconstruct traces without the bus holding any trace state itself.
func (b *Bus) StartSpan(ctx context.Context, correlationID, name, parentID string) (Span, func(outcome string)) {
	span := Span{
		ID:       uuid.New().String(),
		Name:     name,
		Start:    time.Now(),
		ParentID: parentID,
	}
	b.Emit(ctx, "span.start", span, correlationID)

	return span, func(outcome string) {
		span.End = time.Now()
		span.Outcome = outcome
		b.Emit(ctx, "span.end", span, correlationID)
	}
}
