// Package audit implements C14: a non-blocking audit log surface fronting
// a caller-supplied Sink, grounded on the teacher's buffered-channel +
// background-worker idiom (core/event.Processor's queue/Start/Run split)
// adapted so that the caller-facing Log call never blocks and never
// propagates a sink failure — only the health channel observes it.
package audit

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/gifton/pipelinekit/core/logger"
	"github.com/gifton/pipelinekit/core/pipelinectx"
)

// Event is one audit record. Trace/session identity is filled in from the
// invocation's pipelinectx.Store when one is supplied to Log, matching
// spec §4.14's "trace context flows implicitly" requirement without an
// actual implicit/thread-local mechanism (Go has none; the Store is the
// explicit equivalent already threaded through every pipeline call).
type Event struct {
	EventType string
	Timestamp time.Time
	Metadata  map[string]any

	TraceID   string
	SpanID    string
	UserID    string
	SessionID string
}

// Sink is the single-method audit destination from spec §6. Log must not
// block the caller for long and must not panic; internal spooling,
// retrying, or dropping is the sink's own business. A returned error is
// surfaced to the Logger's health channel as SinkFailure but never to the
// original Log caller.
type Sink interface {
	Log(ctx context.Context, event Event) error
}

// HealthKind tags a HealthEvent.
type HealthKind string

const (
	HealthDropped      HealthKind = "dropped"
	HealthBackpressure HealthKind = "backpressure"
	HealthSinkFailure  HealthKind = "sinkFailure"
	HealthRecovered    HealthKind = "recovered"
)

// HealthEvent reports the Logger's internal health; consumers observe
// this channel for alerting, never from the Log call path.
type HealthEvent struct {
	Kind       HealthKind
	Count      int64
	QueueDepth int
	Err        error
	At         time.Time
}

// Config configures a Logger.
type Config struct {
	QueueDepth int
	Logger     *slog.Logger
}

// Logger is the C14 AuditLogger. It owns a bounded queue and a single
// worker goroutine (started via Run) that drains it into Sink.
type Logger struct {
	sink   Sink
	queue  chan Event
	health chan HealthEvent
	logger *slog.Logger

	dropped           atomic.Int64
	consecutiveErrors atomic.Int64
}

// New constructs a Logger over sink with a bounded queue of queueDepth
// events (default 256).
func New(sink Sink, cfg Config) *Logger {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Logger{
		sink:   sink,
		queue:  make(chan Event, depth),
		health: make(chan HealthEvent, 16),
		logger: logger,
	}
}

// Health returns the read side of the logger's health event stream.
func (l *Logger) Health() <-chan HealthEvent { return l.health }

// Log enriches eventType/metadata with trace context from pctx (if
// non-nil) and enqueues it. Never blocks: a full queue drops the event
// and reports HealthDropped instead; a successful enqueue that leaves the
// queue more than half full reports HealthBackpressure.
func (l *Logger) Log(ctx context.Context, pctx *pipelinectx.Store, eventType string, metadata map[string]any) {
	evt := Event{
		EventType: eventType,
		Timestamp: time.Now(),
		Metadata:  maps.Clone(metadata),
	}
	if pctx != nil {
		evt.TraceID = pctx.CorrelationID
		evt.UserID = pctx.UserID
		evt.SessionID = pctx.RequestID
	}

	select {
	case l.queue <- evt:
		if len(l.queue) > cap(l.queue)/2 {
			l.publishHealth(HealthEvent{Kind: HealthBackpressure, QueueDepth: len(l.queue), At: time.Now()})
		}
	default:
		dropped := l.dropped.Add(1)
		l.publishHealth(HealthEvent{Kind: HealthDropped, Count: dropped, QueueDepth: len(l.queue), At: time.Now()})
	}
}

func (l *Logger) publishHealth(evt HealthEvent) {
	select {
	case l.health <- evt:
	default:
		// health stream itself is non-blocking and best-effort; an
		// overwhelmed consumer sees gaps, not a stalled audit path.
	}
}

// Run starts the single drain worker; it blocks until ctx is cancelled,
// after which it drains any remaining buffered events on a best-effort
// basis before returning.
func (l *Logger) Run(ctx context.Context) func() error {
	return func() error {
		for {
			select {
			case <-ctx.Done():
				l.drainRemaining()
				return nil
			case evt := <-l.queue:
				l.deliver(ctx, evt)
			}
		}
	}
}

func (l *Logger) drainRemaining() {
	for {
		select {
		case evt := <-l.queue:
			l.deliver(context.Background(), evt)
		default:
			return
		}
	}
}

func (l *Logger) deliver(ctx context.Context, evt Event) {
	err := l.sink.Log(ctx, evt)
	if err != nil {
		n := l.consecutiveErrors.Add(1)
		l.logger.ErrorContext(ctx, "audit sink failed", logger.Error(err), logger.Count("consecutiveErrors", int(n)))
		l.publishHealth(HealthEvent{Kind: HealthSinkFailure, Count: n, Err: err, At: time.Now()})
		return
	}
	if l.consecutiveErrors.Swap(0) > 0 {
		l.publishHealth(HealthEvent{Kind: HealthRecovered, At: time.Now()})
	}
}
