// Package eventbus implements C2: fire-and-forget pub/sub with weak
// subscriber references and periodic reaping, grounded on the teacher's
// core/event package (Event/Publisher/Processor) but reshaped around the
// spec's weak-subscription contract instead of a channel transport.
//
// Subscribers are never kept alive by the bus: Subscribe stores a
// weak.Pointer[T] (Go 1.24's true weak reference), so a subscriber that
// becomes otherwise unreachable is collected normally and is pruned from
// the bus by a background reaper rather than by manual unsubscription.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/sync/errgroup"

	"github.com/gifton/pipelinekit/core/logger"
)

// Event is a single fire-and-forget notification. Seq is drawn from a
// monotonic, per-process atomic counter (relaxed ordering: monotonic per
// process, not globally ordered between racing emitters, per spec §4.2).
type Event struct {
	Name          string
	Payload       any
	CorrelationID string
	Seq           uint64
	EmittedAt     time.Time
}

// Handler processes a single delivered Event.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// Stats exposes bus-level observability counters.
type Stats struct {
	Emitted         int64
	Delivered       int64
	HandlerFailures int64
	Reaped          int64
	SubscriberCount int
}

// Subscription is the handle returned by Subscribe; callers may Unsubscribe
// explicitly, but letting the subscriber itself become unreachable and
// relying on the reaper is equally correct and is the documented idiom.
type Subscription struct {
	id       uint64
	bus      *Bus
	deliverMu sync.Mutex
	check    func() (Handler, bool)
}

// Unsubscribe removes the subscription immediately instead of waiting for
// the next reap cycle.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
}

// Bus is the C2 EventBus: emit is synchronous (returns once the fan-out
// task has been spawned), delivery is asynchronous.
type Bus struct {
	mu    sync.Mutex
	subs  map[uint64]*Subscription
	seq   atomic.Uint64
	nextSubID atomic.Uint64
	logger *slog.Logger

	cleanupInterval time.Duration
	stopOnce        sync.Once
	stopCh          chan struct{}
	reaperDone      chan struct{}

	emitted, delivered, failures, reaped atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithCleanupInterval sets the reaper's sweep period. Default 30s.
func WithCleanupInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.cleanupInterval = d
		}
	}
}

// WithLogger attaches structured logging for emit/delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bus and starts its background reaper goroutine. Call Close
// to stop the reaper.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:            make(map[uint64]*Subscription),
		cleanupInterval: 30 * time.Second,
		logger:          slog.New(slog.DiscardHandler),
		stopCh:          make(chan struct{}),
		reaperDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.reapLoop()
	return b
}

// Close stops the reaper goroutine. It does not wait for in-flight
// deliveries to finish; fan-out tasks are fire-and-forget by contract.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.reaperDone
	})
}

// Subscribe registers subscriber for delivery via a weak reference. T must
// implement Handler through a pointer receiver (PT = *T); the common usage
// is eventbus.Subscribe(bus, myHandler) where myHandler is *MyHandler.
func Subscribe[T any, PT interface {
	*T
	Handler
}](bus *Bus, subscriber PT) *Subscription {
	wp := weak.Make((*T)(subscriber))
	sub := &Subscription{
		id:  bus.nextSubID.Add(1),
		bus: bus,
		check: func() (Handler, bool) {
			p := wp.Value()
			if p == nil {
				return nil, false
			}
			return PT(p), true
		},
	}
	bus.mu.Lock()
	bus.subs[sub.id] = sub
	bus.mu.Unlock()
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// SubscriberCount returns the number of subscriptions believed live as of
// the last reap or emit snapshot, whichever is more recent.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// snapshot returns the currently-live subscriptions, pruning any whose weak
// reference has already been collected.
func (b *Bus) snapshot() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		if _, ok := sub.check(); ok {
			live = append(live, sub)
		} else {
			delete(b.subs, id)
			b.reaped.Add(1)
		}
	}
	return live
}

// Emit publishes event synchronously (assigning its sequence number and
// spawning the fan-out task before returning) but delivers asynchronously:
// a single background goroutine snapshots live subscribers and fans out
// concurrently via errgroup, one goroutine per subscriber. Delivery order
// between subscribers is unspecified; per-subscriber delivery is
// serialized by that subscription's own mutex so that concurrent Emit
// calls do not interleave deliveries to the same handler.
func (b *Bus) Emit(ctx context.Context, name string, payload any, correlationID string) {
	evt := Event{
		Name:          name,
		Payload:       payload,
		CorrelationID: correlationID,
		Seq:           b.seq.Add(1),
		EmittedAt:     time.Now(),
	}
	b.emitted.Add(1)

	go func() {
		subs := b.snapshot()
		g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
		for _, sub := range subs {
			sub := sub
			g.Go(func() error {
				handler, ok := sub.check()
				if !ok {
					return nil
				}
				sub.deliverMu.Lock()
				defer sub.deliverMu.Unlock()
				if err := handler.Handle(gctx, evt); err != nil {
					b.failures.Add(1)
					b.logger.ErrorContext(gctx, "event handler failed",
						logger.Event(evt.Name),
						logger.Error(err))
					return nil // failures are reported, not propagated (§4.2)
				}
				b.delivered.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// ContextEmitter adapts a Bus (plus a fixed correlation id) to
// pipelinectx.EventEmitter, letting middleware call store.Emit(name,
// payload) without threading a context.Context or correlation id through
// every call site.
type ContextEmitter struct {
	Bus           *Bus
	Ctx           context.Context
	CorrelationID string
}

// Emit implements pipelinectx.EventEmitter.
func (e ContextEmitter) Emit(name string, payload any) {
	ctx := e.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	e.Bus.Emit(ctx, name, payload, e.CorrelationID)
}

func (b *Bus) reapLoop() {
	defer close(b.reaperDone)
	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.snapshot()
		}
	}
}

// Stats returns current bus-level counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Emitted:         b.emitted.Load(),
		Delivered:       b.delivered.Load(),
		HandlerFailures: b.failures.Load(),
		Reaped:          b.reaped.Load(),
		SubscriberCount: b.SubscriberCount(),
	}
}
