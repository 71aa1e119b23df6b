// Package adaptive implements C8: periodic re-sizing of a concurrency
// limit from latency/CPU/memory signals, grounded on the teacher's
// single-threaded-loop idiom (core/command.Dispatcher.Start's select loop)
// adapted to a ticker-driven adjustment cycle instead of a channel read
// loop.
package adaptive

import (
	"context"
	"sync"
	"time"

	"github.com/gifton/pipelinekit/core/metricsring"
)

// LimitSink receives capacity updates. backpressure.Semaphore.UpdateLimit
// satisfies this.
type LimitSink interface {
	UpdateLimit(maxConcurrency int)
}

// Signals is the resource/latency snapshot fed to the controller on each
// adjustment tick. CPU and MemPressure are expected in [0,1].
type Signals struct {
	CPU         float64
	MemPressure float64
}

// SignalSource is polled once per adjustInterval.
type SignalSource func() Signals

// Config bounds and paces the controller.
type Config struct {
	Min, Max           int
	TargetCPU          float64
	TargetMemPressure  float64
	AdjustInterval     time.Duration
	Aggressiveness     float64 // 0..1
}

// Controller is the C8 AdaptiveController. Per spec §9 Open Questions item
// 3, the throughput ring is maintained but intentionally not read by the
// decision rule; it is informational only.
type Controller struct {
	cfg    Config
	sink   LimitSink
	source SignalSource

	mu           sync.Mutex
	currentLimit int
	latencies    *metricsring.Ring
	throughput   *metricsring.Ring
}

// New creates a Controller seeded at startLimit.
func New(cfg Config, startLimit int, sink LimitSink, source SignalSource) *Controller {
	if cfg.AdjustInterval <= 0 {
		cfg.AdjustInterval = time.Second
	}
	if startLimit < cfg.Min {
		startLimit = cfg.Min
	}
	if cfg.Max > 0 && startLimit > cfg.Max {
		startLimit = cfg.Max
	}
	return &Controller{
		cfg:          cfg,
		sink:         sink,
		source:       source,
		currentLimit: startLimit,
		latencies:    metricsring.New(100),
		throughput:   metricsring.New(20),
	}
}

// ObserveLatency feeds a completed request's latency into the ring used by
// the p99/p50 ratio signal.
func (c *Controller) ObserveLatency(d time.Duration) {
	c.latencies.Append(float64(d))
}

// ObserveThroughput records a completion-rate sample. Kept for parity with
// the legacy ring (and for external observability) but, per the
// unresolved Open Question, is not consulted by Adjust.
func (c *Controller) ObserveThroughput(samplesPerInterval float64) {
	c.throughput.Append(samplesPerInterval)
}

// CurrentLimit returns the controller's current capacity decision.
func (c *Controller) CurrentLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLimit
}

// Adjust runs one decision cycle: compute an adjustment in [-1,+1] from the
// current signals and latency ratio, scale by Aggressiveness, apply
// multiplicatively to currentLimit, clamp to [Min,Max], and push the
// result to sink if it changed.
func (c *Controller) Adjust() {
	signals := c.source()

	var adj float64
	if signals.CPU < c.cfg.TargetCPU-0.1 {
		adj += 0.1
	} else if signals.CPU > c.cfg.TargetCPU+0.1 {
		adj -= 0.1
	}
	if signals.MemPressure > c.cfg.TargetMemPressure {
		adj -= 0.2
	}
	if ratio, ok := c.latencyRatio(); ok && ratio > 10 {
		adj -= 0.15
	}

	adj *= c.cfg.Aggressiveness

	c.mu.Lock()
	newLimit := int(float64(c.currentLimit) * (1 + adj))
	if newLimit < c.cfg.Min {
		newLimit = c.cfg.Min
	}
	if c.cfg.Max > 0 && newLimit > c.cfg.Max {
		newLimit = c.cfg.Max
	}
	if newLimit == c.currentLimit {
		c.mu.Unlock()
		return
	}
	c.currentLimit = newLimit
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.UpdateLimit(newLimit)
	}
}

func (c *Controller) latencyRatio() (float64, bool) {
	if c.latencies.Count() < 2 {
		return 0, false
	}
	p50 := c.latencies.Percentile(0.5)
	p99 := c.latencies.Percentile(0.99)
	if p50 <= 0 {
		return 0, false
	}
	return p99 / p50, true
}

// Run starts the adjustment loop; it blocks until ctx is cancelled,
// matching the teacher's Start(ctx)/Run(ctx) errgroup-compatible
// lifecycle convention.
func (c *Controller) Run(ctx context.Context) func() error {
	return func() error {
		ticker := time.NewTicker(c.cfg.AdjustInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				c.Adjust()
			}
		}
	}
}
