// Package logtransport implements the §6 Metrics transport external
// interface (send, sendBatch, close) by logging each batch via log/slog,
// the one transport the core ships out of the box. UDP transports
// (statsd-style) are explicitly out of scope; operators who need one
// adapt this package's shape against their own client.
package logtransport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Send/SendBatch after Close.
var ErrClosed = errors.New("logtransport: transport closed")

// Transport logs metric payloads through a *slog.Logger instead of
// shipping them over the network: every Send or SendBatch call is one
// structured log line, keyed "payload", or "count" and "payloads".
type Transport struct {
	mu     sync.Mutex
	logger *slog.Logger
	closed bool
}

// New wraps logger. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{logger: logger}
}

// Send logs a single metric payload.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.logger.InfoContext(ctx, "metric", "payload", string(payload))
	return nil
}

// SendBatch logs a slice of metric payloads as one structured line, the
// count recorded alongside so a dashboard can alert on batch size drift.
func (t *Transport) SendBatch(ctx context.Context, payloads [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	rendered := make([]string, len(payloads))
	for i, p := range payloads {
		rendered[i] = string(p)
	}
	t.logger.InfoContext(ctx, "metric.batch", "count", len(payloads), "payloads", rendered)
	return nil
}

// Close marks the transport closed; subsequent Send/SendBatch calls fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

