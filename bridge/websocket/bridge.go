// Package websocket bridges the EventBus onto gorilla/websocket
// connections: every event delivered to the Bridge is fanned out as a
// JSON frame to each connected client, grounded on the teacher's
// core/response WebSocket upgrade/write-pump idiom.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gifton/pipelinekit/core/eventbus"
	"github.com/gifton/pipelinekit/pkg/async"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// client is one connected websocket subscriber. writeDone is the future
// for its write pump, awaited by Shutdown so a graceful shutdown can wait
// for in-flight writes to drain instead of severing connections cold.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	writeDone *async.ExecFuture
}

// Bridge is an eventbus.Handler that rebroadcasts every delivered Event to
// all currently connected websocket clients. A slow or disconnected
// client never blocks delivery to the others: its send channel is
// best-effort, and a frame that finds it full is dropped for that client,
// which stays connected.
type Bridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	logger *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithOriginCheck overrides the upgrader's CheckOrigin, which defaults to
// rejecting all cross-origin upgrades.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(b *Bridge) { b.upgrader.CheckOrigin = fn }
}

// WithLogger attaches structured logging for upgrade and write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bridge. Callers subscribe it to a Bus with
// eventbus.Subscribe(bus, bridge).
func New(opts ...Option) *Bridge {
	b := &Bridge{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*client]struct{}),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request to a websocket connection and registers
// it as a broadcast target until the connection closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.ErrorContext(r.Context(), "bridge: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.writeDone = async.Exec(context.Background(), c, func(ctx context.Context, c *client) error {
		b.writePump(c)
		return nil
	})

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	b.readPump(c)
}

// readPump discards incoming messages; this bridge is a one-way
// event-to-client broadcaster. It exists solely to detect disconnects via
// ReadMessage's error return.
func (b *Bridge) readPump(c *client) {
	defer b.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Bridge) writePump(c *client) {
	defer func() {
		_ = c.conn.Close()
	}()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (b *Bridge) remove(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// wireEvent is the JSON frame shape sent to clients.
type wireEvent struct {
	Name          string `json:"name"`
	Payload       any    `json:"payload,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Seq           uint64 `json:"seq"`
	EmittedAt     int64  `json:"emittedAtUnixMilli"`
}

// Handle implements eventbus.Handler: it marshals evt once and fans it out
// to every connected client without blocking on any single one.
func (b *Bridge) Handle(ctx context.Context, evt eventbus.Event) error {
	data, err := json.Marshal(wireEvent{
		Name:          evt.Name,
		Payload:       evt.Payload,
		CorrelationID: evt.CorrelationID,
		Seq:           evt.Seq,
		EmittedAt:     evt.EmittedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.logger.WarnContext(ctx, "bridge: dropping frame for slow client")
		}
	}
	return nil
}

// ClientCount reports the number of currently connected clients.
func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Shutdown closes every client's send channel so its write pump drains
// and exits, then waits up to timeout for all pumps to finish. Clients
// still writing when timeout elapses are left to close on their own;
// Shutdown never blocks past timeout.
func (b *Bridge) Shutdown(timeout time.Duration) {
	b.mu.Lock()
	futures := make([]*async.ExecFuture, 0, len(b.clients))
	for c := range b.clients {
		close(c.send)
		futures = append(futures, c.writeDone)
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for _, f := range futures {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		_ = f.AwaitWithTimeout(remaining)
	}
}
