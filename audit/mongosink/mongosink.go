// Package mongosink adapts go.mongodb.org/mongo-driver/v2 into an
// audit.Sink that inserts one document per event, grounded on the
// teacher's integration/database/mongo Config/New idiom (a connection URL
// with a bounded number of retries to absorb MongoDB Atlas cold starts).
package mongosink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gifton/pipelinekit/core/audit"
)

// Config mirrors the teacher's mongo.Config env-mapped field set.
type Config struct {
	URL            string        `env:"MONGODB_URL,required"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
	RetryAttempts  int           `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`
	Database       string
	Collection     string
}

// Connect establishes a *mongo.Client, retrying the initial Ping to
// absorb Atlas cold starts.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("mongosink: connect: %w", err)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = client.Ping(pingCtx, nil)
		cancel()
		if lastErr == nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("mongosink: failed to connect after %d attempts: %w", attempts, lastErr)
}

// document is the BSON projection of an audit.Event.
type document struct {
	EventType string         `bson:"eventType"`
	Timestamp time.Time      `bson:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	TraceID   string         `bson:"traceId,omitempty"`
	SpanID    string         `bson:"spanId,omitempty"`
	UserID    string         `bson:"userId,omitempty"`
	SessionID string         `bson:"sessionId,omitempty"`
}

// Inserter is the narrow slice of *mongo.Collection this sink needs,
// kept as an interface so tests can inject a fake instead of requiring a
// live mongod.
type Inserter interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

// Sink inserts each audit event as a document in one collection.
type Sink struct {
	collection Inserter
}

// New wraps an existing collection handle. Callers obtain it via
// client.Database(cfg.Database).Collection(cfg.Collection) after Connect.
func New(collection Inserter) *Sink {
	return &Sink{collection: collection}
}

// Log implements audit.Sink.
func (s *Sink) Log(ctx context.Context, evt audit.Event) error {
	doc := document{
		EventType: evt.EventType,
		Timestamp: evt.Timestamp,
		Metadata:  evt.Metadata,
		TraceID:   evt.TraceID,
		SpanID:    evt.SpanID,
		UserID:    evt.UserID,
		SessionID: evt.SessionID,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongosink: insert: %w", err)
	}
	return nil
}
