// Package mongo adapts go.mongodb.org/mongo-driver/v2 into a dedup.Store,
// grounded on the teacher's integration/database/mongo Config/Connect
// retry idiom (absorbing MongoDB Atlas cold starts). Expiry reclamation
// is delegated to a TTL index on completedAt rather than a local sweep
// goroutine, so a fleet of processes sharing one collection agree on
// expiry without coordinating among themselves.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Config mirrors the teacher's mongo.Config env-mapped field set.
type Config struct {
	URL            string        `env:"MONGODB_URL,required"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
	RetryAttempts  int           `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`
}

var ErrFailedToConnect = errors.New("failed to connect to mongodb")

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
		return nil, fmt.Errorf("mongo: connect: %w", err)
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
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrFailedToConnect, attempts, lastErr)
}

// Healthcheck returns a function suitable for readiness probes.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongo: healthcheck failed: %w", err)
		}
		return nil
	}
}

// dedupDocument is the BSON projection of one dedup.Store entry.
type dedupDocument struct {
	Fingerprint string    `bson:"_id"`
	Value       []byte    `bson:"value"`
	CompletedAt time.Time `bson:"completedAt"`
}

// DedupStore is a MongoDB-backed dedup.Store. Expiry is enforced by a TTL
// index on completedAt (see EnsureIndexes) rather than by Sweep, which is
// a no-op left only to satisfy the dedup.Store interface: MongoDB's own
// background TTL monitor reclaims expired documents on its own schedule.
type DedupStore struct {
	collection *mongo.Collection
}

// NewDedupStore wraps an existing collection handle. Callers obtain it
// via client.Database(name).Collection(name) after Connect.
func NewDedupStore(collection *mongo.Collection) *DedupStore {
	return &DedupStore{collection: collection}
}

// EnsureIndexes creates the TTL index that reclaims entries once they are
// older than window. Call once at startup; safe to call repeatedly.
func (s *DedupStore) EnsureIndexes(ctx context.Context, window time.Duration) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "completedAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(window.Seconds())),
	})
	if err != nil {
		return fmt.Errorf("mongo dedup: ensure ttl index: %w", err)
	}
	return nil
}

func (s *DedupStore) Get(ctx context.Context, fingerprint string) ([]byte, time.Time, bool, error) {
	var doc dedupDocument
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: fingerprint}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("mongo dedup: get: %w", err)
	}
	return doc.Value, doc.CompletedAt, true, nil
}

func (s *DedupStore) Set(ctx context.Context, fingerprint string, value []byte, completedAt time.Time) error {
	_, err := s.collection.ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: fingerprint}},
		dedupDocument{Fingerprint: fingerprint, Value: value, CompletedAt: completedAt},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo dedup: set: %w", err)
	}
	return nil
}

func (s *DedupStore) Remove(ctx context.Context, fingerprint string) error {
	_, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: fingerprint}})
	if err != nil {
		return fmt.Errorf("mongo dedup: remove: %w", err)
	}
	return nil
}

// Sweep is a no-op: expiry reclamation is delegated to the TTL index
// created by EnsureIndexes.
func (s *DedupStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
