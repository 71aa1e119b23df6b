// Package postgres adapts jackc/pgx/v5 into a durable, cross-process
// idempotency.Store, grounded on the teacher's integration/database/pg
// Config/Connect idiom (a pgxpool.Pool with fixed-interval retry on the
// initial connection, pool sizing via env-mapped Config) and its
// WithTx/TxFromContext context helpers, carried over unchanged since the
// dedup/cache layers never need transactional participation but a future
// caller wiring idempotency into a larger DB transaction will.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gifton/pipelinekit/core/idempotency"
)

// Config mirrors the teacher's pg.Config field set and env mapping.
type Config struct {
	ConnectionString string        `env:"PG_CONN_URL,required"`
	MaxOpenConns     int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns     int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	MaxConnIdleTime  time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime  time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
	RetryAttempts    int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval    time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
}

var ErrEmptyConnectionString = errors.New("empty postgres connection string")

// Connect builds a pgxpool.Pool from cfg, retrying the initial Ping up to
// cfg.RetryAttempts times with a fixed interval between attempts.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = cfg.MaxIdleConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var pool *pgxpool.Pool
	var lastErr error
	for i := 0; i < attempts; i++ {
		pool, lastErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if lastErr == nil {
			if lastErr = pool.Ping(ctx); lastErr == nil {
				return pool, nil
			}
			pool.Close()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("postgres: failed to connect after %d attempts: %w", attempts, lastErr)
}

// Healthcheck returns a function suitable for readiness probes.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: healthcheck failed: %w", err)
		}
		return nil
	}
}

type txContextKey struct{}

// WithTx attaches tx to ctx so downstream idempotency.Store calls (or any
// other repository) can participate in the same transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext extracts a pgx.Tx previously attached with WithTx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore is a Postgres-backed idempotency.Store using an
// upsert-on-conflict table as the cross-process rendezvous point for
// IdempotencyCoordinator's poll protocol.
type IdempotencyStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewIdempotencyStore wraps pool. tableName defaults to
// "idempotency_records".
func NewIdempotencyStore(pool *pgxpool.Pool, tableName string) *IdempotencyStore {
	if tableName == "" {
		tableName = "idempotency_records"
	}
	return &IdempotencyStore{pool: pool, tableName: tableName}
}

func (s *IdempotencyStore) db(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	query := fmt.Sprintf(`SELECT key, status, value, err_desc, created_at, expires_at FROM %s WHERE key = $1`, s.tableName)
	row := s.db(ctx).QueryRow(ctx, query, key)

	var (
		rec       idempotency.Record
		status    int
		value     []byte
		createdAt time.Time
		expiresAt *time.Time
	)
	if err := row.Scan(&rec.Key, &status, &value, &rec.ErrDesc, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, fmt.Errorf("postgres idempotency: get: %w", err)
	}
	rec.Status = idempotency.Status(status)
	rec.CreatedAt = createdAt
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
		if time.Now().After(*expiresAt) {
			return idempotency.Record{}, false, nil
		}
	}
	if len(value) > 0 {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return idempotency.Record{}, false, fmt.Errorf("postgres idempotency: decode value: %w", err)
		}
		rec.Value = v
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Set(ctx context.Context, key string, rec idempotency.Record) error {
	var raw []byte
	if rec.Value != nil {
		v, err := json.Marshal(rec.Value)
		if err != nil {
			return fmt.Errorf("postgres idempotency: encode value: %w", err)
		}
		raw = v
	}
	var expiresAt *time.Time
	if !rec.ExpiresAt.IsZero() {
		expiresAt = &rec.ExpiresAt
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, status, value, err_desc, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			status = EXCLUDED.status, value = EXCLUDED.value,
			err_desc = EXCLUDED.err_desc, expires_at = EXCLUDED.expires_at
	`, s.tableName)
	_, err := s.db(ctx).Exec(ctx, query, key, int(rec.Status), raw, rec.ErrDesc, rec.CreatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres idempotency: set: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Remove(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.tableName)
	_, err := s.db(ctx).Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("postgres idempotency: remove: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) CleanupExpired(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < now()`, s.tableName)
	_, err := s.db(ctx).Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("postgres idempotency: cleanup: %w", err)
	}
	return nil
}
