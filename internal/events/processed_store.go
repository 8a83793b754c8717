package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ProcessedStore records provider webhook events that were already handled.
// Postgres is the source of truth; Redis is a read-through fast path so the
// common duplicate-delivery case skips a database round trip.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ProcessedStore struct {
	pool  rowQuerier
	redis redis.Cmdable
	ttl   time.Duration
}

func NewProcessedStore(pool *pgxpool.Pool, rdb redis.Cmdable) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool, redis: rdb, ttl: 24 * time.Hour}
}

func newProcessedStoreWithExec(exec rowQuerier, rdb redis.Cmdable) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec, redis: rdb, ttl: 24 * time.Hour}
}

func processedKey(provider, eventID string) string {
	return fmt.Sprintf("processed:%s:%s", provider, eventID)
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if s.redis != nil {
		if n, err := s.redis.Exists(ctx, processedKey(provider, eventID)).Result(); err == nil && n > 0 {
			return true, nil
		}
	}
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it
// already exists. The insert-on-conflict form stays correct under concurrent
// duplicate delivery.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	if s.redis != nil {
		// Cache failures are invisible; Postgres still answers correctly.
		_ = s.redis.Set(ctx, processedKey(provider, eventID), "1", s.ttl).Err()
	}
	return ct.RowsAffected() > 0, nil
}
