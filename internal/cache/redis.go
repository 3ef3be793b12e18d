// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/netplay/internal/moderation"
	"github.com/redis/go-redis/v9"
)

// DefaultAuditQueue is the Redis list moderation records are pushed to.
const DefaultAuditQueue = "netplay_moderation"

// Config holds Redis connection settings.
type Config struct {
	Addr string
	DB   int
}

// ConnectRedis opens a client and pings it.
func ConnectRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// AuditQueue pushes moderation records onto a Redis list for an external
// consumer.
type AuditQueue struct {
	rdb   redis.Cmdable
	queue string
}

// NewAuditQueue returns an AuditQueue on queue, DefaultAuditQueue if empty.
func NewAuditQueue(rdb redis.Cmdable, queue string) *AuditQueue {
	if queue == "" {
		queue = DefaultAuditQueue
	}
	return &AuditQueue{rdb: rdb, queue: queue}
}

// Record serializes rec to JSON and appends it to the queue.
func (q *AuditQueue) Record(ctx context.Context, rec moderation.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal moderation record: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}
