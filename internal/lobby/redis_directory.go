// internal/lobby/redis_directory.go
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix = "lobby:room:"
	roomIndexKey  = "lobby:rooms"
)

// RedisDirectory stores each listing as a JSON value with a TTL under
// lobby:room:<id>, plus an index set of room ids. Index members whose value
// has expired are pruned on List.
type RedisDirectory struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisDirectory returns a Directory backed by rdb. ttl <= 0 selects
// DefaultRoomTTL.
func NewRedisDirectory(rdb redis.Cmdable, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	return &RedisDirectory{rdb: rdb, ttl: ttl}
}

func roomKey(id uuid.UUID) string { return roomKeyPrefix + id.String() }

// Put writes a listing and refreshes its TTL.
func (d *RedisDirectory) Put(ctx context.Context, l Listing) error {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}
	_, err = d.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, roomKey(l.Room.ID), data, d.ttl)
		p.SAdd(ctx, roomIndexKey, l.Room.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store listing %s: %w", l.Room.ID, err)
	}
	return nil
}

// Get returns a live listing.
func (d *RedisDirectory) Get(ctx context.Context, id uuid.UUID) (Listing, error) {
	data, err := d.rdb.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Listing{}, ErrRoomNotFound
	}
	if err != nil {
		return Listing{}, fmt.Errorf("failed to read listing %s: %w", id, err)
	}
	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return Listing{}, fmt.Errorf("failed to decode listing %s: %w", id, err)
	}
	return l, nil
}

// Delete removes a listing.
func (d *RedisDirectory) Delete(ctx context.Context, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := d.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, roomKey(id))
		p.SRem(ctx, roomIndexKey, id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// List returns all live listings ordered by room name.
func (d *RedisDirectory) List(ctx context.Context) ([]Listing, error) {
	ids, err := d.rdb.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room index: %w", err)
	}
	if len(ids) == 0 {
		return []Listing{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKeyPrefix + id
	}
	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read listings: %w", err)
	}

	out := make([]Listing, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var l Listing
		if err := json.Unmarshal([]byte(s), &l); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, l)
	}
	if len(stale) > 0 {
		if err := d.rdb.SRem(ctx, roomIndexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune room index: %w", err)
		}
	}
	sortListings(out)
	return out, nil
}
