package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/redis/go-redis/v9"
)

const roomKeyPrefix = "room:"

// RoomCache keeps room snapshots in Redis in front of an optional durable
// store. Writes go to both; reads fall back to the store and refill the cache.
type RoomCache struct {
	rdb  redis.Cmdable
	next game.Persister
	ttl  time.Duration
}

// NewRoomCache builds a cache with the given TTL. next may be nil.
func NewRoomCache(rdb redis.Cmdable, next game.Persister, ttl time.Duration) *RoomCache {
	return &RoomCache{rdb: rdb, next: next, ttl: ttl}
}

func roomKey(id string) string { return roomKeyPrefix + id }

func (c *RoomCache) LoadRoom(ctx context.Context, id string) (*models.RoomSnapshot, error) {
	raw, err := c.rdb.Get(ctx, roomKey(id)).Bytes()
	switch {
	case err == nil:
		var snap models.RoomSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, nil
		}
		// unreadable entry: treat as a miss
	case !errors.Is(err, redis.Nil):
		if c.next == nil {
			return nil, fmt.Errorf("cache get room %s: %w", id, err)
		}
	}

	if c.next == nil {
		return nil, nil
	}
	snap, err := c.next.LoadRoom(ctx, id)
	if err != nil || snap == nil {
		return snap, err
	}
	_ = c.put(ctx, *snap)
	return snap, nil
}

func (c *RoomCache) SaveRoom(ctx context.Context, snap models.RoomSnapshot) error {
	if c.next != nil {
		if err := c.next.SaveRoom(ctx, snap); err != nil {
			return err
		}
	}
	return c.put(ctx, snap)
}

func (c *RoomCache) DeleteRoom(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, roomKey(id)).Err(); err != nil {
		return fmt.Errorf("cache delete room %s: %w", id, err)
	}
	if c.next != nil {
		return c.next.DeleteRoom(ctx, id)
	}
	return nil
}

func (c *RoomCache) put(ctx context.Context, snap models.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", snap.ID, err)
	}
	if err := c.rdb.Set(ctx, roomKey(snap.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set room %s: %w", snap.ID, err)
	}
	return nil
}
