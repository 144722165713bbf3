// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the historian drains.
const DefaultQueueName = "room_actions"

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ActionQueue is a Redis list of applied room actions.
type ActionQueue struct {
	rdb  redis.Cmdable
	name string
}

// NewActionQueue uses the list called name (DefaultQueueName if empty).
func NewActionQueue(rdb redis.Cmdable, name string) *ActionQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &ActionQueue{rdb: rdb, name: name}
}

// Name returns the list key.
func (q *ActionQueue) Name() string { return q.name }

// PublishRoomAction serializes the action and appends it to the queue.
func (q *ActionQueue) PublishRoomAction(ctx context.Context, action models.RoomAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal RoomAction: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the next action. It returns (nil, nil) when
// the wait expires with nothing queued.
func (q *ActionQueue) Pop(ctx context.Context, timeout time.Duration) (*models.RoomAction, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", q.name, err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	var action models.RoomAction
	if err := json.Unmarshal([]byte(res[1]), &action); err != nil {
		return nil, fmt.Errorf("invalid action record: %w", err)
	}
	return &action, nil
}
