// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/room"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for room action logs.
const DefaultQueueName = "tambola_actions"

// ChannelPrefix namespaces bus topics on the Redis pub/sub channels.
const ChannelPrefix = "tambola:"

// ConnectRedis opens a client for addr and db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
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

// Envelope is the message format on every bus channel.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Bus publishes room events on Redis pub/sub so other processes can observe them.
type Bus struct {
	Rdb *redis.Client
}

// Publish sends event to the channel for topic.
func (b *Bus) Publish(ctx context.Context, topic room.Topic, event string, payload any) error {
	data, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	if err := b.Rdb.Publish(ctx, ChannelPrefix+string(topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", topic, err)
	}
	return nil
}

// ActionQueue carries room action records to the historian over a Redis list.
type ActionQueue struct {
	Rdb   *redis.Client
	Queue string
}

func (q *ActionQueue) name() string {
	if q.Queue == "" {
		return DefaultQueueName
	}
	return q.Queue
}

// LogAction serializes the record to JSON, then pushes it to the Redis queue.
func (q *ActionQueue) LogAction(ctx context.Context, rec models.ActionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := q.Rdb.RPush(ctx, q.name(), data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name(), err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. ok is false when the wait timed out.
func (q *ActionQueue) Pop(ctx context.Context, timeout time.Duration) (rec models.ActionRecord, ok bool, err error) {
	res, err := q.Rdb.BLPop(ctx, timeout, q.name()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("BLPop: %w", err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return rec, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return rec, false, fmt.Errorf("invalid action record: %w", err)
	}
	return rec, true, nil
}
