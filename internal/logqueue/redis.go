package logqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ledgergate/ledgergate/internal/domain"
)

const defaultRedisKey = "ledgergate:logs"

// RedisQueue is the default production backend: a Redis list written with
// LPUSH and drained with RPOP, so records come out in arrival order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, record domain.LogRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush log record: %w", err)
	}
	return nil
}

func (q *RedisQueue) DequeueBatch(ctx context.Context, max int) ([]domain.LogRecord, error) {
	payloads, err := q.client.RPopCount(ctx, q.key, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rpop log records: %w", err)
	}

	records := make([]domain.LogRecord, 0, len(payloads))
	for _, p := range payloads {
		var r domain.LogRecord
		if err := json.Unmarshal([]byte(p), &r); err != nil {
			// A malformed payload is dropped rather than wedging the queue.
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
