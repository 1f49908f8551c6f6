package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunQueue hands run IDs to the engine's worker pool. Only IDs travel
// through the queue; workers always load fresh run state from the store
// before touching a step.
type RunQueue interface {
	Enqueue(ctx context.Context, runID uuid.UUID) error
	// Dequeue blocks until a run is available or ctx is done.
	Dequeue(ctx context.Context) (uuid.UUID, error)
	Close() error
}

const dequeueBlock = 5 * time.Second

type RedisQueue struct {
	client redis.UniversalClient
	key    string
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, runID uuid.UUID) error {
	return q.client.LPush(ctx, q.key, runID.String()).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		result, err := q.client.BRPop(ctx, dequeueBlock, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return uuid.Nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return uuid.Nil, err
		}
		// BRPop returns [key, value].
		if len(result) != 2 {
			continue
		}
		runID, err := uuid.Parse(result[1])
		if err != nil {
			continue
		}
		return runID, nil
	}
}

func (q *RedisQueue) Close() error {
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// MemoryQueue is a channel-backed queue for single-process deployments
// and tests.
type MemoryQueue struct {
	ch chan uuid.UUID
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ch: make(chan uuid.UUID, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, runID uuid.UUID) error {
	select {
	case q.ch <- runID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case runID := <-q.ch:
		return runID, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	return nil
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
