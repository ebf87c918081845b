package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	alexerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// RedisCoordinator is the production Coordinator, grounded on the
// priority-sorted-set-over-Redis design spec.md §4.2 describes: ZADD/
// ZPOPMIN for the queue, SADD/SREM/SCARD for the active set, SET EX/GET
// for JSON blobs, INCR + EXPIRE NX for rate limiting, SCAN for prefix
// listing.
type RedisCoordinator struct {
	client   *redis.Client
	fallback *FallbackCache
}

// NewRedisCoordinator wraps an already-configured client. fallback may be
// nil to disable fallback-cache reads.
func NewRedisCoordinator(client *redis.Client, fallback *FallbackCache) *RedisCoordinator {
	return &RedisCoordinator{client: client, fallback: fallback}
}

// retryPolicy implements spec.md §4.2's write-retry rule: capped
// exponential backoff, max 3 attempts, 0.5s base doubling to a 5s
// ceiling — the same shape C1's postgres.Store uses.
func retryPolicy(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, 2), ctx)
}

// withRetry retries op while its error is in IsTransient's class; a
// permanent error (or nil) returns immediately.
func (c *RedisCoordinator) withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, retryPolicy(ctx))
}

func (c *RedisCoordinator) Enqueue(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("coordination: marshal job: %w", err)
	}
	return c.withRetry(ctx, func() error {
		return c.client.ZAdd(ctx, queueKey, redis.Z{Score: job.Score(), Member: string(data)}).Err()
	})
}

func (c *RedisCoordinator) Dequeue(ctx context.Context) (model.Job, error) {
	var results []redis.Z
	err := c.withRetry(ctx, func() error {
		var zErr error
		results, zErr = c.client.ZPopMin(ctx, queueKey, 1).Result()
		return zErr
	})
	if err != nil {
		return model.Job{}, fmt.Errorf("coordination: dequeue: %w", err)
	}
	if len(results) == 0 {
		return model.Job{}, ErrEmpty
	}
	member, ok := results[0].Member.(string)
	if !ok {
		return model.Job{}, fmt.Errorf("coordination: dequeue: unexpected member type")
	}
	var job model.Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return model.Job{}, fmt.Errorf("coordination: unmarshal job: %w", err)
	}
	return job, nil
}

func (c *RedisCoordinator) QueueLen(ctx context.Context) (int64, error) {
	n, err := c.client.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("coordination: queue len: %w", err)
	}
	return n, nil
}

func (c *RedisCoordinator) ActiveAdd(ctx context.Context, taskID string) error {
	return c.withRetry(ctx, func() error {
		return c.client.SAdd(ctx, activeSetKey, taskID).Err()
	})
}

func (c *RedisCoordinator) ActiveRemove(ctx context.Context, taskID string) error {
	return c.withRetry(ctx, func() error {
		return c.client.SRem(ctx, activeSetKey, taskID).Err()
	})
}

func (c *RedisCoordinator) ActiveCount(ctx context.Context) (int64, error) {
	n, err := c.client.SCard(ctx, activeSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("coordination: active count: %w", err)
	}
	return n, nil
}

func (c *RedisCoordinator) SetProgress(ctx context.Context, taskID string, snapshot model.ProgressSnapshot, ttl time.Duration) error {
	data, err := marshalProgress(snapshot)
	if err != nil {
		return fmt.Errorf("coordination: marshal progress: %w", err)
	}
	if err := c.withRetry(ctx, func() error {
		return c.client.Set(ctx, progressKey(taskID), data, ttl).Err()
	}); err != nil {
		return fmt.Errorf("coordination: set progress: %w", err)
	}
	if c.fallback != nil {
		c.fallback.Put(progressKey(taskID), data, ttl)
	}
	return nil
}

func (c *RedisCoordinator) GetProgress(ctx context.Context, taskID string) (model.ProgressSnapshot, error) {
	data, err := c.client.Get(ctx, progressKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.ProgressSnapshot{}, ErrNotFound
		}
		if c.fallback != nil {
			if cached, ok := c.fallback.Get(progressKey(taskID)); ok {
				return unmarshalProgress(cached)
			}
		}
		return model.ProgressSnapshot{}, fmt.Errorf("coordination: get progress: %w", err)
	}
	return unmarshalProgress(data)
}

func (c *RedisCoordinator) DeleteProgress(ctx context.Context, taskID string) error {
	if err := c.withRetry(ctx, func() error {
		return c.client.Del(ctx, progressKey(taskID)).Err()
	}); err != nil {
		return fmt.Errorf("coordination: delete progress: %w", err)
	}
	if c.fallback != nil {
		c.fallback.Remove(progressKey(taskID))
	}
	return nil
}

func (c *RedisCoordinator) PutKey(ctx context.Context, record model.APIKeyRecord, ttl time.Duration) error {
	data, err := marshalKeyRecord(record)
	if err != nil {
		return fmt.Errorf("coordination: marshal key record: %w", err)
	}
	if err := c.withRetry(ctx, func() error {
		return c.client.Set(ctx, authKeyKey(record.KeyID), data, ttl).Err()
	}); err != nil {
		return fmt.Errorf("coordination: put key: %w", err)
	}
	if c.fallback != nil {
		c.fallback.Put(authKeyKey(record.KeyID), data, ttl)
	}
	return nil
}

func (c *RedisCoordinator) GetKey(ctx context.Context, keyID string) (model.APIKeyRecord, error) {
	data, err := c.client.Get(ctx, authKeyKey(keyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.APIKeyRecord{}, ErrNotFound
		}
		if c.fallback != nil {
			if cached, ok := c.fallback.Get(authKeyKey(keyID)); ok {
				return unmarshalKeyRecord(cached)
			}
		}
		return model.APIKeyRecord{}, fmt.Errorf("coordination: get key: %w", err)
	}
	return unmarshalKeyRecord(data)
}

func (c *RedisCoordinator) DeleteKey(ctx context.Context, keyID string) error {
	if err := c.withRetry(ctx, func() error {
		return c.client.Del(ctx, authKeyKey(keyID)).Err()
	}); err != nil {
		return fmt.Errorf("coordination: delete key: %w", err)
	}
	if c.fallback != nil {
		c.fallback.Remove(authKeyKey(keyID))
	}
	return nil
}

func (c *RedisCoordinator) ScanKeyPrefix(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	iter := c.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("coordination: scan keys: %w", err)
	}
	return ids, nil
}

// Incr implements rate limiting's atomic increment-with-TTL-on-first-hit:
// INCR, then EXPIRE NX so only the increment that created the key sets
// the window.
func (c *RedisCoordinator) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := rateKeyPrefix + key
	var n int64
	err := c.withRetry(ctx, func() error {
		var incrErr error
		n, incrErr = c.client.Incr(ctx, fullKey).Result()
		return incrErr
	})
	if err != nil {
		return 0, fmt.Errorf("coordination: incr: %w", err)
	}
	if n == 1 {
		if err := c.withRetry(ctx, func() error {
			return c.client.ExpireNX(ctx, fullKey, window).Err()
		}); err != nil {
			return n, fmt.Errorf("coordination: expire nx: %w", err)
		}
	}
	return n, nil
}

func (c *RedisCoordinator) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IsTransient classifies a Redis error the same way internal/errors does
// for C1, so callers can decide whether to retry or fail open.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	return alexerrors.IsTransient(err)
}

var _ Coordinator = (*RedisCoordinator)(nil)
