// Package coordination is the coordination store (C2): a key/value +
// sorted-set + counter + set store backing the priority queue, the
// active-task set, progress/auth JSON blobs, and rate limiting. Redis is
// the production backend (see redis.go); inmemory.go backs tests and a
// server started with no redis_url.
package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/auth"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// Both backends also satisfy auth.KeyStore, the narrow slice of this
// interface the auth manager depends on.
var (
	_ auth.KeyStore = (*RedisCoordinator)(nil)
	_ auth.KeyStore = (*InmemoryCoordinator)(nil)
)

// ErrEmpty is returned by Dequeue when the priority queue has no jobs.
var ErrEmpty = errors.New("coordination: queue empty")

// ErrNotFound is returned by GetProgress/GetKey when no record exists for
// the given key.
var ErrNotFound = errors.New("coordination: key not found")

// Coordinator is C2's contract. Every write retries the same transient
// error class as C1 (handled by the Redis implementation's retry wrapper,
// not here); reads fall back to FallbackCache on sustained Redis failure.
type Coordinator interface {
	// Enqueue adds job to the priority sorted set, scored per
	// model.Job.Score so lower scores (higher priority, earlier enqueue)
	// pop first.
	Enqueue(ctx context.Context, job model.Job) error
	// Dequeue pops the lowest-scored job, or ErrEmpty if none are queued.
	Dequeue(ctx context.Context) (model.Job, error)
	// QueueLen reports the number of queued jobs, for queue-stats endpoints.
	QueueLen(ctx context.Context) (int64, error)

	// ActiveAdd/ActiveRemove/ActiveCount manage the "active tasks" set
	// the scheduler uses to enforce MaxConcurrent.
	ActiveAdd(ctx context.Context, taskID string) error
	ActiveRemove(ctx context.Context, taskID string) error
	ActiveCount(ctx context.Context) (int64, error)

	// SetProgress/GetProgress store the opaque progress JSON blob with a
	// TTL (spec.md §4.2).
	SetProgress(ctx context.Context, taskID string, snapshot model.ProgressSnapshot, ttl time.Duration) error
	GetProgress(ctx context.Context, taskID string) (model.ProgressSnapshot, error)
	// DeleteProgress removes a task's progress snapshot and event ring,
	// part of the cleanup sweep's terminal-row reclaim (spec.md §4.4).
	DeleteProgress(ctx context.Context, taskID string) error

	// PutKey/GetKey/DeleteKey back auth.KeyStore.
	PutKey(ctx context.Context, record model.APIKeyRecord, ttl time.Duration) error
	GetKey(ctx context.Context, keyID string) (model.APIKeyRecord, error)
	DeleteKey(ctx context.Context, keyID string) error
	ScanKeyPrefix(ctx context.Context, prefix string) ([]string, error)

	// Incr implements the rate limiter's atomic increment-with-TTL-on-first-hit.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
}

const (
	queueKey       = "coordination:queue"
	activeSetKey   = "coordination:active"
	progressPrefix = "coordination:progress:"
	keyPrefix      = "coordination:authkey:"
	rateKeyPrefix  = "coordination:rate:"
)

func progressKey(taskID string) string { return progressPrefix + taskID }
func authKeyKey(keyID string) string   { return keyPrefix + keyID }

func marshalProgress(s model.ProgressSnapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalProgress(data string) (model.ProgressSnapshot, error) {
	var s model.ProgressSnapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return model.ProgressSnapshot{}, err
	}
	return s, nil
}

func marshalKeyRecord(r model.APIKeyRecord) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalKeyRecord(data string) (model.APIKeyRecord, error) {
	var r model.APIKeyRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.APIKeyRecord{}, err
	}
	return r, nil
}
