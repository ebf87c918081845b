package coordination

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// InmemoryCoordinator backs tests and a server with no redis_url,
// mirroring RedisCoordinator's method set over in-process data structures.
type InmemoryCoordinator struct {
	mu sync.Mutex

	queue jobHeap
	active map[string]struct{}

	progress map[string]expiring[model.ProgressSnapshot]
	keys     map[string]expiring[model.APIKeyRecord]
	rates    map[string]expiring[int64]
}

type expiring[T any] struct {
	value   T
	expires time.Time // zero means no expiry
}

func (e expiring[T]) isExpired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewInmemoryCoordinator builds an empty InmemoryCoordinator.
func NewInmemoryCoordinator() *InmemoryCoordinator {
	return &InmemoryCoordinator{
		active:   map[string]struct{}{},
		progress: map[string]expiring[model.ProgressSnapshot]{},
		keys:     map[string]expiring[model.APIKeyRecord]{},
		rates:    map[string]expiring[int64]{},
	}
}

type jobHeap []model.Job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].Score() < h[j].Score() }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(model.Job)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (c *InmemoryCoordinator) Enqueue(_ context.Context, job model.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	heap.Push(&c.queue, job)
	return nil
}

func (c *InmemoryCoordinator) Dequeue(_ context.Context) (model.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.Len() == 0 {
		return model.Job{}, ErrEmpty
	}
	return heap.Pop(&c.queue).(model.Job), nil
}

func (c *InmemoryCoordinator) QueueLen(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.queue.Len()), nil
}

func (c *InmemoryCoordinator) ActiveAdd(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[taskID] = struct{}{}
	return nil
}

func (c *InmemoryCoordinator) ActiveRemove(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, taskID)
	return nil
}

func (c *InmemoryCoordinator) ActiveCount(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.active)), nil
}

func ttlDeadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (c *InmemoryCoordinator) SetProgress(_ context.Context, taskID string, snapshot model.ProgressSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[taskID] = expiring[model.ProgressSnapshot]{value: snapshot, expires: ttlDeadline(ttl)}
	return nil
}

func (c *InmemoryCoordinator) GetProgress(_ context.Context, taskID string) (model.ProgressSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.progress[taskID]
	if !ok || entry.isExpired(time.Now()) {
		return model.ProgressSnapshot{}, ErrNotFound
	}
	return entry.value, nil
}

func (c *InmemoryCoordinator) DeleteProgress(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.progress, taskID)
	return nil
}

func (c *InmemoryCoordinator) PutKey(_ context.Context, record model.APIKeyRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[record.KeyID] = expiring[model.APIKeyRecord]{value: record, expires: ttlDeadline(ttl)}
	return nil
}

func (c *InmemoryCoordinator) GetKey(_ context.Context, keyID string) (model.APIKeyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.keys[keyID]
	if !ok || entry.isExpired(time.Now()) {
		return model.APIKeyRecord{}, ErrNotFound
	}
	return entry.value, nil
}

func (c *InmemoryCoordinator) DeleteKey(_ context.Context, keyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, keyID)
	return nil
}

func (c *InmemoryCoordinator) ScanKeyPrefix(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	now := time.Now()
	for keyID, entry := range c.keys {
		if entry.isExpired(now) {
			continue
		}
		if strings.HasPrefix(keyID, prefix) {
			ids = append(ids, keyID)
		}
	}
	return ids, nil
}

func (c *InmemoryCoordinator) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	entry, ok := c.rates[key]
	if !ok || entry.isExpired(now) {
		entry = expiring[int64]{value: 0, expires: ttlDeadline(window)}
	}
	entry.value++
	c.rates[key] = entry
	return entry.value, nil
}

func (c *InmemoryCoordinator) Ping(context.Context) error {
	return nil
}

var _ Coordinator = (*InmemoryCoordinator)(nil)
