// Package progress is the progress tracker (C5): a write-through cache in
// front of C2's ProgressSnapshot plus a best-effort fan-out so HTTP
// long-poll/SSE clients can watch a task without hammering the store.
//
// No teacher file covers this directly — the teacher's server app tests
// (event_broadcaster_test.go, progress_tracking_test.go) are kept in the
// pack only as tests, establishing the shape this package follows: a
// registry of per-subscriber channels, copy-on-write on register/
// unregister so an in-flight broadcast never observes a half-mutated
// slice, and drop accounting when a subscriber can't keep up.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/coordination"
	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// Metrics accumulates fan-out health counters, mirroring the teacher
// broadcaster's GetMetrics shape.
type Metrics struct {
	DroppedUpdates  int64
	DropsPerTask    map[string]int64
}

// Tracker implements scheduler.ProgressRecorder on top of a
// coordination.Coordinator, plus a Subscribe fan-out for streaming
// clients.
type Tracker struct {
	coord coordination.Coordinator
	ttl   time.Duration
	logger logging.Logger

	mu          sync.Mutex
	subscribers map[string][]chan model.ProgressSnapshot
	lastDecile  map[string]int
	dropped     int64
	dropsByTask map[string]int64
}

// New builds a Tracker. ttl <= 0 defaults to 10 minutes, matching
// spec.md's progress-snapshot TTL.
func New(coord coordination.Coordinator, ttl time.Duration, logger logging.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Tracker{
		coord:       coord,
		ttl:         ttl,
		logger:      logging.OrNop(logger),
		subscribers: make(map[string][]chan model.ProgressSnapshot),
		lastDecile:  make(map[string]int),
		dropsByTask: make(map[string]int64),
	}
}

// Init seeds a fresh snapshot for a newly dispatched task, attributing it
// to the dispatching scheduler slot so a later liveness reap can name
// which worker owned it.
func (t *Tracker) Init(ctx context.Context, taskID, sourceURL, title, workerID string) error {
	snap := model.ProgressSnapshot{
		TaskID:     taskID,
		Status:     model.StatusDownloading,
		WorkerID:   workerID,
		LastUpdate: time.Now(),
	}
	snap.RecordEvent(model.EventEnqueued, "tracking started for "+sourceURL, snap.LastUpdate)
	return t.store(ctx, snap)
}

// Update clamps and persists a progress tick, emitting a "progress"
// event only on a new 10% decile (or completion) so the ring buffer
// doesn't fill with every tick.
func (t *Tracker) Update(ctx context.Context, taskID string, percent float64, bytesDone, bytesTotal int64, speedBps float64) error {
	snap, err := t.load(ctx, taskID)
	if err != nil {
		return err
	}
	snap.Percent = percent
	snap.ClampPercent()
	snap.BytesDone = bytesDone
	snap.BytesTotal = bytesTotal
	snap.BytesPerSec = speedBps
	snap.LastUpdate = time.Now()

	if bytesTotal > 0 && speedBps > 0 && bytesDone <= bytesTotal {
		eta := int64(float64(bytesTotal-bytesDone) / speedBps)
		snap.ETASeconds = &eta
	} else {
		snap.ETASeconds = nil
	}

	decile := int(snap.Percent / 10)
	t.mu.Lock()
	last := t.lastDecile[taskID]
	emit := decile > last || snap.Percent >= 100
	if emit {
		t.lastDecile[taskID] = decile
	}
	t.mu.Unlock()
	if emit {
		snap.RecordEvent(model.EventProgress, "", snap.LastUpdate)
	}

	return t.store(ctx, snap)
}

// Record appends a lifecycle event without otherwise changing the
// snapshot's numeric fields.
func (t *Tracker) Record(ctx context.Context, taskID string, kind model.EventKind, message string) error {
	snap, err := t.load(ctx, taskID)
	if err != nil {
		return err
	}
	snap.LastUpdate = time.Now()
	snap.RecordEvent(kind, message, snap.LastUpdate)
	return t.store(ctx, snap)
}

// Finalize sets the terminal status, emits a terminal event, persists
// the closing snapshot, and closes every subscriber channel for this
// task (subscribe is finite: it terminates on any terminal status).
func (t *Tracker) Finalize(ctx context.Context, taskID string, outcome model.Status) error {
	snap, err := t.load(ctx, taskID)
	if err != nil {
		return err
	}
	snap.Status = outcome
	snap.LastUpdate = time.Now()
	if outcome == model.StatusCompleted {
		snap.Percent = 100
	}
	snap.RecordEvent(eventKindForOutcome(outcome), "finalized", snap.LastUpdate)

	if err := t.store(ctx, snap); err != nil {
		return err
	}

	t.mu.Lock()
	subs := t.subscribers[taskID]
	delete(t.subscribers, taskID)
	delete(t.lastDecile, taskID)
	delete(t.dropsByTask, taskID)
	t.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	return nil
}

func eventKindForOutcome(outcome model.Status) model.EventKind {
	switch outcome {
	case model.StatusCompleted:
		return model.EventCompleted
	case model.StatusCancelled:
		return model.EventCancelled
	default:
		return model.EventFailed
	}
}

// Subscribe registers an unbuffered channel that receives every
// broadcast snapshot for taskID until the task reaches a terminal
// state (the channel is then closed) or ctx is cancelled (the
// subscription is torn down and the channel is never closed, so
// callers should select on ctx.Done() too). Delivery is best-effort: a
// subscriber that isn't ready to receive when a snapshot is broadcast
// misses that tick.
func (t *Tracker) Subscribe(ctx context.Context, taskID string) <-chan model.ProgressSnapshot {
	ch := make(chan model.ProgressSnapshot)

	t.mu.Lock()
	t.subscribers[taskID] = append(copySlice(t.subscribers[taskID]), ch)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.unsubscribe(taskID, ch)
	}()

	return ch
}

func (t *Tracker) unsubscribe(taskID string, ch chan model.ProgressSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing := t.subscribers[taskID]
	next := make([]chan model.ProgressSnapshot, 0, len(existing))
	for _, c := range existing {
		if c != ch {
			next = append(next, c)
		}
	}
	if len(next) == 0 {
		delete(t.subscribers, taskID)
	} else {
		t.subscribers[taskID] = next
	}
}

func copySlice(in []chan model.ProgressSnapshot) []chan model.ProgressSnapshot {
	out := make([]chan model.ProgressSnapshot, len(in))
	copy(out, in)
	return out
}

func (t *Tracker) broadcast(taskID string, snap model.ProgressSnapshot) {
	t.mu.Lock()
	subs := t.subscribers[taskID]
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			t.mu.Lock()
			t.dropped++
			t.dropsByTask[taskID]++
			t.mu.Unlock()
		}
	}
}

// GetMetrics reports fan-out drop counters, for /api/queue/stats or
// internal diagnostics.
func (t *Tracker) GetMetrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	perTask := make(map[string]int64, len(t.dropsByTask))
	for k, v := range t.dropsByTask {
		perTask[k] = v
	}
	return Metrics{DroppedUpdates: t.dropped, DropsPerTask: perTask}
}

func (t *Tracker) load(ctx context.Context, taskID string) (model.ProgressSnapshot, error) {
	snap, err := t.coord.GetProgress(ctx, taskID)
	if err == coordination.ErrNotFound {
		return model.ProgressSnapshot{TaskID: taskID, LastUpdate: time.Now()}, nil
	}
	if err != nil {
		return model.ProgressSnapshot{}, err
	}
	return snap, nil
}

func (t *Tracker) store(ctx context.Context, snap model.ProgressSnapshot) error {
	if err := t.coord.SetProgress(ctx, snap.TaskID, snap, t.ttl); err != nil {
		t.logger.Warn("task %s: persist progress snapshot: %v", snap.TaskID, err)
		return err
	}
	t.broadcast(snap.TaskID, snap)
	return nil
}
