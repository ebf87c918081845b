package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

// livenessTimeout is how stale a worker's heartbeat may get before the
// supervisor considers it dead (spec.md §5).
const livenessTimeout = 30 * time.Second

// quarantineThreshold is the number of rapid crashes that gets a task id
// quarantined instead of retried again.
const quarantineThreshold = 5

// quarantineWindow bounds what "rapid" means for the crash counter.
const quarantineWindow = time.Minute

// Supervisor runs the liveness sweep described in spec.md §4.4: a
// worker (in-flight job slot) that stops heartbeating is considered
// dead, its child process is killed, and the job is returned to the
// queue as a retry. Tasks whose workers crash repeatedly in a short
// window are quarantined rather than retried indefinitely.
type Supervisor struct {
	sched    *Scheduler
	interval time.Duration
	logger   logging.Logger

	mu          sync.Mutex
	crashes     map[string][]time.Time
	quarantined map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor builds a Supervisor watching sched's worker heartbeats.
// interval <= 0 defaults to half the liveness timeout.
func NewSupervisor(sched *Scheduler, interval time.Duration, logger logging.Logger) *Supervisor {
	if interval <= 0 {
		interval = livenessTimeout / 2
	}
	return &Supervisor{
		sched:       sched,
		interval:    interval,
		logger:      logging.OrNop(logger),
		crashes:     make(map[string][]time.Time),
		quarantined: make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the liveness sweep loop in the background.
func (sv *Supervisor) Start(ctx context.Context) {
	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		ticker := time.NewTicker(sv.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sv.stopCh:
				return
			case <-ticker.C:
				sv.sweep(ctx)
			}
		}
	}()
}

// Stop halts the liveness sweep and waits for it to exit.
func (sv *Supervisor) Stop() {
	close(sv.stopCh)
	sv.wg.Wait()
}

// IsQuarantined reports whether taskID has crashed quarantineThreshold
// times within quarantineWindow.
func (sv *Supervisor) IsQuarantined(taskID string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.quarantined[taskID]
}

func (sv *Supervisor) sweep(ctx context.Context) {
	now := time.Now()
	for taskID, last := range sv.sched.heartbeatSnapshot() {
		if now.Sub(last) <= livenessTimeout {
			continue
		}
		workerID, _ := sv.sched.workerFor(taskID)
		sv.logger.Warn("task %s: heartbeat stale (%s), reaping worker %s", taskID, now.Sub(last), workerID)
		sv.reap(ctx, taskID)
	}
}

// reap kills taskID's child process, records the crash, and either
// quarantines the task id or returns it to the queue as a retry.
func (sv *Supervisor) reap(ctx context.Context, taskID string) {
	workerID, _ := sv.sched.workerFor(taskID)
	if workerID == "" {
		workerID = "unknown"
	}
	if err := sv.sched.runner.Cancel(taskID); err != nil {
		sv.logger.Warn("task %s: reap: cancel subprocess: %v (worker %s)", taskID, err, workerID)
	}
	sv.sched.clearHeartbeat(taskID)

	if sv.recordCrash(taskID) {
		sv.mu.Lock()
		sv.quarantined[taskID] = true
		sv.mu.Unlock()
		sv.logger.Error("task %s: quarantined after %d crashes within %s", taskID, quarantineThreshold, quarantineWindow)
		msg := "worker crashed repeatedly; quarantined"
		if _, err := sv.sched.transition(ctx, taskID, model.StatusFailed, store.Patch{ErrorMessage: &msg}); err != nil {
			sv.logger.Warn("task %s: quarantine transition: %v", taskID, err)
		}
		return
	}

	task, err := sv.sched.store.Get(ctx, taskID)
	if err != nil {
		sv.logger.Warn("task %s: reap: load task: %v", taskID, err)
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	job, ok := sv.sched.inflightJob(taskID)
	if !ok {
		job = model.Job{TaskID: taskID, MaxAttempts: sv.sched.cfg.DefaultMaxAttempts}
	}
	sv.sched.requeueWithPenalty(ctx, job.NextAttempt(time.Now()), "worker died (stale heartbeat)")
}

// recordCrash appends now to taskID's crash history, evicts entries
// outside quarantineWindow, and reports whether the threshold was hit.
func (sv *Supervisor) recordCrash(taskID string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-quarantineWindow)
	kept := sv.crashes[taskID][:0]
	for _, t := range sv.crashes[taskID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	sv.crashes[taskID] = kept

	return len(kept) >= quarantineThreshold
}
