// Package scheduler is the job queue and dispatcher (C4): the
// supervisory loop that claims queued tasks from the coordination store,
// drives them through the extractor/transcoder via subprocess.Runner, and
// persists state transitions to the task store. Its only surviving
// teacher artifact was a cron/notification scheduler's test file; this
// package keeps that test's observed shape (mutex-guarded job bookkeeping,
// a cooldown, a concurrency limiter, bounded-retry-then-park recovery)
// repurposed to the media-pipeline state machine in SPEC_FULL §4.4.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/coordination"
	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
	"github.com/yunfie-twitter/ytdlp-api/internal/subprocess"
)

// ProgressRecorder is the narrow slice of C5's tracker the scheduler
// depends on, so this package doesn't need to import progress directly.
type ProgressRecorder interface {
	Init(ctx context.Context, taskID, sourceURL, title, workerID string) error
	Update(ctx context.Context, taskID string, percent float64, bytesDone, bytesTotal int64, speedBps float64) error
	Record(ctx context.Context, taskID string, kind model.EventKind, message string) error
	Finalize(ctx context.Context, taskID string, outcome model.Status) error
}

// nopProgress is used when Config.Progress is left nil (e.g. tests that
// don't care about C2 progress fan-out).
type nopProgress struct{}

func (nopProgress) Init(context.Context, string, string, string, string) error           { return nil }
func (nopProgress) Update(context.Context, string, float64, int64, int64, float64) error { return nil }
func (nopProgress) Record(context.Context, string, model.EventKind, string) error        { return nil }
func (nopProgress) Finalize(context.Context, string, model.Status) error                { return nil }

// Config tunes the scheduler. Zero values are replaced with sensible
// defaults by New.
type Config struct {
	// MaxConcurrent caps simultaneous in-flight downloads/transcodes,
	// applied globally across all priority tiers (spec.md §4.4).
	MaxConcurrent int
	// PollInterval is the dispatch loop's tick cadence; spec.md caps it
	// at 1s.
	PollInterval time.Duration
	// DefaultMaxAttempts seeds Job.MaxAttempts for jobs enqueued without
	// one set.
	DefaultMaxAttempts int
	// RetryPenaltySeconds is the per-attempt de-prioritisation applied to
	// a retried job's effective enqueue time (spec.md's "score penalty
	// ≈ 10 × attempts").
	RetryPenaltySeconds int
	// ProgressTTL is the TTL on C2 progress snapshots.
	ProgressTTL time.Duration
	// DownloadDir bounds where output files may live, for the cleanup
	// sweep's path-traversal guard.
	DownloadDir string

	Progress ProgressRecorder
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.RetryPenaltySeconds <= 0 {
		c.RetryPenaltySeconds = 10
	}
	if c.ProgressTTL <= 0 {
		c.ProgressTTL = 10 * time.Minute
	}
	if c.Progress == nil {
		c.Progress = nopProgress{}
	}
	return c
}

// Scheduler is the supervisory loop plus N in-flight process slots
// described in spec.md §4.4.
type Scheduler struct {
	cfg      Config
	store    store.TaskStore
	coord    coordination.Coordinator
	runner   subprocess.Runner
	formats  *subprocess.FormatsTable
	breakers *cerrors.CircuitBreakerManager
	logger   logging.Logger

	sem chan struct{}
	// workerSlots hands out a stable, human-readable slot identity
	// (worker-0..worker-N) to each dispatched job, independent of sem's
	// occupancy counting, so a task can be attributed to "the worker
	// that was running it" in progress snapshots and reap logs.
	workerSlots chan string

	mu              sync.Mutex
	cancelRequested map[string]bool
	heartbeats      map[string]time.Time
	workerOf        map[string]string
	inflight        map[string]model.Job

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. breakers is shared with other packages that
// also guard calls to the extractor or the coordination store, so a trip
// in one caller is visible to all.
func New(cfg Config, taskStore store.TaskStore, coord coordination.Coordinator, runner subprocess.Runner, formats *subprocess.FormatsTable, breakers *cerrors.CircuitBreakerManager, logger logging.Logger) *Scheduler {
	cfg = cfg.withDefaults()

	slots := make(chan string, cfg.MaxConcurrent)
	for i := 0; i < cfg.MaxConcurrent; i++ {
		slots <- fmt.Sprintf("worker-%d", i)
	}

	return &Scheduler{
		cfg:             cfg,
		store:           taskStore,
		coord:           coord,
		runner:          runner,
		formats:         formats,
		breakers:        breakers,
		logger:          logging.OrNop(logger),
		sem:             make(chan struct{}, cfg.MaxConcurrent),
		workerSlots:     slots,
		cancelRequested: make(map[string]bool),
		heartbeats:      make(map[string]time.Time),
		workerOf:        make(map[string]string),
		inflight:        make(map[string]model.Job),
		stopCh:          make(chan struct{}),
	}
}

// Start launches the dispatch loop in the background and returns
// immediately; call Stop to drain in-flight jobs and halt it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.dispatchLoop(ctx)
	return nil
}

// Stop signals the dispatch loop to halt and waits for every in-flight
// job slot to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// ActiveCount reports how many slots are currently occupied, for
// queue-stats endpoints and tests.
func (s *Scheduler) ActiveCount() int {
	return len(s.sem)
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick claims as many free slots as the queue can fill, stopping once a
// slot can't be acquired or the queue reports empty.
func (s *Scheduler) tick(ctx context.Context) {
	for {
		select {
		case s.sem <- struct{}{}:
		default:
			return
		}

		job, err := s.dequeue(ctx)
		if err != nil {
			<-s.sem
			if err != coordination.ErrEmpty {
				s.logger.Warn("scheduler: dequeue: %v", err)
			}
			return
		}

		workerID := <-s.workerSlots
		s.wg.Add(1)
		go s.runJob(ctx, job, workerID)
	}
}

// dequeue pops the next job, treating ErrEmpty as a healthy (not failing)
// response from the coordination-store breaker's point of view.
func (s *Scheduler) dequeue(ctx context.Context) (model.Job, error) {
	breaker := s.breakers.Get("coordination-store")
	if err := breaker.Allow(); err != nil {
		return model.Job{}, err
	}
	job, err := s.coord.Dequeue(ctx)
	if err != nil && err != coordination.ErrEmpty {
		breaker.Mark(err)
		return model.Job{}, err
	}
	breaker.Mark(nil)
	return job, err
}

func (s *Scheduler) runJob(ctx context.Context, job model.Job, workerID string) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	defer func() { s.workerSlots <- workerID }()

	taskID := job.TaskID
	s.heartbeat(taskID)
	s.setInflight(taskID, job)
	s.setWorker(taskID, workerID)
	defer s.clearHeartbeat(taskID)
	defer s.clearInflight(taskID)
	defer s.clearWorker(taskID)

	if err := s.activeSetOp(ctx, s.coord.ActiveAdd, taskID); err != nil {
		s.logger.Warn("task %s: active-set add: %v", taskID, err)
		s.requeue(ctx, job, "coordination store unavailable")
		return
	}
	defer func() {
		if err := s.activeSetOp(context.Background(), s.coord.ActiveRemove, taskID); err != nil {
			s.logger.Warn("task %s: active-set remove: %v", taskID, err)
		}
	}()

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		s.logger.Warn("task %s: load before dispatch: %v", taskID, err)
		return
	}
	if task.Status.IsTerminal() {
		// Cancelled (or otherwise resolved) while still queued.
		return
	}

	updated, err := s.transition(ctx, taskID, model.StatusDownloading, store.Patch{})
	if err != nil {
		s.logger.Warn("task %s: pending->downloading: %v", taskID, err)
		return
	}
	if updated.Status != model.StatusDownloading {
		// A concurrent cancel (or other terminal write) won the race; the
		// transition above was silently discarded per C1's "later terminal
		// state wins" rule.
		return
	}
	_ = s.cfg.Progress.Init(ctx, taskID, task.SourceURL, task.Title, workerID)
	_ = s.cfg.Progress.Record(ctx, taskID, model.EventStarted, "dispatched to worker")

	probe, err := s.probe(ctx, task.SourceURL)
	if err != nil {
		s.fail(ctx, job, taskID, err)
		return
	}

	resolvedTitle := probe.Title
	if task.Title != "" {
		resolvedTitle = task.Title
	}
	thumbnailURL, durationSec := probe.ThumbnailURL, probe.Duration.Seconds()
	if _, err := s.store.Update(ctx, taskID, store.Patch{
		ResolvedTitle: &resolvedTitle,
		ThumbnailURL:  &thumbnailURL,
		DurationSec:   &durationSec,
	}); err != nil {
		s.logger.Warn("task %s: persist probe metadata: %v", taskID, err)
	}

	outputPath := outputPathFor(s.cfg.DownloadDir, taskID, task.Container)
	args, err := s.formats.Assemble(subprocess.AssembleRequest{
		SourceURL:      task.SourceURL,
		Container:      task.Container,
		FormatCode:     task.FormatCode,
		QualityHint:    task.QualityHint,
		AudioOnly:      task.AudioOnly,
		EmbedThumbnail: task.EmbedThumbnail,
		Proxy:          task.Proxy,
		CookiesFile:    task.CookiesFile,
		OutputPath:     outputPath,
	})
	if err != nil {
		s.fail(ctx, job, taskID, cerrors.New(cerrors.KindValidation, "format_assembly_failed", err))
		return
	}

	onProgress := func(tick subprocess.ProgressTick) {
		s.heartbeat(taskID)
		_ = s.cfg.Progress.Update(ctx, taskID, tick.Percent, tick.BytesDone, tick.BytesTotal, tick.BytesPerSec)
		percent := tick.Percent
		_, _ = s.store.Update(ctx, taskID, store.Patch{Percent: &percent})
	}

	stopHeartbeat := s.startHeartbeatLoop(taskID)
	_, err = s.runDownload(ctx, subprocess.RunSpec{TaskID: taskID, Args: args}, onProgress)
	stopHeartbeat()
	cancelled := s.takeCancelRequested(taskID)
	if cancelled {
		subprocess.CleanupPartialOutput(outputPath)
		_ = s.cfg.Progress.Finalize(ctx, taskID, model.StatusCancelled)
		return
	}
	if err != nil {
		subprocess.CleanupPartialOutput(outputPath)
		s.fail(ctx, job, taskID, err)
		return
	}

	if _, err := s.transition(ctx, taskID, model.StatusProcessing, store.Patch{}); err != nil {
		s.logger.Warn("task %s: downloading->processing: %v", taskID, err)
	}

	info, statErr := os.Stat(outputPath)
	var size int64
	if statErr == nil {
		size = info.Size()
	}
	name := filepath.Base(outputPath)
	completed := true
	percent := float64(100)
	if _, err := s.transition(ctx, taskID, model.StatusCompleted, store.Patch{
		OutputPath:  &outputPath,
		OutputSize:  &size,
		OutputName:  &name,
		Percent:     &percent,
		CompletedAt: &completed,
	}); err != nil {
		s.logger.Warn("task %s: processing->completed: %v", taskID, err)
	}
	_ = s.cfg.Progress.Finalize(ctx, taskID, model.StatusCompleted)
}

// probe wraps the extractor's describe-only call in the "extractor"
// circuit breaker.
func (s *Scheduler) probe(ctx context.Context, url string) (subprocess.ProbeResult, error) {
	return cerrors.ExecuteFunc(s.breakers.Get("extractor"), ctx, func(ctx context.Context) (subprocess.ProbeResult, error) {
		return s.runner.Probe(ctx, url)
	})
}

// runDownload wraps the extractor/transcoder invocation in the
// "extractor" circuit breaker.
func (s *Scheduler) runDownload(ctx context.Context, spec subprocess.RunSpec, onProgress subprocess.OnProgress) (subprocess.RunResult, error) {
	return cerrors.ExecuteFunc(s.breakers.Get("extractor"), ctx, func(ctx context.Context) (subprocess.RunResult, error) {
		return s.runner.RunDownload(ctx, spec, onProgress)
	})
}

func (s *Scheduler) activeSetOp(ctx context.Context, op func(context.Context, string) error, taskID string) error {
	breaker := s.breakers.Get("coordination-store")
	return breaker.Execute(ctx, func(ctx context.Context) error {
		return op(ctx, taskID)
	})
}

// fail classifies err and either re-enqueues job (transient, attempts
// remain) or parks the task in the failed terminal state.
func (s *Scheduler) fail(ctx context.Context, job model.Job, taskID string, err error) {
	next := job.NextAttempt(time.Now())
	if isTransient(err) && !next.Exhausted() {
		s.requeueWithPenalty(ctx, next, err.Error())
		return
	}

	msg := err.Error()
	if _, uerr := s.transition(ctx, taskID, model.StatusFailed, store.Patch{ErrorMessage: &msg}); uerr != nil {
		s.logger.Warn("task %s: ->failed: %v", taskID, uerr)
	}
	_ = s.cfg.Progress.Record(ctx, taskID, model.EventFailed, msg)
	_ = s.cfg.Progress.Finalize(ctx, taskID, model.StatusFailed)
}

// requeue re-enqueues job unchanged (used when the scheduler itself
// couldn't claim the active-set slot, not a task-level failure).
func (s *Scheduler) requeue(ctx context.Context, job model.Job, reason string) {
	if err := s.coord.Enqueue(ctx, job); err != nil {
		s.logger.Warn("task %s: requeue after %s failed: %v", job.TaskID, reason, err)
	}
}

// requeueWithPenalty re-enqueues a retried job with the de-prioritised
// enqueue time spec.md §4.4 calls for, and records the retry against the
// task's row.
func (s *Scheduler) requeueWithPenalty(ctx context.Context, job model.Job, reason string) {
	penalty := time.Duration(s.cfg.RetryPenaltySeconds*job.Attempt) * time.Second
	job.EnqueuedAt = time.Now().Add(penalty)

	msg := reason
	if _, err := s.transition(ctx, job.TaskID, model.StatusPending, store.Patch{ErrorMessage: &msg}); err != nil {
		s.logger.Warn("task %s: ->pending (retry): %v", job.TaskID, err)
	}
	if err := s.coord.Enqueue(ctx, job); err != nil {
		s.logger.Warn("task %s: re-enqueue attempt %d: %v", job.TaskID, job.Attempt, err)
	}
	_ = s.cfg.Progress.Record(ctx, job.TaskID, model.EventRetry, reason)
}

func (s *Scheduler) transition(ctx context.Context, taskID string, status model.Status, patch store.Patch) (model.Task, error) {
	patch.Status = &status
	return s.store.Update(ctx, taskID, patch)
}

// Cancel implements the cancellation rule in spec.md §5: pending or
// downloading tasks are cancelled (synchronously terminating any running
// child process); processing is allowed to finish; terminal states are an
// idempotent no-op.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) (model.Task, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status.IsTerminal() || task.Status == model.StatusProcessing {
		return task, nil
	}

	s.mu.Lock()
	s.cancelRequested[taskID] = true
	s.mu.Unlock()

	if err := s.runner.Cancel(taskID); err != nil {
		s.logger.Warn("task %s: cancel subprocess: %v", taskID, err)
	}

	return s.transition(ctx, taskID, model.StatusCancelled, store.Patch{})
}

func (s *Scheduler) takeCancelRequested(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.cancelRequested[taskID]
	delete(s.cancelRequested, taskID)
	return v
}

// heartbeatLoopInterval refreshes a running job's heartbeat independent of
// parsed progress ticks, so a download with no matching progress line for
// a stretch (a slow connection, a chained transcode with sparse output)
// isn't mistaken by Supervisor's liveness sweep (livenessTimeout, 30s) for
// a dead worker.
const heartbeatLoopInterval = 10 * time.Second

// startHeartbeatLoop keeps taskID's heartbeat fresh for as long as its
// subprocess is running, returning a stop func the caller must invoke
// once it returns.
func (s *Scheduler) startHeartbeatLoop(taskID string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(heartbeatLoopInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.heartbeat(taskID)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) heartbeat(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[taskID] = time.Now()
}

func (s *Scheduler) clearHeartbeat(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heartbeats, taskID)
}

// heartbeatSnapshot returns a copy of the current heartbeat table, used by
// Supervisor's liveness sweep.
func (s *Scheduler) heartbeatSnapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.heartbeats))
	for k, v := range s.heartbeats {
		out[k] = v
	}
	return out
}

func (s *Scheduler) setWorker(taskID, workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerOf[taskID] = workerID
}

func (s *Scheduler) clearWorker(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workerOf, taskID)
}

// workerFor reports which slot dispatched taskID, for Supervisor's reap
// log. ok is false once the job has already been cleared.
func (s *Scheduler) workerFor(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.workerOf[taskID]
	return id, ok
}

func (s *Scheduler) setInflight(taskID string, job model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[taskID] = job
}

func (s *Scheduler) clearInflight(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, taskID)
}

// inflightJob returns the job record for a running task, for Supervisor's
// reap path. ok is false if the scheduler has no record of it (e.g. it
// was already cleared by the time the sweep ran).
func (s *Scheduler) inflightJob(taskID string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.inflight[taskID]
	return job, ok
}

func outputPathFor(downloadDir, taskID, container string) string {
	ext := container
	if ext == "" {
		ext = "bin"
	}
	return filepath.Join(downloadDir, taskID+"."+ext)
}
