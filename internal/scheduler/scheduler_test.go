package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/coordination"
	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
	"github.com/yunfie-twitter/ytdlp-api/internal/subprocess"
)

// fakeStore is an in-memory store.TaskStore stand-in with an injectable
// Update hook, for asserting the exact transitions the scheduler drives.
type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]model.Task
}

func newFakeStore(tasks ...model.Task) *fakeStore {
	fs := &fakeStore{tasks: map[string]model.Task{}}
	for _, t := range tasks {
		fs.tasks[t.ID] = t
	}
	return fs
}

func (fs *fakeStore) Create(_ context.Context, t model.Task) (model.Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.tasks[t.ID] = t
	return t, nil
}

func (fs *fakeStore) Get(_ context.Context, id string) (model.Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	t, ok := fs.tasks[id]
	if !ok {
		return model.Task{}, store.ErrNotFound
	}
	return t, nil
}

func (fs *fakeStore) Update(_ context.Context, id string, patch store.Patch) (model.Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	t, ok := fs.tasks[id]
	if !ok {
		return model.Task{}, store.ErrNotFound
	}
	if patch.Status != nil {
		if model.CanTransition(t.Status, *patch.Status) {
			t.Status = *patch.Status
		}
	}
	if patch.ResolvedTitle != nil {
		t.ResolvedTitle = *patch.ResolvedTitle
	}
	if patch.ThumbnailURL != nil {
		t.ThumbnailURL = *patch.ThumbnailURL
	}
	if patch.DurationSec != nil {
		t.DurationSec = *patch.DurationSec
	}
	if patch.Percent != nil {
		t.Percent = *patch.Percent
	}
	if patch.OutputPath != nil {
		t.OutputPath = *patch.OutputPath
	}
	if patch.OutputSize != nil {
		t.OutputSize = *patch.OutputSize
	}
	if patch.OutputName != nil {
		t.OutputName = *patch.OutputName
	}
	if patch.ErrorMessage != nil {
		t.ErrorMessage = *patch.ErrorMessage
	}
	if patch.CompletedAt != nil && *patch.CompletedAt {
		t.CompletedAt = time.Now()
	}
	fs.tasks[id] = t
	return t, nil
}

func (fs *fakeStore) List(_ context.Context, filter store.Filter) ([]model.Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []model.Task
	for _, t := range fs.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (fs *fakeStore) Delete(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(fs.tasks, id)
	return nil
}

func (fs *fakeStore) Ping(context.Context) error { return nil }

func (fs *fakeStore) FindActiveByClientID(context.Context, string) (model.Task, error) {
	return model.Task{}, store.ErrNotFound
}

func (fs *fakeStore) status(id string) model.Status {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.tasks[id].Status
}

// fakeCoordinator is an in-process queue good enough to drive one job at
// a time through the dispatch loop without pulling in the real
// coordination package (keeps this test from depending on Redis/heap
// internals it doesn't need to exercise).
type fakeCoordinator struct {
	mu       sync.Mutex
	queue    []model.Job
	active   map[string]bool
	enqueued []model.Job
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{active: map[string]bool{}}
}

func (c *fakeCoordinator) push(job model.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, job)
}

func (c *fakeCoordinator) Enqueue(_ context.Context, job model.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, job)
	c.enqueued = append(c.enqueued, job)
	return nil
}

func (c *fakeCoordinator) Dequeue(context.Context) (model.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return model.Job{}, coordination.ErrEmpty
	}
	job := c.queue[0]
	c.queue = c.queue[1:]
	return job, nil
}

func (c *fakeCoordinator) enqueuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enqueued)
}

func (c *fakeCoordinator) QueueLen(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.queue)), nil
}

func (c *fakeCoordinator) ActiveAdd(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[taskID] = true
	return nil
}

func (c *fakeCoordinator) ActiveRemove(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, taskID)
	return nil
}

func (c *fakeCoordinator) ActiveCount(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.active)), nil
}

func (c *fakeCoordinator) SetProgress(context.Context, string, model.ProgressSnapshot, time.Duration) error {
	return nil
}
func (c *fakeCoordinator) GetProgress(context.Context, string) (model.ProgressSnapshot, error) {
	return model.ProgressSnapshot{}, coordination.ErrNotFound
}
func (c *fakeCoordinator) DeleteProgress(context.Context, string) error { return nil }
func (c *fakeCoordinator) PutKey(context.Context, model.APIKeyRecord, time.Duration) error {
	return nil
}
func (c *fakeCoordinator) GetKey(context.Context, string) (model.APIKeyRecord, error) {
	return model.APIKeyRecord{}, coordination.ErrNotFound
}
func (c *fakeCoordinator) DeleteKey(context.Context, string) error                 { return nil }
func (c *fakeCoordinator) ScanKeyPrefix(context.Context, string) ([]string, error) { return nil, nil }
func (c *fakeCoordinator) Incr(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}
func (c *fakeCoordinator) Ping(context.Context) error { return nil }

// fakeRunner drives the extractor/transcoder contract with canned
// results instead of shelling out.
type fakeRunner struct {
	mu          sync.Mutex
	probeErr    error
	runErr      error
	runResult   subprocess.RunResult
	cancelled   []string
	probeCalls  int
	runCalls    int
	runDelay    time.Duration
	onRunStart  func()
}

func (r *fakeRunner) Probe(context.Context, string) (subprocess.ProbeResult, error) {
	r.mu.Lock()
	r.probeCalls++
	r.mu.Unlock()
	if r.probeErr != nil {
		return subprocess.ProbeResult{}, r.probeErr
	}
	return subprocess.ProbeResult{Title: "a video", Duration: 42 * time.Second}, nil
}

func (r *fakeRunner) RunDownload(ctx context.Context, spec subprocess.RunSpec, onProgress subprocess.OnProgress) (subprocess.RunResult, error) {
	r.mu.Lock()
	r.runCalls++
	r.mu.Unlock()
	if r.onRunStart != nil {
		r.onRunStart()
	}
	if onProgress != nil {
		onProgress(subprocess.ProgressTick{Percent: 50})
	}
	if r.runDelay > 0 {
		select {
		case <-time.After(r.runDelay):
		case <-ctx.Done():
			return subprocess.RunResult{}, ctx.Err()
		}
	}
	if r.runErr != nil {
		return subprocess.RunResult{}, r.runErr
	}
	return r.runResult, nil
}

func (r *fakeRunner) Cancel(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, taskID)
	return nil
}

func (r *fakeRunner) Subtitles(context.Context, string, string) (string, error) {
	return "", nil
}

func newTestScheduler(t *testing.T, fs *fakeStore, coord *fakeCoordinator, runner *fakeRunner) *Scheduler {
	t.Helper()
	formats := subprocess.DefaultFormatsTable()
	breakers := cerrors.NewCircuitBreakerManager(cerrors.DefaultCircuitBreakerConfig())
	cfg := Config{MaxConcurrent: 1, PollInterval: 10 * time.Millisecond, DownloadDir: t.TempDir()}
	return New(cfg, fs, coord, runner, formats, breakers, nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSchedulerDispatchesQueuedTaskToCompletion(t *testing.T) {
	task := model.Task{ID: "t1", SourceURL: "https://example.com/v", Container: "mp4", Status: model.StatusPending}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	runner := &fakeRunner{runResult: subprocess.RunResult{ExitCode: 0}}
	sched := newTestScheduler(t, fs, coord, runner)

	coord.push(model.Job{TaskID: "t1", Priority: 2, MaxAttempts: 3, EnqueuedAt: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	waitFor(t, time.Second, func() bool { return fs.status("t1") == model.StatusCompleted })

	final, _ := fs.Get(ctx, "t1")
	if final.ResolvedTitle != "a video" {
		t.Errorf("ResolvedTitle = %q, want %q", final.ResolvedTitle, "a video")
	}
	if final.Percent != 100 {
		t.Errorf("Percent = %v, want 100", final.Percent)
	}
}

func TestSchedulerConcurrencyLimitQueuesExtraWork(t *testing.T) {
	t1 := model.Task{ID: "t1", SourceURL: "u1", Container: "mp4", Status: model.StatusPending}
	t2 := model.Task{ID: "t2", SourceURL: "u2", Container: "mp4", Status: model.StatusPending}
	fs := newFakeStore(t1, t2)
	coord := newFakeCoordinator()

	inFlight := make(chan struct{}, 2)
	release := make(chan struct{})
	runner := &fakeRunner{
		runResult: subprocess.RunResult{ExitCode: 0},
		onRunStart: func() {
			inFlight <- struct{}{}
			<-release
		},
	}
	sched := newTestScheduler(t, fs, coord, runner)

	coord.push(model.Job{TaskID: "t1", Priority: 1, MaxAttempts: 3, EnqueuedAt: time.Now()})
	coord.push(model.Job{TaskID: "t2", Priority: 1, MaxAttempts: 3, EnqueuedAt: time.Now().Add(time.Millisecond)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	<-inFlight
	time.Sleep(30 * time.Millisecond)
	if sched.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1 (MaxConcurrent=1 should hold the second job in queue)", sched.ActiveCount())
	}
	close(release)

	waitFor(t, time.Second, func() bool {
		return fs.status("t1") == model.StatusCompleted && fs.status("t2") == model.StatusCompleted
	})
}

func TestSchedulerRetriesTransientFailureThenParks(t *testing.T) {
	task := model.Task{ID: "t1", SourceURL: "u1", Container: "mp4", Status: model.StatusPending}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	runner := &fakeRunner{runErr: context.DeadlineExceeded}
	sched := newTestScheduler(t, fs, coord, runner)

	coord.push(model.Job{TaskID: "t1", Priority: 1, MaxAttempts: 2, EnqueuedAt: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 2*time.Second, func() bool { return fs.status("t1") == model.StatusFailed })

	if coord.enqueuedCount() == 0 {
		t.Error("expected at least one re-enqueue attempt before parking")
	}
	final, _ := fs.Get(ctx, "t1")
	if final.ErrorMessage == "" {
		t.Error("expected ErrorMessage to be recorded on the parked task")
	}
}

func TestSchedulerCancelStopsDownloadingTask(t *testing.T) {
	task := model.Task{ID: "t1", SourceURL: "u1", Container: "mp4", Status: model.StatusPending}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	started := make(chan struct{})
	runner := &fakeRunner{
		runDelay: 100 * time.Millisecond,
		onRunStart: func() {
			close(started)
		},
	}
	sched := newTestScheduler(t, fs, coord, runner)

	coord.push(model.Job{TaskID: "t1", Priority: 1, MaxAttempts: 3, EnqueuedAt: time.Now()})

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	<-started
	if _, err := sched.Cancel(context.Background(), "t1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if fs.status("t1") != model.StatusCancelled {
		t.Errorf("status = %v, want cancelled", fs.status("t1"))
	}
	if len(runner.cancelled) != 1 || runner.cancelled[0] != "t1" {
		t.Errorf("runner.cancelled = %v, want [t1]", runner.cancelled)
	}
}

func TestSchedulerCancelOnTerminalTaskIsNoop(t *testing.T) {
	task := model.Task{ID: "t1", Status: model.StatusCompleted, Percent: 100, OutputPath: "/x", OutputSize: 1}
	fs := newFakeStore(task)
	sched := newTestScheduler(t, fs, newFakeCoordinator(), &fakeRunner{})

	got, err := sched.Cancel(context.Background(), "t1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %v, want unchanged completed", got.Status)
	}
}

func TestSchedulerCancelDoesNotPropagateToProcessing(t *testing.T) {
	task := model.Task{ID: "t1", Status: model.StatusProcessing}
	fs := newFakeStore(task)
	sched := newTestScheduler(t, fs, newFakeCoordinator(), &fakeRunner{})

	got, err := sched.Cancel(context.Background(), "t1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != model.StatusProcessing {
		t.Errorf("status = %v, want unchanged processing (cancel must not propagate)", got.Status)
	}
}
