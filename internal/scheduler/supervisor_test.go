package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

func staleHeartbeat(s *Scheduler, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[taskID] = time.Now().Add(-livenessTimeout - time.Second)
}

func TestSupervisorSweepReapsStaleHeartbeatAndRequeues(t *testing.T) {
	task := model.Task{ID: "t1", SourceURL: "u1", Container: "mp4", Status: model.StatusDownloading}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	runner := &fakeRunner{}
	sched := newTestScheduler(t, fs, coord, runner)

	job := model.Job{TaskID: "t1", Priority: 1, MaxAttempts: 3, EnqueuedAt: time.Now()}
	sched.setInflight("t1", job)
	staleHeartbeat(sched, "t1")

	sv := NewSupervisor(sched, time.Hour, nil)
	sv.sweep(context.Background())

	if len(runner.cancelled) != 1 || runner.cancelled[0] != "t1" {
		t.Fatalf("runner.cancelled = %v, want [t1]", runner.cancelled)
	}
	if coord.enqueuedCount() != 1 {
		t.Fatalf("enqueuedCount = %d, want 1 (requeued after reap)", coord.enqueuedCount())
	}
	if fs.status("t1") != model.StatusPending {
		t.Fatalf("status = %v, want pending (requeued for retry)", fs.status("t1"))
	}
	if snap := sched.heartbeatSnapshot(); len(snap) != 0 {
		t.Fatalf("heartbeatSnapshot = %v, want empty after reap", snap)
	}
	if sv.IsQuarantined("t1") {
		t.Fatal("single crash should not quarantine")
	}
}

func TestSupervisorSweepIgnoresFreshHeartbeat(t *testing.T) {
	task := model.Task{ID: "t1", Status: model.StatusDownloading}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	runner := &fakeRunner{}
	sched := newTestScheduler(t, fs, coord, runner)

	sched.heartbeat("t1")

	sv := NewSupervisor(sched, time.Hour, nil)
	sv.sweep(context.Background())

	if len(runner.cancelled) != 0 {
		t.Fatalf("runner.cancelled = %v, want none (heartbeat is fresh)", runner.cancelled)
	}
	if coord.enqueuedCount() != 0 {
		t.Fatalf("enqueuedCount = %d, want 0", coord.enqueuedCount())
	}
}

func TestSupervisorQuarantinesAfterRepeatedCrashes(t *testing.T) {
	task := model.Task{ID: "t1", SourceURL: "u1", Container: "mp4", Status: model.StatusDownloading}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	runner := &fakeRunner{}
	sched := newTestScheduler(t, fs, coord, runner)
	sv := NewSupervisor(sched, time.Hour, nil)

	ctx := context.Background()
	downloading := model.StatusDownloading
	for i := 0; i < quarantineThreshold; i++ {
		sched.setInflight("t1", model.Job{TaskID: "t1", MaxAttempts: 99})
		sv.reap(ctx, "t1")
		if fs.status("t1") != model.StatusFailed {
			// Between reaps the task is put back to pending by
			// requeueWithPenalty; restore it to downloading to simulate
			// the worker picking it back up before crashing again.
			_, _ = fs.Update(ctx, "t1", store.Patch{Status: &downloading})
		}
	}

	if !sv.IsQuarantined("t1") {
		t.Fatal("expected task to be quarantined after repeated crashes")
	}
	if fs.status("t1") != model.StatusFailed {
		t.Fatalf("status = %v, want failed (quarantined)", fs.status("t1"))
	}
}
