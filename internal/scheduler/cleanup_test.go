package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

func TestRunCleanupSweepReclaimsOldTerminalTasks(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "t1.mp4")
	if err := os.WriteFile(outputPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("seed output file: %v", err)
	}

	task := model.Task{
		ID:         "t1",
		Status:     model.StatusCompleted,
		OutputPath: outputPath,
		UpdatedAt:  time.Now().Add(-8 * 24 * time.Hour),
	}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	sched := newTestScheduler(t, fs, coord, &fakeRunner{})
	sched.cfg.DownloadDir = dir

	if err := coord.SetProgress(context.Background(), "t1", model.ProgressSnapshot{TaskID: "t1"}, time.Minute); err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	sched.RunCleanupSweep(context.Background(), 7*24*time.Hour)

	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Fatalf("output file still present after sweep: err=%v", err)
	}
	if _, err := fs.Get(context.Background(), "t1"); err == nil {
		t.Fatal("task row still present after sweep")
	}
	if _, err := coord.GetProgress(context.Background(), "t1"); err == nil {
		t.Fatal("progress snapshot still present after sweep")
	}
}

func TestRunCleanupSweepSkipsRecentTerminalTasks(t *testing.T) {
	task := model.Task{ID: "t1", Status: model.StatusCompleted, UpdatedAt: time.Now()}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	sched := newTestScheduler(t, fs, coord, &fakeRunner{})

	sched.RunCleanupSweep(context.Background(), 7*24*time.Hour)

	if _, err := fs.Get(context.Background(), "t1"); err != nil {
		t.Fatalf("recent task row was reclaimed: %v", err)
	}
}

func TestRunCleanupSweepSkipsNonTerminalTasks(t *testing.T) {
	task := model.Task{ID: "t1", Status: model.StatusDownloading, UpdatedAt: time.Now().Add(-30 * 24 * time.Hour)}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	sched := newTestScheduler(t, fs, coord, &fakeRunner{})

	sched.RunCleanupSweep(context.Background(), 7*24*time.Hour)

	if _, err := fs.Get(context.Background(), "t1"); err != nil {
		t.Fatalf("non-terminal task row was reclaimed: %v", err)
	}
}

func TestReclaimSkipsUnlinkWhenOutputPathEscapesDownloadDir(t *testing.T) {
	dir := t.TempDir()
	outsideDir := t.TempDir()
	escapee := filepath.Join(outsideDir, "evil.mp4")
	if err := os.WriteFile(escapee, []byte("data"), 0o644); err != nil {
		t.Fatalf("seed escapee file: %v", err)
	}

	task := model.Task{ID: "t1", Status: model.StatusCompleted, OutputPath: escapee}
	fs := newFakeStore(task)
	coord := newFakeCoordinator()
	sched := newTestScheduler(t, fs, coord, &fakeRunner{})
	sched.cfg.DownloadDir = dir

	sched.reclaim(context.Background(), task)

	if _, err := os.Stat(escapee); err != nil {
		t.Fatalf("file outside download dir was removed: %v", err)
	}
	if _, err := fs.Get(context.Background(), "t1"); err == nil {
		t.Fatal("row should still be deleted even when unlink is skipped")
	}
}

func TestIsWithinDir(t *testing.T) {
	base := t.TempDir()
	cases := []struct {
		target string
		want   bool
	}{
		{filepath.Join(base, "a.mp4"), true},
		{filepath.Join(base, "sub", "a.mp4"), true},
		{filepath.Join(base, "..", "a.mp4"), false},
		{"/etc/passwd", false},
	}
	for _, tc := range cases {
		if got := isWithinDir(base, tc.target); got != tc.want {
			t.Errorf("isWithinDir(%q, %q) = %v, want %v", base, tc.target, got, tc.want)
		}
	}
}
