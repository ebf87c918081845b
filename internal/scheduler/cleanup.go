package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

// DefaultRetention is how long a terminal task's row and output file
// survive before the cleanup sweep reclaims them (spec.md §4.4).
const DefaultRetention = 7 * 24 * time.Hour

// DefaultSweepInterval is how often RunCleanupSweep should be invoked by
// the caller (spec.md: "every 10 min, configurable").
const DefaultSweepInterval = 10 * time.Minute

// RunCleanupSweep scans the task store for terminal rows older than
// retention and reclaims them: unlinks the output file (after confirming
// it sits inside downloadDir, to defend against a corrupted path
// escaping via traversal), clears the C2 progress snapshot, and deletes
// the row. A failure on any one task is logged and that row is left for
// the next sweep; it never aborts the whole pass.
func (s *Scheduler) RunCleanupSweep(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := time.Now().Add(-retention)

	for _, status := range []model.Status{model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
		tasks, err := s.store.List(ctx, store.Filter{Status: status, Limit: store.MaxListLimit})
		if err != nil {
			s.logger.Warn("cleanup sweep: list %s: %v", status, err)
			continue
		}
		for _, task := range tasks {
			if task.UpdatedAt.After(cutoff) {
				continue
			}
			s.reclaim(ctx, task)
		}
	}
}

func (s *Scheduler) reclaim(ctx context.Context, task model.Task) {
	if task.OutputPath != "" {
		if !isWithinDir(s.cfg.DownloadDir, task.OutputPath) {
			s.logger.Warn("task %s: cleanup sweep: output path %q escapes download dir, skipping unlink", task.ID, task.OutputPath)
		} else if err := os.Remove(task.OutputPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("task %s: cleanup sweep: unlink output: %v", task.ID, err)
			return
		}
	}

	if err := s.coord.DeleteProgress(ctx, task.ID); err != nil {
		s.logger.Warn("task %s: cleanup sweep: delete progress snapshot: %v", task.ID, err)
	}

	if err := s.store.Delete(ctx, task.ID); err != nil {
		s.logger.Warn("task %s: cleanup sweep: delete row: %v", task.ID, err)
	}
}

// isWithinDir reports whether target resolves to a path inside base,
// guarding the cleanup sweep against a maliciously or corruptly stored
// output path.
func isWithinDir(base, target string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
