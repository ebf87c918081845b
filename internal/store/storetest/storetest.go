// Package storetest is a conformance suite any store.TaskStore
// implementation can run against: both internal/store/inmemory and
// internal/store/postgres exercise the same contract.
package storetest

import (
	"context"
	"testing"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

// Run executes the shared TaskStore contract against a fresh backend
// produced by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.TaskStore) {
	t.Helper()

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := model.Task{ID: "t1", SourceURL: "https://example.com/v", Container: "mp4"}

		created, err := s.Create(ctx, task)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created.Status != model.StatusPending {
			t.Errorf("Status = %s, want pending", created.Status)
		}

		got, err := s.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.SourceURL != task.SourceURL {
			t.Errorf("SourceURL = %q, want %q", got.SourceURL, task.SourceURL)
		}
	})

	t.Run("CreateDuplicateIDFails", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := model.Task{ID: "t1", SourceURL: "https://example.com/v", Container: "mp4"}

		if _, err := s.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.Create(ctx, task); err != store.ErrDuplicateID {
			t.Fatalf("duplicate create error = %v, want ErrDuplicateID", err)
		}
	})

	t.Run("GetMissingFails", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "missing"); err != store.ErrNotFound {
			t.Fatalf("get missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateValidatesTransitions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Create(ctx, model.Task{ID: "t1", SourceURL: "u", Container: "mp4"}); err != nil {
			t.Fatalf("create: %v", err)
		}

		completed := model.StatusCompleted
		updated, err := s.Update(ctx, "t1", store.Patch{Status: &completed})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		// pending -> completed is not a valid edge; the write is a no-op.
		if updated.Status != model.StatusPending {
			t.Errorf("Status = %s, want pending (invalid transition discarded)", updated.Status)
		}
	})

	t.Run("UpdateDiscardsRaceAgainstTerminalStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Create(ctx, model.Task{ID: "t1", SourceURL: "u", Container: "mp4"}); err != nil {
			t.Fatalf("create: %v", err)
		}

		cancelled := model.StatusCancelled
		if _, err := s.Update(ctx, "t1", store.Patch{Status: &cancelled}); err != nil {
			t.Fatalf("update to cancelled: %v", err)
		}

		downloading := model.StatusDownloading
		after, err := s.Update(ctx, "t1", store.Patch{Status: &downloading})
		if err != nil {
			t.Fatalf("update racing terminal: %v", err)
		}
		if after.Status != model.StatusCancelled {
			t.Errorf("Status = %s, want cancelled (later terminal state wins)", after.Status)
		}
	})

	t.Run("ListFiltersByStatusAndOrdersNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"t1", "t2", "t3"} {
			if _, err := s.Create(ctx, model.Task{ID: id, SourceURL: "u", Container: "mp4"}); err != nil {
				t.Fatalf("create %s: %v", id, err)
			}
		}

		tasks, err := s.List(ctx, store.Filter{Status: model.StatusPending})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tasks) != 3 {
			t.Fatalf("len(tasks) = %d, want 3", len(tasks))
		}
	})

	t.Run("DeleteRemovesRow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Create(ctx, model.Task{ID: "t1", SourceURL: "u", Container: "mp4"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.Delete(ctx, "t1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.Get(ctx, "t1"); err != store.ErrNotFound {
			t.Fatalf("get after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteMissingFails", func(t *testing.T) {
		s := newStore(t)
		if err := s.Delete(context.Background(), "missing"); err != store.ErrNotFound {
			t.Fatalf("delete missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("FindActiveByClientIDMatchesNonTerminalOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Create(ctx, model.Task{ID: "t1", SourceURL: "u", Container: "mp4", ClientID: "req-1"}); err != nil {
			t.Fatalf("create: %v", err)
		}

		found, err := s.FindActiveByClientID(ctx, "req-1")
		if err != nil {
			t.Fatalf("find active: %v", err)
		}
		if found.ID != "t1" {
			t.Errorf("ID = %s, want t1", found.ID)
		}

		cancelled := model.StatusCancelled
		if _, err := s.Update(ctx, "t1", store.Patch{Status: &cancelled}); err != nil {
			t.Fatalf("update to cancelled: %v", err)
		}
		if _, err := s.FindActiveByClientID(ctx, "req-1"); err != store.ErrNotFound {
			t.Fatalf("find active after terminal = %v, want ErrNotFound", err)
		}
	})

	t.Run("FindActiveByClientIDMissingFails", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.FindActiveByClientID(context.Background(), "no-such-client-id"); err != store.ErrNotFound {
			t.Fatalf("find active missing = %v, want ErrNotFound", err)
		}
	})
}
