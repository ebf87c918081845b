package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM tasks WHERE id LIKE 'test-%'")
	})

	return New(pool)
}

func TestStoreCreateThenGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task := model.Task{ID: "test-create-1", SourceURL: "https://example.com/v", Container: "mp4"}
	created, err := s.Create(ctx, task)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != model.StatusPending {
		t.Errorf("Status = %s, want pending", created.Status)
	}

	got, err := s.Get(ctx, "test-create-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceURL != task.SourceURL {
		t.Errorf("SourceURL = %q, want %q", got.SourceURL, task.SourceURL)
	}
}

func TestStoreCreateDuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task := model.Task{ID: "test-dup-1", SourceURL: "https://example.com/v", Container: "mp4"}
	if _, err := s.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, task); err != store.ErrDuplicateID {
		t.Fatalf("second create error = %v, want ErrDuplicateID", err)
	}
}

func TestStoreUpdateDiscardsRaceAgainstTerminalStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task := model.Task{ID: "test-race-1", SourceURL: "https://example.com/v", Container: "mp4"}
	if _, err := s.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled := model.StatusCancelled
	if _, err := s.Update(ctx, "test-race-1", store.Patch{Status: &cancelled}); err != nil {
		t.Fatalf("update to cancelled: %v", err)
	}

	downloading := model.StatusDownloading
	after, err := s.Update(ctx, "test-race-1", store.Patch{Status: &downloading})
	if err != nil {
		t.Fatalf("update racing terminal: %v", err)
	}
	if after.Status != model.StatusCancelled {
		t.Errorf("Status = %s, want cancelled (later terminal state wins)", after.Status)
	}
}

func TestStoreListFiltersByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, model.Task{ID: "test-list-1", SourceURL: "u", Container: "mp4"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := s.List(ctx, store.Filter{Status: model.StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) == 0 {
		t.Error("expected at least one pending task")
	}
}

func TestStoreDeleteNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.Delete(ctx, "test-missing"); err != store.ErrNotFound {
		t.Fatalf("delete missing = %v, want ErrNotFound", err)
	}
}
