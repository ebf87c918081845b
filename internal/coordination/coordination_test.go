package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// runConformance exercises the shared Coordinator contract against any
// backend; both the in-memory and the miniredis-backed Redis
// implementation run it.
func runConformance(t *testing.T, newCoord func(t *testing.T) Coordinator) {
	t.Helper()

	t.Run("EnqueueDequeueOrdersByPriorityThenFIFO", func(t *testing.T) {
		c := newCoord(t)
		ctx := context.Background()
		base := time.Now()

		low := model.Job{TaskID: "low", Priority: 0, EnqueuedAt: base}
		high := model.Job{TaskID: "high", Priority: 4, EnqueuedAt: base.Add(time.Second)}
		mid := model.Job{TaskID: "mid", Priority: 2, EnqueuedAt: base}

		for _, j := range []model.Job{low, high, mid} {
			if err := c.Enqueue(ctx, j); err != nil {
				t.Fatalf("enqueue %s: %v", j.TaskID, err)
			}
		}

		first, err := c.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if first.TaskID != "high" {
			t.Errorf("first dequeued = %s, want high (highest priority)", first.TaskID)
		}
	})

	t.Run("DequeueEmptyReturnsErrEmpty", func(t *testing.T) {
		c := newCoord(t)
		if _, err := c.Dequeue(context.Background()); err != ErrEmpty {
			t.Fatalf("dequeue empty = %v, want ErrEmpty", err)
		}
	})

	t.Run("ActiveSetAddRemoveCount", func(t *testing.T) {
		c := newCoord(t)
		ctx := context.Background()
		if err := c.ActiveAdd(ctx, "t1"); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := c.ActiveAdd(ctx, "t2"); err != nil {
			t.Fatalf("add: %v", err)
		}
		n, err := c.ActiveCount(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 2 {
			t.Errorf("ActiveCount = %d, want 2", n)
		}
		if err := c.ActiveRemove(ctx, "t1"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		n, _ = c.ActiveCount(ctx)
		if n != 1 {
			t.Errorf("ActiveCount after remove = %d, want 1", n)
		}
	})

	t.Run("ProgressSetGetRoundTrips", func(t *testing.T) {
		c := newCoord(t)
		ctx := context.Background()
		snap := model.ProgressSnapshot{TaskID: "t1", Status: model.StatusDownloading, Percent: 42}
		if err := c.SetProgress(ctx, "t1", snap, time.Minute); err != nil {
			t.Fatalf("set progress: %v", err)
		}
		got, err := c.GetProgress(ctx, "t1")
		if err != nil {
			t.Fatalf("get progress: %v", err)
		}
		if got.Percent != 42 {
			t.Errorf("Percent = %v, want 42", got.Percent)
		}
	})

	t.Run("DeleteProgressRemovesSnapshot", func(t *testing.T) {
		c := newCoord(t)
		ctx := context.Background()
		snap := model.ProgressSnapshot{TaskID: "t1", Status: model.StatusDownloading, Percent: 10}
		if err := c.SetProgress(ctx, "t1", snap, time.Minute); err != nil {
			t.Fatalf("set progress: %v", err)
		}
		if err := c.DeleteProgress(ctx, "t1"); err != nil {
			t.Fatalf("delete progress: %v", err)
		}
		if _, err := c.GetProgress(ctx, "t1"); err != ErrNotFound {
			t.Fatalf("get after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("ProgressGetMissingReturnsErrNotFound", func(t *testing.T) {
		c := newCoord(t)
		if _, err := c.GetProgress(context.Background(), "missing"); err != ErrNotFound {
			t.Fatalf("get missing progress = %v, want ErrNotFound", err)
		}
	})

	t.Run("KeyPutGetDeleteRoundTrips", func(t *testing.T) {
		c := newCoord(t)
		ctx := context.Background()
		record := model.APIKeyRecord{KeyID: "k1", Subject: "alice", Active: true}
		if err := c.PutKey(ctx, record, time.Minute); err != nil {
			t.Fatalf("put key: %v", err)
		}
		got, err := c.GetKey(ctx, "k1")
		if err != nil {
			t.Fatalf("get key: %v", err)
		}
		if got.Subject != "alice" {
			t.Errorf("Subject = %q, want alice", got.Subject)
		}
		if err := c.DeleteKey(ctx, "k1"); err != nil {
			t.Fatalf("delete key: %v", err)
		}
		if _, err := c.GetKey(ctx, "k1"); err != ErrNotFound {
			t.Fatalf("get after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("IncrStartsWindowOnFirstHit", func(t *testing.T) {
		c := newCoord(t)
		ctx := context.Background()
		n1, err := c.Incr(ctx, "client-1", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n1 != 1 {
			t.Errorf("first incr = %d, want 1", n1)
		}
		n2, err := c.Incr(ctx, "client-1", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n2 != 2 {
			t.Errorf("second incr = %d, want 2", n2)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		c := newCoord(t)
		if err := c.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

func TestInmemoryCoordinatorConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Coordinator {
		return NewInmemoryCoordinator()
	})
}
