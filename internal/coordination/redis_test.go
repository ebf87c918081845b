package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

func newTestRedisCoordinator(t *testing.T) Coordinator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCoordinator(client, NewFallbackCache(64))
}

func TestRedisCoordinatorConformance(t *testing.T) {
	runConformance(t, newTestRedisCoordinator)
}

func TestRedisCoordinatorFallsBackOnRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	fallback := NewFallbackCache(64)
	coord := NewRedisCoordinator(client, fallback)

	ctx := context.Background()
	snap := model.ProgressSnapshot{TaskID: "t1", Status: model.StatusDownloading, Percent: 55}
	if err := coord.SetProgress(ctx, "t1", snap, time.Minute); err != nil {
		t.Fatalf("set progress: %v", err)
	}

	mr.Close()

	got, err := coord.GetProgress(ctx, "t1")
	if err != nil {
		t.Fatalf("get progress after redis failure: %v", err)
	}
	if got.Percent != 55 {
		t.Errorf("Percent = %v, want 55 (served from fallback cache)", got.Percent)
	}
}
