// Package inmemory backs unit tests and a server with no database_url,
// grounded on the teacher's internal/auth/adapters/memory_store.go
// (mutex-guarded map, same interface as the Postgres adapter).
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

// Store is store.TaskStore backed by an in-process map.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
}

// New builds an empty Store.
func New() *Store {
	return &Store{tasks: map[string]model.Task{}}
}

func (s *Store) Create(_ context.Context, task model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return model.Task{}, store.ErrDuplicateID
	}
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) Get(_ context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return model.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (s *Store) Update(_ context.Context, id string, patch store.Patch) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return model.Task{}, store.ErrNotFound
	}

	if patch.Status != nil && !model.CanTransition(current.Status, *patch.Status) {
		return current, nil
	}

	next := applyPatch(current, patch)
	next.UpdatedAt = time.Now()
	s.tasks[id] = next
	return next, nil
}

func (s *Store) List(_ context.Context, filter store.Filter) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 || limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}

	matched := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) FindActiveByClientID(_ context.Context, clientID string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if clientID == "" {
		return model.Task{}, store.ErrNotFound
	}
	var best model.Task
	found := false
	for _, t := range s.tasks {
		if t.ClientID != clientID || t.Status.IsTerminal() {
			continue
		}
		if !found || t.CreatedAt.After(best.CreatedAt) {
			best = t
			found = true
		}
	}
	if !found {
		return model.Task{}, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func applyPatch(t model.Task, patch store.Patch) model.Task {
	if patch.Status != nil {
		t.Status = *patch.Status
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
	if patch.ProcessID != nil {
		t.ProcessID = *patch.ProcessID
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
	return t
}

var _ store.TaskStore = (*Store)(nil)
