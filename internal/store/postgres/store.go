// Package postgres is the production backend for C1, grounded on the
// teacher's internal/auth/adapters/postgres_store.go: pgxpool.Pool
// construction, prepared-query execution, and pgx.ErrNoRows /
// pgconn.PgError unique-violation mapping.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

const uniqueViolation = "23505"

// Store is store.TaskStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-configured pool. Run migrations separately via
// cmd/mediaforge-server migrate.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// retryPolicy implements spec.md §4.1's retry policy: capped exponential
// backoff, max 3 attempts, 0.5s base doubling to a 5s ceiling. Integrity
// violations (duplicate id) are never retried — only transient connection
// errors are.
func retryPolicy(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, 2), ctx)
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, retryPolicy(ctx))
}

func isPermanent(err error) bool {
	if errors.Is(err, store.ErrDuplicateID) || errors.Is(err, store.ErrNotFound) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	return false
}

func (s *Store) Create(ctx context.Context, task model.Task) (model.Task, error) {
	var created model.Task
	err := s.withRetry(ctx, func() error {
		row, err := insertTask(ctx, s.pool, task)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return store.ErrDuplicateID
			}
			return fmt.Errorf("postgres: create task: %w", err)
		}
		created = row
		return nil
	})
	return created, err
}

func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	var task model.Task
	err := s.withRetry(ctx, func() error {
		row, err := selectTask(ctx, s.pool, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("postgres: get task: %w", err)
		}
		task = row
		return nil
	})
	return task, err
}

// FindActiveByClientID implements store.TaskStore's idempotency lookup.
func (s *Store) FindActiveByClientID(ctx context.Context, clientID string) (model.Task, error) {
	var task model.Task
	if clientID == "" {
		return task, store.ErrNotFound
	}
	err := s.withRetry(ctx, func() error {
		row, err := selectActiveTaskByClientID(ctx, s.pool, clientID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("postgres: find active task by client id: %w", err)
		}
		task = row
		return nil
	})
	return task, err
}

func (s *Store) Update(ctx context.Context, id string, patch store.Patch) (model.Task, error) {
	var updated model.Task
	err := s.withRetry(ctx, func() error {
		current, err := selectTask(ctx, s.pool, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("postgres: update: load current: %w", err)
		}

		next := applyPatch(current, patch)
		if patch.Status != nil && !model.CanTransition(current.Status, *patch.Status) {
			// Terminal-state race: the later terminal state wins, this
			// write is silently discarded.
			updated = current
			return nil
		}
		next.UpdatedAt = time.Now()

		row, err := updateTask(ctx, s.pool, next)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("postgres: update task: %w", err)
		}
		updated = row
		return nil
	})
	return updated, err
}

func (s *Store) List(ctx context.Context, filter store.Filter) ([]model.Task, error) {
	limit := filter.Limit
	if limit <= 0 || limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	var tasks []model.Task
	err := s.withRetry(ctx, func() error {
		rows, err := listTasks(ctx, s.pool, filter.Status, limit)
		if err != nil {
			return fmt.Errorf("postgres: list tasks: %w", err)
		}
		tasks = rows
		return nil
	})
	return tasks, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("postgres: delete task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ store.TaskStore = (*Store)(nil)
