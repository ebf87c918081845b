// Package store is the task store (C1): a relational mapping with
// strong read-your-writes semantics within a single server. See
// postgres for the production backend and inmemory for tests and for
// a server started with no database_url.
package store

import (
	"context"
	"errors"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// ErrDuplicateID is returned by Create when a task with the given id
// already exists.
var ErrDuplicateID = errors.New("store: duplicate task id")

// ErrNotFound is returned by Get, Update, and Delete when no row
// matches the given id.
var ErrNotFound = errors.New("store: task not found")

// Patch describes a partial update to a task's mutable fields. Nil
// fields are left unchanged. Status transitions are validated against
// model.CanTransition; a transition attempted from a terminal status is
// silently discarded — the caller gets a nil error and an unmodified row,
// per spec.md §4.1's "the later terminal state wins" rule.
type Patch struct {
	Status *model.Status

	ResolvedTitle *string
	ThumbnailURL  *string
	DurationSec   *float64

	Percent   *float64
	ProcessID *int

	OutputPath *string
	OutputSize *int64
	OutputName *string

	ErrorMessage *string

	CompletedAt *bool // true sets CompletedAt to now
}

// Filter narrows List to a subset of tasks. An empty Status matches any
// status.
type Filter struct {
	Status model.Status
	Limit  int // capped at 200 regardless of caller-supplied value
}

// MaxListLimit is the hard ceiling spec.md §4.1 places on List.
const MaxListLimit = 200

// TaskStore is C1's contract. Every method accepts a context so the
// Postgres implementation can honor cancellation/timeouts; the in-memory
// implementation ignores it.
type TaskStore interface {
	Create(ctx context.Context, task model.Task) (model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	Update(ctx context.Context, id string, patch Patch) (model.Task, error)
	List(ctx context.Context, filter Filter) ([]model.Task, error)
	Delete(ctx context.Context, id string) error

	// FindActiveByClientID returns the most recent non-terminal task
	// created with the given client id, for POST /api/download's
	// idempotency rule (SPEC_FULL §3). ErrNotFound if none exists or
	// clientID is empty.
	FindActiveByClientID(ctx context.Context, clientID string) (model.Task, error)

	// Ping checks connectivity for readiness probes.
	Ping(ctx context.Context) error
}
