// Package model holds the value types shared by the store, coordination,
// scheduler, and progress packages, so C1, C2, C4, and C5 depend on one
// vocabulary instead of redeclaring structs.
package model

import "time"

// Status is a task's position in the state machine. Values only ever move
// along the edges allowedTransitions lists; see CanTransition.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether a task in this status will never transition
// again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions enumerates the state machine's edges. pending is the
// only entry state; terminal states have no outgoing edges.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusDownloading: true,
		StatusCancelled:   true,
		StatusFailed:      true,
	},
	StatusDownloading: {
		StatusPending:    true, // retryable failure, re-enqueued
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether a task may move from 'from' to 'to'.
// Terminal states never transition again, regardless of 'to' — a later
// write racing a terminal status is a no-op the caller should discard, not
// an error.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Task is C1's persistent record: a media acquisition/transcode request and
// everything learned or produced while servicing it.
type Task struct {
	ID string

	// Request parameters.
	SourceURL       string
	Container       string // requested container/codec family
	FormatCode      string // explicit format selector, if the caller supplied one
	QualityHint     string // "best", "worst", "<N>p"
	AudioOnly       bool
	Title           string // cosmetic title override
	EmbedThumbnail  bool
	ClientID        string // caller-supplied idempotency token; see SPEC_FULL §3
	Proxy           string // per-task override of YTDLP_PROXY
	CookiesFile     string // per-task override of YTDLP_COOKIES_FILE

	// Derived metadata, filled in once the extractor has probed the source.
	ResolvedTitle string
	ThumbnailURL  string
	DurationSec   float64

	// Execution state.
	Status    Status
	Percent   float64
	ProcessID int // OS pid of the running subprocess, 0 when idle

	// Result / failure, mutually exclusive in practice but both zero-valued
	// until the task reaches a terminal status.
	OutputPath   string
	OutputSize   int64
	OutputName   string
	ErrorMessage string // truncated to 500 bytes, see Task.SetError

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
	ClientIP    string
}

const maxErrorMessageLen = 500

// SetError truncates msg to the persisted error-message limit.
func (t *Task) SetError(msg string) {
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	t.ErrorMessage = msg
}

// Validate reports whether the task satisfies the invariants in SPEC_FULL
// §3: a completed task has a non-empty output path and size, and
// percent=100 iff completed.
func (t *Task) Validate() error {
	if t.Status == StatusCompleted {
		if t.OutputPath == "" {
			return errInvalid("completed task missing output path")
		}
		if t.OutputSize <= 0 {
			return errInvalid("completed task missing output size")
		}
	}
	if t.Percent == 100 && t.Status != StatusCompleted {
		return errInvalid("percent=100 requires status=completed")
	}
	if t.Status == StatusCompleted && t.Percent != 100 {
		return errInvalid("completed task must report percent=100")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errInvalid(msg string) error { return validationError(msg) }
