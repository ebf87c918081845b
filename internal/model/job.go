package model

import "time"

// Job is C2's volatile queue entry: a task id plus everything the
// scheduler needs to dispatch and retry it. Higher Priority is serviced
// earlier; ties break by EnqueuedAt.
type Job struct {
	TaskID      string
	Priority    int
	Attempt     int
	MaxAttempts int
	EnqueuedAt  time.Time
	TimeoutSec  int

	// TerminalSnapshot records the last status/error the scheduler observed
	// for this job before it left the queue, for diagnostics only — C1
	// remains the durable source of truth.
	TerminalSnapshot string
}

// Score is the sorted-set score used by the coordination store's priority
// queue: lower scores pop first, so higher priority must yield a lower
// score, and ties break by enqueue order.
func (j Job) Score() float64 {
	return -float64(j.Priority)*1e12 + float64(j.EnqueuedAt.UnixNano())/1e9
}

// Exhausted reports whether the job has used all of its retry attempts.
func (j Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// NextAttempt returns a copy of j bumped for a retry.
func (j Job) NextAttempt(enqueuedAt time.Time) Job {
	next := j
	next.Attempt++
	next.EnqueuedAt = enqueuedAt
	return next
}
