package model

import "time"

// EventKind categorizes a lifecycle event recorded in a ProgressSnapshot's
// ring buffer.
type EventKind string

const (
	EventEnqueued    EventKind = "enqueued"
	EventStarted     EventKind = "started"
	EventRetry       EventKind = "retry"
	EventProgress    EventKind = "progress"
	EventCompleted   EventKind = "completed"
	EventFailed      EventKind = "failed"
	EventCancelled   EventKind = "cancelled"
)

// Event is one entry in a ProgressSnapshot's bounded history ring.
type Event struct {
	Kind      EventKind
	Message   string
	Timestamp time.Time
}

// maxEventRing bounds the per-task event history; emitting on every
// percent tick instead of on a threshold would blow past this and is
// non-conformant (see SPEC_FULL §9).
const maxEventRing = 100

// ProgressSnapshot is C2's live view of a running task, refreshed far more
// often than C1's row and discarded once the task ages out.
type ProgressSnapshot struct {
	TaskID        string
	Status        Status
	Percent       float64
	BytesDone     int64
	BytesTotal    int64
	BytesPerSec   float64
	ETASeconds    *int64 // nil when unknown
	LastUpdate    time.Time
	WorkerID      string // scheduler slot owning the task, set by Tracker.Init; Supervisor.reap takes the slot from Scheduler.workerFor, not from here
	Events        []Event
}

// RecordEvent appends an event, dropping the oldest once the ring is full.
func (p *ProgressSnapshot) RecordEvent(kind EventKind, message string, at time.Time) {
	p.Events = append(p.Events, Event{Kind: kind, Message: message, Timestamp: at})
	if overflow := len(p.Events) - maxEventRing; overflow > 0 {
		p.Events = p.Events[overflow:]
	}
}

// ClampPercent clamps p.Percent into [0, 100].
func (p *ProgressSnapshot) ClampPercent() {
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
}
