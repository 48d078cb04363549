// Package job models the Ingestion Job: a durable, at-least-once unit of
// work that carries one repository ingestion request through a
// waiting/active/completed/failed state machine with bounded retries.
package job

import (
	"time"
)

// State is the lifecycle stage of one Ingestion Job, matching the wire
// vocabulary exposed on the job status endpoint.
type State string

// Job states.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Payload is an Ingestion Job's wire format — opaque to the queue,
// interpreted only by the worker.
type Payload struct {
	RepoURL string
	Ref     string
	Token   string
	UserID  string
	RepoID  string
	Meta    map[string]any
}

// Job is one durable unit of work tracked by the queue.
type Job struct {
	id            string
	payload       Payload
	state         State
	progress      int
	attemptsMade  int
	maxAttempts   int
	failedReason  string
	queuedAt      time.Time
	runAfter      time.Time
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates a freshly queued Job, ready for its first attempt.
func New(id string, payload Payload, maxAttempts int) Job {
	now := time.Now()
	return Job{
		id:          id,
		payload:     payload,
		state:       StateWaiting,
		maxAttempts: maxAttempts,
		queuedAt:    now,
		runAfter:    now,
		createdAt:   now,
		updatedAt:   now,
	}
}

// Reconstruct rebuilds a Job from persisted fields.
func Reconstruct(id string, payload Payload, state State, progress, attemptsMade, maxAttempts int, failedReason string, queuedAt, runAfter, createdAt, updatedAt time.Time) Job {
	return Job{
		id:           id,
		payload:      payload,
		state:        state,
		progress:     progress,
		attemptsMade: attemptsMade,
		maxAttempts:  maxAttempts,
		failedReason: failedReason,
		queuedAt:     queuedAt,
		runAfter:     runAfter,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

// ID returns the job's identifier.
func (j Job) ID() string { return j.id }

// Payload returns the job's ingestion request.
func (j Job) Payload() Payload { return j.payload }

// State returns the job's current lifecycle stage.
func (j Job) State() State { return j.state }

// Progress returns 0..100.
func (j Job) Progress() int { return j.progress }

// AttemptsMade returns how many times this job has been dequeued.
func (j Job) AttemptsMade() int { return j.attemptsMade }

// MaxAttempts returns the configured retry ceiling.
func (j Job) MaxAttempts() int { return j.maxAttempts }

// FailedReason returns the last failure's message, or "" if none.
func (j Job) FailedReason() string { return j.failedReason }

// QueuedAt returns when the job was first enqueued.
func (j Job) QueuedAt() time.Time { return j.queuedAt }

// RunAfter returns the earliest time this job may be dequeued again —
// used to realize the exponential backoff between retry attempts.
func (j Job) RunAfter() time.Time { return j.runAfter }

// CreatedAt returns row creation time.
func (j Job) CreatedAt() time.Time { return j.createdAt }

// UpdatedAt returns the last state-transition time.
func (j Job) UpdatedAt() time.Time { return j.updatedAt }

// ExhaustedRetries reports whether another attempt would exceed the
// configured maximum.
func (j Job) ExhaustedRetries() bool { return j.attemptsMade >= j.maxAttempts }

// Start transitions the job to active and records an attempt. No-op if
// the job is already terminal.
func (j Job) Start() Job {
	if j.state.IsTerminal() {
		return j
	}
	j.state = StateActive
	j.attemptsMade++
	j.updatedAt = time.Now()
	return j
}

// SetProgress updates the 0..100 completion percentage while the job is
// active. No-op if the job is already terminal.
func (j Job) SetProgress(pct int) Job {
	if j.state.IsTerminal() {
		return j
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.progress = pct
	j.updatedAt = time.Now()
	return j
}

// Complete marks the job done. No-op if already terminal.
func (j Job) Complete() Job {
	if j.state.IsTerminal() {
		return j
	}
	j.state = StateCompleted
	j.progress = 100
	j.failedReason = ""
	j.updatedAt = time.Now()
	return j
}

// Retry schedules another attempt after backoff, unless retries are
// exhausted — in which case it fails the job terminally. backoff is the
// delay before the job becomes eligible to run again.
func (j Job) Retry(reason string, backoff time.Duration) Job {
	if j.state.IsTerminal() {
		return j
	}
	j.failedReason = reason
	j.updatedAt = time.Now()
	if j.ExhaustedRetries() {
		j.state = StateFailed
		return j
	}
	j.state = StateWaiting
	j.runAfter = j.updatedAt.Add(backoff)
	return j
}

// Fail marks the job permanently failed regardless of remaining
// attempts — used for errors the queue should not retry at all.
func (j Job) Fail(reason string) Job {
	if j.state.IsTerminal() {
		return j
	}
	j.state = StateFailed
	j.failedReason = reason
	j.updatedAt = time.Now()
	return j
}

// Backoff computes the exponential retry delay for a given attempt
// count, starting at initial and doubling each attempt.
func Backoff(initial time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
