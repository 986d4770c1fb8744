package scheduler

import (
	"context"
	"errors"
	"time"
)

// Task is a durable timer: a retry dial attempt or a safety-net force end.
// Tasks survive process restarts; the worker claims due tasks and hands
// them to the orchestrator.
type Task struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Kind      Kind       `json:"kind"`

	// Role and Attempt apply to retry_dial tasks.
	Role    string `json:"role,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	RunAt     time.Time  `json:"run_at"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type Kind string

const (
	KindRetryDial Kind = "retry_dial"
	KindForceEnd  Kind = "force_end"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

var ErrTaskNotFound = errors.New("scheduler: task not found")

// Store persists tasks. Claim must hand each due task to exactly one
// caller even with concurrent workers.
type Store interface {
	Schedule(ctx context.Context, t Task) error

	// Claim atomically takes up to limit due pending tasks out of the
	// pending state and returns them.
	Claim(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// Finish records the final status of a claimed task.
	Finish(ctx context.Context, id string, status TaskStatus) error

	// CancelForSession cancels pending tasks of the given kind for a
	// session. Cancelling when none exist is not an error.
	CancelForSession(ctx context.Context, sessionID string, kind Kind) error
}
