// Package tasks runs backup attempts with bounded concurrency, retries,
// cooperative pause and cancellation.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrCancelled is returned by runners that observed cancellation. It is never retried.
	ErrCancelled = errors.New("task cancelled")
	// ErrDuplicateTask is returned when the item already has a pending or running task.
	ErrDuplicateTask = errors.New("item already has an active task")
	// ErrTaskNotFound is returned for unknown or purged task IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinished is returned when controlling a task that already reached a terminal state.
	ErrTaskFinished = errors.New("task already finished")
	// ErrEngineClosed is returned after Shutdown.
	ErrEngineClosed = errors.New("engine is shut down")
)

// Task is a point-in-time copy of one execution attempt of an item.
type Task struct {
	ID          string                `json:"id"`
	ItemID      string                `json:"item_id"`
	ItemName    string                `json:"item_name"`
	Status      Status                `json:"status"`
	Progress    float64               `json:"progress"`
	Paused      bool                  `json:"paused"`
	RetryCount  int                   `json:"retry_count"`
	LastError   string                `json:"last_error,omitempty"`
	Summary     *models.BackupSummary `json:"summary,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// Control lets a runner cooperate with pause and cancellation.
type Control interface {
	// Checkpoint blocks while the task is paused and returns ErrCancelled once
	// the task is cancelled. Runners call it between files and chunks.
	Checkpoint(ctx context.Context) error
}

// Runner performs one backup attempt for an item.
type Runner interface {
	Run(ctx context.Context, ctl Control, item models.Item, progress func(float64)) (*models.BackupSummary, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, ctl Control, item models.Item, progress func(float64)) (*models.BackupSummary, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, ctl Control, item models.Item, progress func(float64)) (*models.BackupSummary, error) {
	return f(ctx, ctl, item, progress)
}

// EventKind tags an Event.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventQueued       EventKind = "queued"
	EventStatusChange EventKind = "status_change"
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
	EventRetry        EventKind = "retry"
	EventPaused       EventKind = "paused"
	EventResumed      EventKind = "resumed"
	EventCancelled    EventKind = "cancelled"
)

// Event is emitted on every observable engine transition.
// Attempt and Delay are set for EventRetry; Err for EventRetry and EventFailed.
// Global pause and resume events carry a zero Task.
type Event struct {
	Kind    EventKind
	Task    Task
	Attempt int
	Delay   time.Duration
	Err     error
}
