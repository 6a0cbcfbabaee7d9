// File: internal/taskstore/taskstore.go

// Package taskstore records finished tasks and their step trail so runs can
// be inspected after the fact.
package taskstore

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// ErrNotFound is returned when a task id is unknown to the store.
var ErrNotFound = errors.New("taskstore: task not found")

// TaskRecord is the durable summary of one task run.
type TaskRecord struct {
	TaskID          string
	SessionID       string
	Goal            string
	Status          schemas.TaskStatus
	StepsTaken      int
	DurationSeconds float64
	Message         string
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// StepRecord is one executed step of a task.
type StepRecord struct {
	TaskID          string
	Step            int
	Action          string
	SubGoal         string
	Success         bool
	Message         string
	ObservationHash string
	CreatedAt       time.Time
}

// Store persists task outcomes and step trails.
type Store interface {
	// SaveTask inserts or updates the task summary. Called once when the task
	// starts (status running) and once when it terminates.
	SaveTask(ctx context.Context, rec TaskRecord) error

	// SaveStep appends one step to the task's trail.
	SaveStep(ctx context.Context, rec StepRecord) error

	// GetTask returns the stored summary for a task id.
	GetTask(ctx context.Context, taskID string) (TaskRecord, error)

	// ListSteps returns the step trail for a task, ordered by step number.
	ListSteps(ctx context.Context, taskID string) ([]StepRecord, error)

	// Close releases the backing resources.
	Close()
}
