// api/schemas/results.go
package schemas

import "encoding/json"

// ScreenshotContent is the content payload of a screenshot_result envelope.
type ScreenshotContent struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// ExecutionContent is the content payload of an execution_result envelope.
// Data is left raw; most commands return nothing, some return small blobs
// (clipboard text, package lists).
type ExecutionContent struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NodeData wraps the node list inside a node-query result's data field.
type NodeData struct {
	Nodes []Selector `json:"nodes"`
}

// NodesContent is the content payload of every node-query result envelope.
type NodesContent struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    NodeData `json:"data"`
}

// ExecuteCommand is the content payload of an execute request envelope.
type ExecuteCommand struct {
	ActionType string       `json:"action_type"`
	Parameters ActionParams `json:"parameters"`
}

// Notification is the content payload of status/warning/error envelopes.
type Notification struct {
	Message string `json:"message"`
}

// ClarificationContent asks the user a question. The task terminates after
// asking; replies are not incorporated.
type ClarificationContent struct {
	Question string `json:"question"`
}

// StartTaskContent carries the goal of a new task on a start_task envelope.
type StartTaskContent struct {
	Goal string `json:"goal"`
}

// TaskStatus is the lifecycle state of a task. Transitions are monotonic:
// StatusRunning moves to exactly one terminal status and never back.
type TaskStatus string

const (
	StatusRunning                 TaskStatus = "running"
	StatusCompleted               TaskStatus = "completed"
	StatusFailedMaxSteps          TaskStatus = "failed_max_steps"
	StatusFailedConsecutiveErrors TaskStatus = "failed_consecutive_errors"
	StatusFailedNoProgress        TaskStatus = "failed_no_progress"
	StatusFailedClarification     TaskStatus = "failed_clarification_needed"
	StatusFailedException         TaskStatus = "failed_exception"
	StatusStuck                   TaskStatus = "stuck"
)

// Terminal reports whether the status ends the task.
func (s TaskStatus) Terminal() bool {
	return s != StatusRunning
}

// Failed reports whether the status is a failure (or stuck) outcome.
func (s TaskStatus) Failed() bool {
	return s.Terminal() && s != StatusCompleted
}

// TaskResult is the structured outcome every task loop returns, regardless of
// how it ended.
type TaskResult struct {
	Status          TaskStatus `json:"status"`
	TaskID          string     `json:"task_id"`
	StepsTaken      int        `json:"steps_taken"`
	DurationSeconds float64    `json:"duration_seconds"`
	Message         string     `json:"message,omitempty"`
	Error           string     `json:"error,omitempty"`
}
