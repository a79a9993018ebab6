package workflow

import (
	"time"
)

// TaskExecution is the mutable run state of one task. It is mutated only
// from the engine's control flow and handed to the caller as part of the
// immutable result once the run is terminal.
type TaskExecution struct {
	Name       string         `json:"name"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	State      TaskState      `json:"state"`
	Attempts   int            `json:"attempts"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	WorkflowID string         `json:"workflow_id"`
}

// Result is the aggregate outcome of a run.
type Result struct {
	WorkflowID string        `json:"workflow_id"`
	Name       string        `json:"name"`
	State      WorkflowState `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	CancelledTasks int `json:"cancelled_tasks"`

	// Tasks maps task name to its execution record.
	Tasks map[string]*TaskExecution `json:"tasks"`
	// Results holds the payloads of completed tasks by name.
	Results map[string]map[string]any `json:"results"`
	// Errors holds the terminal error messages of failed tasks by name.
	Errors map[string]string `json:"errors"`
}

// Progress returns percent-complete over terminal tasks, in [0, 100].
func (r *Result) Progress() float64 {
	if r.TotalTasks == 0 {
		return 0
	}
	terminal := r.CompletedTasks + r.FailedTasks + r.CancelledTasks
	return float64(terminal) / float64(r.TotalTasks) * 100
}
