package models

import "time"

// Task types.
const (
	TaskOneOff     = "one_off"
	TaskRecurring  = "recurring"
	TaskResearch   = "research"
	TaskComparison = "comparison"
)

// Task result statuses.
const (
	TaskStatusSuccess  = "success"
	TaskStatusError    = "error"
	TaskStatusNoAction = "no_action"
)

// Task is a scheduled work item stored as tasks/<id>.json. The scheduler
// reads these files and fires tasks whose schedule is due. The AI can
// create tasks through the create_task tool.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	// Exactly one of these is set for recurring/one-off schedules.
	CronExpression string     `json:"cron_expression,omitempty"`
	RunAt          *time.Time `json:"run_at,omitempty"`

	Handler string         `json:"handler"`
	Params  map[string]any `json:"params"`

	Enabled      bool      `json:"enabled"`
	CreatedBy    string    `json:"created_by"` // human, ai
	CreatedAt    time.Time `json:"created_at"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`

	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	RunCount   int        `json:"run_count"`
}

// NewTask creates an enabled task with a fresh id.
func NewTask(name, taskType, handler string, params map[string]any) *Task {
	if params == nil {
		params = map[string]any{}
	}
	return &Task{
		ID:        NewID("task"),
		Name:      name,
		Type:      taskType,
		Handler:   handler,
		Params:    params,
		Enabled:   true,
		CreatedBy: "human",
		CreatedAt: time.Now().UTC(),
	}
}

// TaskResult is returned by a task handler after execution.
type TaskResult struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	CreatedTasks []string `json:"created_tasks,omitempty"`
}
