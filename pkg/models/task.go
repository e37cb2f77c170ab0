package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "PENDING"
	RunningTaskStatus   TaskStatus = "RUNNING"
	CompletedTaskStatus TaskStatus = "COMPLETED"
	FailedTaskStatus    TaskStatus = "FAILED"
	CancelledTaskStatus TaskStatus = "CANCELLED"
)

func (s TaskStatus) Terminal() bool {
	return s == CompletedTaskStatus || s == FailedTaskStatus || s == CancelledTaskStatus
}

// TaskExecution is a single unit of work handed to a task worker. A task may
// belong to a workflow execution, to an agent execution, or to neither
// (standalone submission). When an idempotency key is present it maps to at
// most one row per task queue: re-submission returns the existing task.
type TaskExecution struct {
	ID                  string     `json:"id" db:"id"`
	Kind                string     `json:"kind" db:"kind"`
	WorkflowExecutionID *string    `json:"workflow_execution_id,omitempty" db:"workflow_execution_id"`
	AgentExecutionID    *string    `json:"agent_execution_id,omitempty" db:"agent_execution_id"`
	TaskQueue           string     `json:"task_queue" db:"task_queue"`
	Status              TaskStatus `json:"status" db:"status"`
	WorkerID            *string    `json:"worker_id,omitempty" db:"worker_id"`
	ExecutionCount      int        `json:"execution_count" db:"execution_count"`
	MaxRetries          int        `json:"max_retries" db:"max_retries"`
	IdempotencyKey      *string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Input               []byte     `json:"input,omitempty" db:"input"`
	Result              []byte     `json:"result,omitempty" db:"result"`
	Progress            []byte     `json:"progress,omitempty" db:"progress"`
	ErrorMsg            string     `json:"error,omitempty" db:"error_msg"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
