package models

import "time"

type WorkflowStatus string

const (
	PendingWorkflowStatus   WorkflowStatus = "PENDING"
	RunningWorkflowStatus   WorkflowStatus = "RUNNING"
	WaitingWorkflowStatus   WorkflowStatus = "WAITING"
	CompletedWorkflowStatus WorkflowStatus = "COMPLETED"
	FailedWorkflowStatus    WorkflowStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s WorkflowStatus) Terminal() bool {
	return s == CompletedWorkflowStatus || s == FailedWorkflowStatus
}

// WorkflowExecution is one durable run of a registered workflow kind. Its
// in-memory state is never persisted directly: everything a resumed run needs
// is reconstructed by replaying the execution's event log.
type WorkflowExecution struct {
	ID               string         `json:"id" db:"id"`
	Kind             string         `json:"kind" db:"kind"`
	TaskQueue        string         `json:"task_queue" db:"task_queue"`
	Status           WorkflowStatus `json:"status" db:"status"`
	WorkerID         *string        `json:"worker_id,omitempty" db:"worker_id"` // claiming worker's name, meaningful only while RUNNING
	CurrentSequence  int64          `json:"current_sequence" db:"current_sequence"`
	ParentWorkflowID *string        `json:"parent_workflow_id,omitempty" db:"parent_workflow_id"`
	IdempotencyKey   *string        `json:"idempotency_key,omitempty" db:"idempotency_key"`
	PriorityMS       int64          `json:"priority_ms" db:"priority_ms"`
	Input            []byte         `json:"input,omitempty" db:"input"`
	Result           []byte         `json:"result,omitempty" db:"result"`
	ErrorMsg         string         `json:"error,omitempty" db:"error_msg"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}
