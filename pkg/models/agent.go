package models

import "time"

type AgentStatus string

const (
	PendingAgentStatus         AgentStatus = "PENDING"
	RunningAgentStatus         AgentStatus = "RUNNING"
	WaitingForTasksAgentStatus AgentStatus = "WAITING_FOR_TASKS"
	CompletedAgentStatus       AgentStatus = "COMPLETED"
	FailedAgentStatus          AgentStatus = "FAILED"
)

func (s AgentStatus) Terminal() bool {
	return s == CompletedAgentStatus || s == FailedAgentStatus
}

// AgentExecution is a durable run of non-deterministic agent logic. Unlike
// workflows, agents are not replayed through user code: they resume from the
// latest checkpoint plus the persisted entry log, and rely on idempotency keys
// to avoid duplicating side effects.
type AgentExecution struct {
	ID             string      `json:"id" db:"id"`
	Kind           string      `json:"kind" db:"kind"`
	TaskQueue      string      `json:"task_queue" db:"task_queue"`
	Status         AgentStatus `json:"status" db:"status"`
	WorkerID       *string     `json:"worker_id,omitempty" db:"worker_id"`
	AwaitedTaskIDs StringList  `json:"awaited_task_ids,omitempty" db:"awaited_task_ids"`
	IdempotencyKey *string     `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Input          []byte      `json:"input,omitempty" db:"input"`
	Result         []byte      `json:"result,omitempty" db:"result"`
	ErrorMsg       string      `json:"error,omitempty" db:"error_msg"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

type AgentEntryType string

const (
	UserAgentEntry       AgentEntryType = "USER"
	AssistantAgentEntry  AgentEntryType = "ASSISTANT"
	ToolResultAgentEntry AgentEntryType = "TOOL_RESULT"
	SystemAgentEntry     AgentEntryType = "SYSTEM"
)

// AgentEntry is one node in an execution's tree-structured entry log. IDs are
// randomly generated by the client, never positional counters: a counter
// collides as soon as conditional code paths change which call is the Nth.
// Appending an entry whose id already exists is a no-op.
type AgentEntry struct {
	ID               string         `json:"id" db:"id"`
	AgentExecutionID string         `json:"agent_execution_id" db:"agent_execution_id"`
	ParentEntryID    *string        `json:"parent_entry_id,omitempty" db:"parent_entry_id"`
	EntryType        AgentEntryType `json:"entry_type" db:"entry_type"`
	Content          []byte         `json:"content,omitempty" db:"content"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// AgentCheckpoint is an opaque snapshot of agent state. CheckpointSeq is
// assigned monotonically per execution by the store.
type AgentCheckpoint struct {
	ID               int64     `json:"id" db:"id"`
	AgentExecutionID string    `json:"agent_execution_id" db:"agent_execution_id"`
	CheckpointSeq    int64     `json:"checkpoint_seq" db:"checkpoint_seq"`
	LeafEntryID      *string   `json:"leaf_entry_id,omitempty" db:"leaf_entry_id"`
	State            []byte    `json:"state,omitempty" db:"state"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
