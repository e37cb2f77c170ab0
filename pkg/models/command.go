package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	ScheduleTaskCommandType          CommandType = "SCHEDULE_TASK"
	ScheduleChildWorkflowCommandType CommandType = "SCHEDULE_CHILD_WORKFLOW"
	StartTimerCommandType            CommandType = "START_TIMER"
	ResolvePromiseCommandType        CommandType = "RESOLVE_PROMISE"
	RejectPromiseCommandType         CommandType = "REJECT_PROMISE"
	SuspendCommandType               CommandType = "SUSPEND"
	CompleteCommandType              CommandType = "COMPLETE"
	FailCommandType                  CommandType = "FAIL"
)

// Command is one decision a workflow worker reports back after running user
// code against the replayed event log. Exactly one of the payload fields is
// set, matching Type.
type Command struct {
	Type                  CommandType                   `json:"type"`
	ScheduleTask          *ScheduleTaskCommand          `json:"schedule_task,omitempty"`
	ScheduleChildWorkflow *ScheduleChildWorkflowCommand `json:"schedule_child_workflow,omitempty"`
	StartTimer            *StartTimerCommand            `json:"start_timer,omitempty"`
	ResolvePromise        *ResolvePromiseCommand        `json:"resolve_promise,omitempty"`
	RejectPromise         *RejectPromiseCommand         `json:"reject_promise,omitempty"`
	Suspend               *SuspendCommand               `json:"suspend,omitempty"`
	Complete              *CompleteCommand              `json:"complete,omitempty"`
	Fail                  *FailCommand                  `json:"fail,omitempty"`
}

// ScheduleTaskCommand schedules a task owned by the issuing workflow.
// TaskQueue nil means "inherit the workflow's queue"; the empty string is a
// legitimate explicit queue name, never an inherit sentinel.
type ScheduleTaskCommand struct {
	TaskID         string          `json:"task_id"`
	Kind           string          `json:"kind"`
	Input          json.RawMessage `json:"input,omitempty"`
	TaskQueue      *string         `json:"task_queue,omitempty"`
	MaxRetries     int             `json:"max_retries"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

type ScheduleChildWorkflowCommand struct {
	ChildWorkflowID string          `json:"child_workflow_id"`
	Kind            string          `json:"kind"`
	Input           json.RawMessage `json:"input,omitempty"`
	TaskQueue       *string         `json:"task_queue,omitempty"`
	PriorityMS      int64           `json:"priority_ms"`
}

type StartTimerCommand struct {
	TimerID string    `json:"timer_id"`
	FireAt  time.Time `json:"fire_at"`
}

// ResolvePromiseCommand resolves a named promise on another execution's log.
type ResolvePromiseCommand struct {
	WorkflowExecutionID string          `json:"workflow_execution_id"`
	Name                string          `json:"name"`
	Value               json.RawMessage `json:"value,omitempty"`
}

type RejectPromiseCommand struct {
	WorkflowExecutionID string `json:"workflow_execution_id"`
	Name                string `json:"name"`
	Reason              string `json:"reason"`
}

// SuspendCommand parks the workflow in WAITING. LastProcessedSequence is the
// highest event sequence the worker's replay consumed; the dispatcher uses it
// to detect wake events that raced the suspension.
type SuspendCommand struct {
	LastProcessedSequence int64 `json:"last_processed_sequence"`
}

type CompleteCommand struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type FailCommand struct {
	Error string `json:"error"`
}
