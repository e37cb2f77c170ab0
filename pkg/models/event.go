package models

import "time"

type EventType string

const (
	WorkflowStartedEvent        EventType = "WORKFLOW_STARTED"
	TaskScheduledEvent          EventType = "TASK_SCHEDULED"
	TaskCompletedEvent          EventType = "TASK_COMPLETED"
	TaskFailedEvent             EventType = "TASK_FAILED"
	TimerScheduledEvent         EventType = "TIMER_SCHEDULED"
	TimerFiredEvent             EventType = "TIMER_FIRED"
	ChildWorkflowInitiatedEvent EventType = "CHILD_WORKFLOW_INITIATED"
	ChildWorkflowCompletedEvent EventType = "CHILD_WORKFLOW_COMPLETED"
	PromiseResolvedEvent        EventType = "PROMISE_RESOLVED"
	PromiseRejectedEvent        EventType = "PROMISE_REJECTED"
	PromiseSettledEvent         EventType = "PROMISE_SETTLED"
	SignalReceivedEvent         EventType = "SIGNAL_RECEIVED"
	WorkflowSuspendedEvent      EventType = "WORKFLOW_SUSPENDED"
	WorkflowResumedEvent        EventType = "WORKFLOW_RESUMED"
	WorkflowCompletedEvent      EventType = "WORKFLOW_COMPLETED"
	WorkflowFailedEvent         EventType = "WORKFLOW_FAILED"
)

// WakeEvent reports whether an event of this type can satisfy the wait
// condition of a suspended execution. The dispatcher's missed-wakeup guard and
// the scheduler's resume sweep both key off this set.
func (t EventType) WakeEvent() bool {
	switch t {
	case TaskCompletedEvent, TaskFailedEvent, TimerFiredEvent,
		ChildWorkflowCompletedEvent, PromiseResolvedEvent,
		PromiseRejectedEvent, SignalReceivedEvent:
		return true
	}
	return false
}

// WorkflowEvent is one immutable entry in an execution's append-only log.
// Sequence numbers per execution are gap-free and strictly increasing from 1;
// replay correctness depends on that invariant.
type WorkflowEvent struct {
	ID             int64     `json:"id" db:"id"`
	ExecutionID    string    `json:"execution_id" db:"execution_id"`
	SequenceNumber int64     `json:"sequence_number" db:"sequence_number"`
	EventType      EventType `json:"event_type" db:"event_type"`
	Payload        []byte    `json:"payload,omitempty" db:"payload"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CancelSignalName is the reserved signal appended by cancellation requests.
// Workflow code observes it cooperatively; nothing is forcibly killed.
const CancelSignalName = "flovyn:cancel"
