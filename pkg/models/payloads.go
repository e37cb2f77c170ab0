package models

import (
	"encoding/json"
	"time"
)

// Typed payloads for each event type. Payloads are stored as opaque JSON in
// the log; these structs are the one place their shape is defined.

type WorkflowStartedPayload struct {
	Kind  string          `json:"kind"`
	Input json.RawMessage `json:"input,omitempty"`
}

type TaskScheduledPayload struct {
	TaskID    string          `json:"task_id"`
	TaskKind  string          `json:"task_kind"`
	TaskQueue string          `json:"task_queue"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type TaskCompletedPayload struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type TimerScheduledPayload struct {
	TimerID string    `json:"timer_id"`
	FireAt  time.Time `json:"fire_at"`
}

type TimerFiredPayload struct {
	TimerID string `json:"timer_id"`
}

type ChildWorkflowInitiatedPayload struct {
	ChildWorkflowID string          `json:"child_workflow_id"`
	Kind            string          `json:"kind"`
	TaskQueue       string          `json:"task_queue"`
	Input           json.RawMessage `json:"input,omitempty"`
}

type ChildWorkflowCompletedPayload struct {
	ChildWorkflowID string          `json:"child_workflow_id"`
	Failed          bool            `json:"failed"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type PromiseResolvedPayload struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

type PromiseRejectedPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// PromiseSettledPayload lands on the log of the workflow that issued a
// resolve or reject against another execution. On replay it tells the issuer
// the settlement already happened, so the command is not re-emitted.
type PromiseSettledPayload struct {
	WorkflowExecutionID string `json:"workflow_execution_id"`
	Name                string `json:"name"`
	Rejected            bool   `json:"rejected,omitempty"`
}

type SignalReceivedPayload struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WorkflowCompletedPayload struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type WorkflowFailedPayload struct {
	Error string `json:"error"`
}

// NewEvent builds an event for execID with the payload marshalled to JSON.
// The sequence number is assigned by the store at append time.
func NewEvent(execID string, eventType EventType, payload interface{}) (WorkflowEvent, error) {
	var raw []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return WorkflowEvent{}, err
		}
		raw = b
	}
	return WorkflowEvent{
		ExecutionID: execID,
		EventType:   eventType,
		Payload:     raw,
	}, nil
}
