package models

import "time"

// Timer is a durable wake-up scheduled by a workflow. The scheduler fires a
// timer exactly once by claiming it with a fired_at marker before appending
// TIMER_FIRED to the owning execution's log.
type Timer struct {
	ID                  string     `json:"id" db:"id"`
	WorkflowExecutionID string     `json:"workflow_execution_id" db:"workflow_execution_id"`
	FireAt              time.Time  `json:"fire_at" db:"fire_at"`
	FiredAt             *time.Time `json:"fired_at,omitempty" db:"fired_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}
