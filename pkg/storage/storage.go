package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an operation lost a race it cannot win by
// retrying: a stale worker reporting on reclaimed work, or an event append
// that exhausted its sequence-number retries.
var ErrConflict = errors.New("conflict")

// ErrNoWork is returned by claim operations when nothing claimable matches.
var ErrNoWork = errors.New("no claimable work")

// WorkflowFilter narrows ListWorkflowExecutions. Zero values mean "any".
type WorkflowFilter struct {
	Status    models.WorkflowStatus
	Kind      string
	TaskQueue string
	ParentID  *string
	Limit     int
}

// TaskFilter narrows ListTaskExecutions. Zero values mean "any".
type TaskFilter struct {
	Status              models.TaskStatus
	Kind                string
	TaskQueue           string
	WorkflowExecutionID *string
	AgentExecutionID    *string
	Limit               int
}

// ReclaimStats counts executions returned to PENDING by a reclaim pass.
type ReclaimStats struct {
	Workflows int
	Tasks     int
	Agents    int
}

func (r ReclaimStats) Total() int { return r.Workflows + r.Tasks + r.Agents }

// Store defines the durable state operations of the engine. Begin returns a
// transactional view with the same interface; Commit/Rollback only make sense
// on that view. Claim operations must be atomic under concurrent callers
// (skip-locked row claims or an equivalent) and AppendEvent must serialize
// sequence assignment per execution.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Event log. AppendEvent assigns the next gap-free sequence number for
	// the execution and returns it; AppendEvents does the same for a batch
	// with all-or-nothing durability.
	AppendEvent(execID string, event models.WorkflowEvent) (int64, error)
	AppendEvents(execID string, events []models.WorkflowEvent) ([]int64, error)
	ListEvents(execID string) ([]models.WorkflowEvent, error)
	ListEventsAfter(execID string, afterSeq int64) ([]models.WorkflowEvent, error)

	// Workflow executions. CreateWorkflowExecution honors the idempotency
	// key: on a key collision it returns the existing row and created=false.
	CreateWorkflowExecution(wf models.WorkflowExecution) (models.WorkflowExecution, bool, error)
	GetWorkflowExecution(id string) (models.WorkflowExecution, error)
	// GetWorkflowExecutionForUpdate reads the row with a lock held for the
	// remainder of the transaction, so a status or ownership check made on the
	// result stays true until commit.
	GetWorkflowExecutionForUpdate(id string) (models.WorkflowExecution, error)
	ListWorkflowExecutions(f WorkflowFilter) ([]models.WorkflowExecution, error)
	ClaimWorkflowExecution(queue string, kinds []string, workerName string) (models.WorkflowExecution, error)
	SuspendWorkflowExecution(id string) error
	ResumeWorkflowExecution(id string) (bool, error)
	CompleteWorkflowExecution(id string, result []byte) error
	FailWorkflowExecution(id string, errMsg string) error
	ListWaitingWorkflowIDs() ([]string, error)

	// Task executions. CreateTaskExecution honors the per-queue idempotency
	// key the same way.
	CreateTaskExecution(t models.TaskExecution) (models.TaskExecution, bool, error)
	GetTaskExecution(id string) (models.TaskExecution, error)
	GetTaskExecutions(ids []string) ([]models.TaskExecution, error)
	ListTaskExecutions(f TaskFilter) ([]models.TaskExecution, error)
	ClaimTaskExecution(queue string, kinds []string, workerName string) (models.TaskExecution, error)
	MarkTaskExecution(id string, status models.TaskStatus, result []byte, errMsg string) error
	RequeueTaskExecution(id string) error
	UpdateTaskProgress(id string, progress []byte) error

	// Timers. ClaimDueTimers atomically stamps fired_at on due, unfired
	// timers and returns them; a timer is returned by exactly one caller.
	CreateTimer(t models.Timer) error
	ClaimDueTimers(now time.Time, limit int) ([]models.Timer, error)

	// Workers.
	UpsertWorker(w models.Worker) (models.Worker, error)
	GetWorker(name string) (models.Worker, error)
	ListWorkers() ([]models.Worker, error)
	HeartbeatWorker(name string) error
	MarkStaleWorkersOffline(cutoff time.Time) ([]string, error)
	ListOnlineWorkerNames() ([]string, error)

	// Reclaim. ReclaimByWorkerNames requeues RUNNING work attributed to the
	// given workers; ReclaimOrphaned requeues RUNNING work attributed to any
	// worker name not in the online set (the periodic sweep backstop).
	ReclaimByWorkerNames(names []string) (ReclaimStats, error)
	ReclaimOrphaned(onlineNames []string) (ReclaimStats, error)

	// Agent executions, entries and checkpoints. AppendAgentEntry is
	// idempotent on the entry id and reports whether a row was created.
	// SaveAgentCheckpoint assigns the next checkpoint_seq and returns it.
	CreateAgentExecution(a models.AgentExecution) (models.AgentExecution, bool, error)
	GetAgentExecution(id string) (models.AgentExecution, error)
	ListAgentExecutions(status models.AgentStatus, limit int) ([]models.AgentExecution, error)
	ClaimAgentExecution(queue string, kinds []string, workerName string) (models.AgentExecution, error)
	SuspendAgentExecution(id string, awaitedTaskIDs []string) error
	ResumeAgentExecution(id string) (bool, error)
	CompleteAgentExecution(id string, result []byte) error
	FailAgentExecution(id string, errMsg string) error
	AppendAgentEntry(e models.AgentEntry) (bool, error)
	ListAgentEntries(agentID string) ([]models.AgentEntry, error)
	SaveAgentCheckpoint(c models.AgentCheckpoint) (int64, error)
	LatestAgentCheckpoint(agentID string) (models.AgentCheckpoint, error)
}
