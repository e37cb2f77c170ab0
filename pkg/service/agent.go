package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// StartAgentRequest describes a new agent execution submission.
type StartAgentRequest struct {
	Kind           string
	TaskQueue      string
	Input          []byte
	IdempotencyKey *string
}

// StartAgent creates a PENDING agent execution. Unlike workflows, agents keep
// no event log; their durable record is the entry tree plus checkpoints.
func (s *DispatchService) StartAgent(ctx context.Context, req StartAgentRequest) (models.AgentExecution, error) {
	if req.Kind == "" {
		return models.AgentExecution{}, errors.New("agent kind cannot be empty")
	}
	if req.TaskQueue == "" {
		return models.AgentExecution{}, errors.New("task queue cannot be empty")
	}
	agent, created, err := s.store.CreateAgentExecution(models.AgentExecution{
		Kind:           req.Kind,
		TaskQueue:      req.TaskQueue,
		Status:         models.PendingAgentStatus,
		IdempotencyKey: req.IdempotencyKey,
		Input:          req.Input,
	})
	if err != nil {
		return models.AgentExecution{}, err
	}
	if !created {
		s.logger.Infof("Agent submission deduplicated by idempotency key, returning %s", agent.ID)
		return agent, nil
	}
	s.logger.Infof("Started agent %s kind=%s queue=%s", agent.ID, agent.Kind, agent.TaskQueue)
	s.notifier.Notify(Notification{Type: AgentNotification, Queue: agent.TaskQueue, Kind: agent.Kind})
	return agent, nil
}

// AgentTask is one claimed agent slice: the execution, its full entry history
// and the latest checkpoint (if any) to restore state from.
type AgentTask struct {
	Execution  models.AgentExecution   `json:"execution"`
	Entries    []models.AgentEntry     `json:"entries"`
	Checkpoint *models.AgentCheckpoint `json:"checkpoint,omitempty"`
}

// PollAgent claims one PENDING agent execution matching the queue and the
// caller's declared kinds. Returns nil when nothing is claimable.
func (s *DispatchService) PollAgent(ctx context.Context, queue string, kinds []string, workerName string) (*AgentTask, error) {
	agent, err := s.store.ClaimAgentExecution(queue, kinds, workerName)
	if err == storage.ErrNoWork {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListAgentEntries(agent.ID)
	if err != nil {
		return nil, err
	}
	task := &AgentTask{Execution: agent, Entries: entries}
	cp, err := s.store.LatestAgentCheckpoint(agent.ID)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}
	if err == nil {
		task.Checkpoint = &cp
	}
	s.logger.Debugf("Agent %s claimed by %s", agent.ID, workerName)
	return task, nil
}

// AppendAgentEntry records one entry in the agent's history. The entry id is
// the idempotency handle: re-appending an id already present is a no-op, so a
// worker retrying after a crash never duplicates history.
func (s *DispatchService) AppendAgentEntry(ctx context.Context, entry models.AgentEntry) (bool, error) {
	if entry.ID == "" {
		return false, errors.New("agent entry id cannot be empty")
	}
	if entry.AgentExecutionID == "" {
		return false, errors.New("agent execution id cannot be empty")
	}
	created, err := s.store.AppendAgentEntry(entry)
	if err != nil {
		return false, err
	}
	if !created {
		s.logger.Debugf("Agent entry %s already recorded, skipping", entry.ID)
	}
	return created, nil
}

// SaveAgentCheckpoint persists an opaque state snapshot for the agent and
// returns its assigned sequence. Checkpoint sequences are monotonic per
// agent; a stale worker saving after a reclaim produces a higher-seq snapshot
// that the next claim simply supersedes.
func (s *DispatchService) SaveAgentCheckpoint(ctx context.Context, cp models.AgentCheckpoint) (int64, error) {
	if cp.AgentExecutionID == "" {
		return 0, errors.New("agent execution id cannot be empty")
	}
	seq, err := s.store.SaveAgentCheckpoint(cp)
	if err != nil {
		return 0, err
	}
	s.logger.Debugf("Agent %s checkpoint saved at seq %d", cp.AgentExecutionID, seq)
	return seq, nil
}

// SubmitAgentTaskRequest schedules a task owned by an agent execution. The
// task id is chosen by the worker (derived deterministically from the agent's
// state) so resubmission after a crash lands on the same row.
type SubmitAgentTaskRequest struct {
	TaskID           string
	AgentExecutionID string
	Kind             string
	TaskQueue        *string
	Input            []byte
	MaxRetries       int
	IdempotencyKey   *string
}

// SubmitAgentTask creates a PENDING task owned by the agent. Already-existing
// task ids and idempotency keys both dedupe to the existing row.
func (s *DispatchService) SubmitAgentTask(ctx context.Context, req SubmitAgentTaskRequest) (models.TaskExecution, error) {
	agent, err := s.store.GetAgentExecution(req.AgentExecutionID)
	if err != nil {
		return models.TaskExecution{}, err
	}
	if agent.Status.Terminal() {
		return models.TaskExecution{}, errors.Errorf("agent %s is already %s", agent.ID, agent.Status)
	}
	queue := agent.TaskQueue
	if req.TaskQueue != nil {
		queue = *req.TaskQueue
	}
	agentID := agent.ID
	task, created, err := s.store.CreateTaskExecution(models.TaskExecution{
		ID:               req.TaskID,
		Kind:             req.Kind,
		AgentExecutionID: &agentID,
		TaskQueue:        queue,
		Status:           models.PendingTaskStatus,
		MaxRetries:       req.MaxRetries,
		IdempotencyKey:   req.IdempotencyKey,
		Input:            req.Input,
	})
	if err != nil {
		return models.TaskExecution{}, err
	}
	if created {
		s.notifier.Notify(Notification{Type: TaskNotification, Queue: queue, Kind: task.Kind})
	}
	return task, nil
}

// SuspendAgent parks the agent in WAITING_FOR_TASKS until every awaited task
// reaches a terminal status. A completion that raced the suspension is caught
// by the post-suspend re-check, mirroring the workflow wakeup guard.
func (s *DispatchService) SuspendAgent(ctx context.Context, agentID string, awaitedTaskIDs []string) error {
	if len(awaitedTaskIDs) == 0 {
		return errors.New("agent suspension requires at least one awaited task")
	}
	if err := s.store.SuspendAgentExecution(agentID, awaitedTaskIDs); err != nil {
		return err
	}

	tasks, err := s.store.GetTaskExecutions(awaitedTaskIDs)
	if err != nil {
		s.logger.Errorf("Post-suspend task check for agent %s failed: %v", agentID, err)
		return nil
	}
	allDone := len(tasks) == len(awaitedTaskIDs)
	for _, t := range tasks {
		if !t.Status.Terminal() {
			allDone = false
			break
		}
	}
	if allDone {
		if err := s.resumeAgent(s.store, agentID); err != nil {
			s.logger.Errorf("Post-suspend resume for agent %s failed: %v", agentID, err)
		}
	}
	return nil
}

// CompleteAgent marks the agent COMPLETED with its final result.
func (s *DispatchService) CompleteAgent(ctx context.Context, agentID string, result []byte) error {
	if err := s.store.CompleteAgentExecution(agentID, result); err != nil {
		return err
	}
	s.logger.Infof("Agent %s completed", agentID)
	return nil
}

// FailAgent marks the agent FAILED.
func (s *DispatchService) FailAgent(ctx context.Context, agentID, errMsg string) error {
	if err := s.store.FailAgentExecution(agentID, errMsg); err != nil {
		return err
	}
	s.logger.Infof("Agent %s failed: %s", agentID, errMsg)
	return nil
}

func (s *DispatchService) GetAgent(ctx context.Context, agentID string) (models.AgentExecution, error) {
	return s.store.GetAgentExecution(agentID)
}

func (s *DispatchService) ListAgentEntries(ctx context.Context, agentID string) ([]models.AgentEntry, error) {
	return s.store.ListAgentEntries(agentID)
}

// resumeAgentIfAwaitedDone wakes a WAITING_FOR_TASKS agent once the task that
// just finished was the last outstanding one it awaited.
func (s *DispatchService) resumeAgentIfAwaitedDone(txStore storage.Store, agentID, finishedTaskID string) error {
	agent, err := txStore.GetAgentExecution(agentID)
	if err != nil {
		return err
	}
	if agent.Status != models.WaitingForTasksAgentStatus {
		return nil
	}
	if !agent.AwaitedTaskIDs.Contains(finishedTaskID) {
		return nil
	}
	tasks, err := txStore.GetTaskExecutions(agent.AwaitedTaskIDs)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		// The task being finalized in this transaction may still read as
		// RUNNING through a separate connection, so treat it as done.
		if t.ID == finishedTaskID {
			continue
		}
		if !t.Status.Terminal() {
			return nil
		}
	}
	return s.resumeAgent(txStore, agentID)
}

func (s *DispatchService) resumeAgent(store storage.Store, agentID string) error {
	resumed, err := store.ResumeAgentExecution(agentID)
	if err != nil {
		return err
	}
	if resumed {
		agent, err := store.GetAgentExecution(agentID)
		if err != nil {
			return err
		}
		s.logger.Infof("Agent %s resumed, awaited tasks finished", agentID)
		s.notifier.Notify(Notification{Type: AgentNotification, Queue: agent.TaskQueue, Kind: agent.Kind})
	}
	return nil
}
