package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/internal/metrics"
	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// SubmitTaskRequest describes a standalone task submission, one not owned by
// any workflow or agent.
type SubmitTaskRequest struct {
	Kind           string
	TaskQueue      string
	Input          []byte
	MaxRetries     int
	IdempotencyKey *string
}

// SubmitTask creates a PENDING standalone task. The idempotency key is scoped
// to the task queue: the same key on two queues names two tasks.
func (s *DispatchService) SubmitTask(ctx context.Context, req SubmitTaskRequest) (models.TaskExecution, error) {
	if req.Kind == "" {
		return models.TaskExecution{}, errors.New("task kind cannot be empty")
	}
	if req.TaskQueue == "" {
		return models.TaskExecution{}, errors.New("task queue cannot be empty")
	}
	task, created, err := s.store.CreateTaskExecution(models.TaskExecution{
		Kind:           req.Kind,
		TaskQueue:      req.TaskQueue,
		Status:         models.PendingTaskStatus,
		MaxRetries:     req.MaxRetries,
		IdempotencyKey: req.IdempotencyKey,
		Input:          req.Input,
	})
	if err != nil {
		return models.TaskExecution{}, err
	}
	if !created {
		s.logger.Infof("Task submission deduplicated by idempotency key, returning %s", task.ID)
		return task, nil
	}
	s.logger.Infof("Submitted task %s kind=%s queue=%s", task.ID, task.Kind, task.TaskQueue)
	s.notifier.Notify(Notification{Type: TaskNotification, Queue: task.TaskQueue, Kind: task.Kind})
	return task, nil
}

// PollTask claims one PENDING task matching the queue and the caller's
// declared kinds. Returns nil when nothing is claimable.
func (s *DispatchService) PollTask(ctx context.Context, queue string, kinds []string, workerName string) (*models.TaskExecution, error) {
	task, err := s.store.ClaimTaskExecution(queue, kinds, workerName)
	if err == storage.ErrNoWork {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("Task %s claimed by %s (attempt %d)", task.ID, workerName, task.ExecutionCount)
	return &task, nil
}

// CompleteTask marks the task COMPLETED and, when it is workflow-owned,
// appends TASK_COMPLETED to the owner's log and resumes the owner, all in one
// transaction so no observer sees a completed task whose owner never wakes.
func (s *DispatchService) CompleteTask(ctx context.Context, taskID string, result []byte) (err error) {
	task, err := s.store.GetTaskExecution(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		// Duplicate report after a reclaim race; the first outcome stands.
		s.logger.Warnf("Ignoring completion of task %s already in %s", taskID, task.Status)
		return nil
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.MarkTaskExecution(taskID, models.CompletedTaskStatus, result, ""); err != nil {
		return err
	}
	if task.WorkflowExecutionID != nil {
		if err = s.appendToOther(txStore, *task.WorkflowExecutionID, models.TaskCompletedEvent, models.TaskCompletedPayload{
			TaskID: taskID,
			Result: result,
		}); err != nil {
			return err
		}
	}
	if task.AgentExecutionID != nil {
		if err = s.resumeAgentIfAwaitedDone(txStore, *task.AgentExecutionID, taskID); err != nil {
			return err
		}
	}
	metrics.TasksCompleted.WithLabelValues(string(models.CompletedTaskStatus)).Inc()
	s.logger.Infof("Task %s completed", taskID)
	return nil
}

// FailTask records a failed attempt. With retry budget left the task is
// requeued; otherwise it is marked FAILED and, for workflow-owned tasks,
// TASK_FAILED lands on the owner's log.
func (s *DispatchService) FailTask(ctx context.Context, taskID, errMsg string) (err error) {
	task, err := s.store.GetTaskExecution(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		s.logger.Warnf("Ignoring failure of task %s already in %s", taskID, task.Status)
		return nil
	}

	// ExecutionCount was incremented at claim time, so it already counts the
	// attempt that just failed.
	if task.ExecutionCount <= task.MaxRetries {
		if err := s.store.RequeueTaskExecution(taskID); err != nil {
			return err
		}
		s.logger.Infof("Task %s failed (attempt %d/%d), requeued: %s", taskID, task.ExecutionCount, task.MaxRetries+1, errMsg)
		s.notifier.Notify(Notification{Type: TaskNotification, Queue: task.TaskQueue, Kind: task.Kind})
		return nil
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.MarkTaskExecution(taskID, models.FailedTaskStatus, nil, errMsg); err != nil {
		return err
	}
	if task.WorkflowExecutionID != nil {
		if err = s.appendToOther(txStore, *task.WorkflowExecutionID, models.TaskFailedEvent, models.TaskFailedPayload{
			TaskID: taskID,
			Error:  errMsg,
		}); err != nil {
			return err
		}
	}
	if task.AgentExecutionID != nil {
		if err = s.resumeAgentIfAwaitedDone(txStore, *task.AgentExecutionID, taskID); err != nil {
			return err
		}
	}
	metrics.TasksCompleted.WithLabelValues(string(models.FailedTaskStatus)).Inc()
	s.logger.Infof("Task %s failed permanently after %d attempts: %s", taskID, task.ExecutionCount, errMsg)
	return nil
}

// CancelTask withdraws a PENDING task from its queue. A RUNNING task cannot
// be cancelled out from under its worker; the caller retries after the
// current attempt settles or requeues.
func (s *DispatchService) CancelTask(ctx context.Context, taskID string) (err error) {
	task, err := s.store.GetTaskExecution(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		s.logger.Warnf("Ignoring cancellation of task %s already in %s", taskID, task.Status)
		return nil
	}
	if task.Status == models.RunningTaskStatus {
		return errors.Wrapf(storage.ErrConflict, "task %s is RUNNING and cannot be cancelled", taskID)
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.MarkTaskExecution(taskID, models.CancelledTaskStatus, nil, "task cancelled"); err != nil {
		return err
	}
	// The owner learns about the cancellation the same way it learns about a
	// permanent failure.
	if task.WorkflowExecutionID != nil {
		if err = s.appendToOther(txStore, *task.WorkflowExecutionID, models.TaskFailedEvent, models.TaskFailedPayload{
			TaskID: taskID,
			Error:  "task cancelled",
		}); err != nil {
			return err
		}
	}
	if task.AgentExecutionID != nil {
		if err = s.resumeAgentIfAwaitedDone(txStore, *task.AgentExecutionID, taskID); err != nil {
			return err
		}
	}
	metrics.TasksCompleted.WithLabelValues(string(models.CancelledTaskStatus)).Inc()
	s.logger.Infof("Task %s cancelled", taskID)
	return nil
}

// ReportProgress stores an opaque progress blob on a still-running task.
// Progress is advisory and never replayed.
func (s *DispatchService) ReportProgress(ctx context.Context, taskID string, progress []byte) error {
	task, err := s.store.GetTaskExecution(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.RunningTaskStatus {
		return errors.Errorf("task %s is %s, progress only applies to RUNNING tasks", taskID, task.Status)
	}
	return s.store.UpdateTaskProgress(taskID, progress)
}

func (s *DispatchService) GetTask(ctx context.Context, taskID string) (models.TaskExecution, error) {
	return s.store.GetTaskExecution(taskID)
}

func (s *DispatchService) ListTasks(ctx context.Context, f storage.TaskFilter) ([]models.TaskExecution, error) {
	return s.store.ListTaskExecutions(f)
}
