package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/internal/metrics"
	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// DispatchService is the RPC-facing core of the engine: it validates worker
// requests, appends events, mutates execution rows and schedules downstream
// work. All state transitions flow through it.
type DispatchService struct {
	store    storage.Store
	notifier *Notifier
	logger   Logger
}

func NewDispatchService(store storage.Store, notifier *Notifier, logger Logger) *DispatchService {
	return &DispatchService{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// StartWorkflowRequest describes a new top-level workflow submission.
type StartWorkflowRequest struct {
	Kind           string
	TaskQueue      string
	Input          []byte
	IdempotencyKey *string
	PriorityMS     int64
}

// StartWorkflow creates a PENDING execution and appends WORKFLOW_STARTED as
// sequence 1. Re-submission with the same idempotency key returns the
// original execution.
func (s *DispatchService) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (wf models.WorkflowExecution, err error) {
	if req.Kind == "" {
		return models.WorkflowExecution{}, errors.New("workflow kind cannot be empty")
	}
	if req.TaskQueue == "" {
		return models.WorkflowExecution{}, errors.New("task queue cannot be empty")
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowExecution{}, err
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

	wf, created, err := txStore.CreateWorkflowExecution(models.WorkflowExecution{
		Kind:           req.Kind,
		TaskQueue:      req.TaskQueue,
		Status:         models.PendingWorkflowStatus,
		IdempotencyKey: req.IdempotencyKey,
		PriorityMS:     req.PriorityMS,
		Input:          req.Input,
	})
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if !created {
		s.logger.Infof("Workflow submission deduplicated by idempotency key, returning %s", wf.ID)
		return wf, nil
	}

	event, err := models.NewEvent(wf.ID, models.WorkflowStartedEvent, models.WorkflowStartedPayload{
		Kind:  wf.Kind,
		Input: req.Input,
	})
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if _, err = txStore.AppendEvent(wf.ID, event); err != nil {
		return models.WorkflowExecution{}, err
	}
	metrics.WorkflowsStarted.Inc()
	metrics.EventsAppended.Inc()

	s.logger.Infof("Started workflow %s kind=%s queue=%s", wf.ID, wf.Kind, wf.TaskQueue)
	s.notifier.Notify(Notification{Type: WorkflowNotification, Queue: wf.TaskQueue, Kind: wf.Kind})
	return wf, nil
}

// WorkflowTask is one claimed workflow slice: the execution plus its full
// ordered event history for replay.
type WorkflowTask struct {
	Execution models.WorkflowExecution `json:"execution"`
	Events    []models.WorkflowEvent   `json:"events"`
}

// PollWorkflow claims one PENDING workflow matching the queue and the
// caller's declared kinds. Returns nil when nothing is claimable.
func (s *DispatchService) PollWorkflow(ctx context.Context, queue string, kinds []string, workerName string) (*WorkflowTask, error) {
	wf, err := s.store.ClaimWorkflowExecution(queue, kinds, workerName)
	if err == storage.ErrNoWork {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	events, err := s.store.ListEvents(wf.ID)
	if err != nil {
		return nil, err
	}
	// Record the resumption after a suspension so the log tells the whole
	// story; replay treats it as a marker. The wake event that triggered this
	// claim usually sits after the suspension, so scan back for a suspension
	// that has not been answered by a resumption yet.
	if suspendedWithoutResume(events) {
		event, err := models.NewEvent(wf.ID, models.WorkflowResumedEvent, nil)
		if err != nil {
			return nil, err
		}
		seq, err := s.store.AppendEvent(wf.ID, event)
		if err != nil {
			return nil, err
		}
		event.SequenceNumber = seq
		event.ExecutionID = wf.ID
		events = append(events, event)
		metrics.EventsAppended.Inc()
	}

	s.logger.Debugf("Workflow %s claimed by %s", wf.ID, workerName)
	return &WorkflowTask{Execution: wf, Events: events}, nil
}

// suspendedWithoutResume reports whether the latest WORKFLOW_SUSPENDED in the
// history has no WORKFLOW_RESUMED after it.
func suspendedWithoutResume(events []models.WorkflowEvent) bool {
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].EventType {
		case models.WorkflowResumedEvent:
			return false
		case models.WorkflowSuspendedEvent:
			return true
		}
	}
	return false
}

// SubmitWorkflowCommands interprets the decision batch a worker produced
// after running user code against the replayed log. Exactly one terminal
// command (Suspend, Complete or Fail) must close the batch.
func (s *DispatchService) SubmitWorkflowCommands(ctx context.Context, execID, workerName string, cmds []models.Command) error {
	wf, err := s.store.GetWorkflowExecution(execID)
	if err != nil {
		return err
	}
	if wf.Status != models.RunningWorkflowStatus {
		return errors.Wrapf(storage.ErrConflict, "workflow %s is %s, not RUNNING", execID, wf.Status)
	}
	if wf.WorkerID == nil || *wf.WorkerID != workerName {
		// The work was reclaimed while this worker was thinking; its
		// decisions are stale and must not be recorded.
		return errors.Wrapf(storage.ErrConflict, "workflow %s is no longer owned by worker %s", execID, workerName)
	}

	var suspend *models.SuspendCommand
	terminalSeen := false
	for _, cmd := range cmds {
		switch cmd.Type {
		case models.SuspendCommandType, models.CompleteCommandType, models.FailCommandType:
			if terminalSeen {
				return errors.New("command batch contains more than one terminal command")
			}
			terminalSeen = true
			if cmd.Type == models.SuspendCommandType {
				suspend = cmd.Suspend
			}
		}
	}
	if !terminalSeen {
		return errors.New("command batch must end with Suspend, Complete or Fail")
	}

	if err := s.applyCommands(wf, workerName, cmds); err != nil {
		return err
	}

	// Missed-wakeup guard: a completion that raced the suspension appended
	// its wake event while the workflow was still RUNNING, so nothing
	// resumed it. Re-check after the transition and resume immediately.
	if suspend != nil {
		if err := s.resumeIfWakeEventAfter(execID, suspend.LastProcessedSequence); err != nil {
			s.logger.Errorf("Missed-wakeup check for workflow %s failed: %v", execID, err)
		}
	}
	return nil
}

func (s *DispatchService) applyCommands(wf models.WorkflowExecution, workerName string, cmds []models.Command) (err error) {
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

	// The submit-time check ran outside this transaction; re-verify under the
	// row lock so a reclaim that slipped in between cannot be overwritten.
	current, err := txStore.GetWorkflowExecutionForUpdate(wf.ID)
	if err != nil {
		return err
	}
	if current.Status != models.RunningWorkflowStatus {
		return errors.Wrapf(storage.ErrConflict, "workflow %s is %s, not RUNNING", wf.ID, current.Status)
	}
	if current.WorkerID == nil || *current.WorkerID != workerName {
		return errors.Wrapf(storage.ErrConflict, "workflow %s is no longer owned by worker %s", wf.ID, workerName)
	}

	var ownEvents []models.WorkflowEvent
	var notifications []Notification

	appendOwn := func(eventType models.EventType, payload interface{}) error {
		event, err := models.NewEvent(wf.ID, eventType, payload)
		if err != nil {
			return err
		}
		ownEvents = append(ownEvents, event)
		return nil
	}

	for _, cmd := range cmds {
		switch cmd.Type {
		case models.ScheduleTaskCommandType:
			c := cmd.ScheduleTask
			if c == nil {
				return errors.New("SCHEDULE_TASK command missing payload")
			}
			// nil queue inherits the parent's; an explicit value is used
			// verbatim, whatever it is.
			queue := wf.TaskQueue
			if c.TaskQueue != nil {
				queue = *c.TaskQueue
			}
			wfID := wf.ID
			task, _, err := txStore.CreateTaskExecution(models.TaskExecution{
				ID:                  c.TaskID,
				Kind:                c.Kind,
				WorkflowExecutionID: &wfID,
				TaskQueue:           queue,
				Status:              models.PendingTaskStatus,
				MaxRetries:          c.MaxRetries,
				IdempotencyKey:      c.IdempotencyKey,
				Input:               c.Input,
			})
			if err != nil {
				return err
			}
			if err := appendOwn(models.TaskScheduledEvent, models.TaskScheduledPayload{
				TaskID:    task.ID,
				TaskKind:  task.Kind,
				TaskQueue: task.TaskQueue,
				Input:     c.Input,
			}); err != nil {
				return err
			}
			notifications = append(notifications, Notification{Type: TaskNotification, Queue: queue, Kind: task.Kind})

		case models.ScheduleChildWorkflowCommandType:
			c := cmd.ScheduleChildWorkflow
			if c == nil {
				return errors.New("SCHEDULE_CHILD_WORKFLOW command missing payload")
			}
			queue := wf.TaskQueue
			if c.TaskQueue != nil {
				queue = *c.TaskQueue
			}
			parentID := wf.ID
			child, created, err := txStore.CreateWorkflowExecution(models.WorkflowExecution{
				ID:               c.ChildWorkflowID,
				Kind:             c.Kind,
				TaskQueue:        queue,
				Status:           models.PendingWorkflowStatus,
				ParentWorkflowID: &parentID,
				PriorityMS:       c.PriorityMS,
				Input:            c.Input,
			})
			if err != nil {
				return err
			}
			if created {
				startEvent, err := models.NewEvent(child.ID, models.WorkflowStartedEvent, models.WorkflowStartedPayload{
					Kind:  child.Kind,
					Input: c.Input,
				})
				if err != nil {
					return err
				}
				if _, err := txStore.AppendEvent(child.ID, startEvent); err != nil {
					return err
				}
				metrics.WorkflowsStarted.Inc()
				metrics.EventsAppended.Inc()
			}
			if err := appendOwn(models.ChildWorkflowInitiatedEvent, models.ChildWorkflowInitiatedPayload{
				ChildWorkflowID: child.ID,
				Kind:            child.Kind,
				TaskQueue:       queue,
				Input:           c.Input,
			}); err != nil {
				return err
			}
			notifications = append(notifications, Notification{Type: WorkflowNotification, Queue: queue, Kind: child.Kind})

		case models.StartTimerCommandType:
			c := cmd.StartTimer
			if c == nil {
				return errors.New("START_TIMER command missing payload")
			}
			if err := txStore.CreateTimer(models.Timer{
				ID:                  c.TimerID,
				WorkflowExecutionID: wf.ID,
				FireAt:              c.FireAt,
			}); err != nil {
				return err
			}
			if err := appendOwn(models.TimerScheduledEvent, models.TimerScheduledPayload{
				TimerID: c.TimerID,
				FireAt:  c.FireAt,
			}); err != nil {
				return err
			}

		case models.ResolvePromiseCommandType:
			c := cmd.ResolvePromise
			if c == nil {
				return errors.New("RESOLVE_PROMISE command missing payload")
			}
			if err := s.appendToOther(txStore, c.WorkflowExecutionID, models.PromiseResolvedEvent, models.PromiseResolvedPayload{
				Name:  c.Name,
				Value: c.Value,
			}); err != nil {
				return err
			}
			if err := appendOwn(models.PromiseSettledEvent, models.PromiseSettledPayload{
				WorkflowExecutionID: c.WorkflowExecutionID,
				Name:                c.Name,
			}); err != nil {
				return err
			}

		case models.RejectPromiseCommandType:
			c := cmd.RejectPromise
			if c == nil {
				return errors.New("REJECT_PROMISE command missing payload")
			}
			if err := s.appendToOther(txStore, c.WorkflowExecutionID, models.PromiseRejectedEvent, models.PromiseRejectedPayload{
				Name:   c.Name,
				Reason: c.Reason,
			}); err != nil {
				return err
			}
			if err := appendOwn(models.PromiseSettledEvent, models.PromiseSettledPayload{
				WorkflowExecutionID: c.WorkflowExecutionID,
				Name:                c.Name,
				Rejected:            true,
			}); err != nil {
				return err
			}

		case models.CompleteCommandType:
			c := cmd.Complete
			if c == nil {
				return errors.New("COMPLETE command missing payload")
			}
			if err := appendOwn(models.WorkflowCompletedEvent, models.WorkflowCompletedPayload{Result: c.Result}); err != nil {
				return err
			}
			if err := txStore.CompleteWorkflowExecution(wf.ID, c.Result); err != nil {
				return err
			}
			if err := s.notifyParent(txStore, wf, false, c.Result, ""); err != nil {
				return err
			}
			metrics.WorkflowsCompleted.WithLabelValues(string(models.CompletedWorkflowStatus)).Inc()
			s.logger.Infof("Workflow %s completed", wf.ID)

		case models.FailCommandType:
			c := cmd.Fail
			if c == nil {
				return errors.New("FAIL command missing payload")
			}
			if err := appendOwn(models.WorkflowFailedEvent, models.WorkflowFailedPayload{Error: c.Error}); err != nil {
				return err
			}
			if err := txStore.FailWorkflowExecution(wf.ID, c.Error); err != nil {
				return err
			}
			if err := s.notifyParent(txStore, wf, true, nil, c.Error); err != nil {
				return err
			}
			metrics.WorkflowsCompleted.WithLabelValues(string(models.FailedWorkflowStatus)).Inc()
			s.logger.Infof("Workflow %s failed: %s", wf.ID, c.Error)

		case models.SuspendCommandType:
			if err := appendOwn(models.WorkflowSuspendedEvent, nil); err != nil {
				return err
			}
			if err := txStore.SuspendWorkflowExecution(wf.ID); err != nil {
				return err
			}

		default:
			return errors.Errorf("unknown command type %q", cmd.Type)
		}
	}

	if len(ownEvents) > 0 {
		if _, err := txStore.AppendEvents(wf.ID, ownEvents); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				metrics.SequenceConflicts.Inc()
			}
			return err
		}
		metrics.EventsAppended.Add(float64(len(ownEvents)))
	}

	for _, n := range notifications {
		s.notifier.Notify(n)
	}
	return nil
}

// appendToOther appends an event to another execution's log and resumes that
// execution if it was waiting on it.
func (s *DispatchService) appendToOther(txStore storage.Store, execID string, eventType models.EventType, payload interface{}) error {
	event, err := models.NewEvent(execID, eventType, payload)
	if err != nil {
		return err
	}
	if _, err := txStore.AppendEvent(execID, event); err != nil {
		return err
	}
	metrics.EventsAppended.Inc()
	resumed, err := txStore.ResumeWorkflowExecution(execID)
	if err != nil {
		return err
	}
	if resumed {
		target, err := txStore.GetWorkflowExecution(execID)
		if err != nil {
			return err
		}
		s.notifier.Notify(Notification{Type: WorkflowNotification, Queue: target.TaskQueue, Kind: target.Kind})
	}
	return nil
}

// notifyParent records the child's terminal outcome on the parent's log and
// resumes the parent if it was waiting.
func (s *DispatchService) notifyParent(txStore storage.Store, child models.WorkflowExecution, failed bool, result []byte, errMsg string) error {
	if child.ParentWorkflowID == nil {
		return nil
	}
	return s.appendToOther(txStore, *child.ParentWorkflowID, models.ChildWorkflowCompletedEvent, models.ChildWorkflowCompletedPayload{
		ChildWorkflowID: child.ID,
		Failed:          failed,
		Result:          result,
		Error:           errMsg,
	})
}

// resumeIfWakeEventAfter resumes the workflow when its log already contains a
// wake event past the replay watermark.
func (s *DispatchService) resumeIfWakeEventAfter(execID string, afterSeq int64) error {
	events, err := s.store.ListEventsAfter(execID, afterSeq)
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.EventType.WakeEvent() {
			resumed, err := s.store.ResumeWorkflowExecution(execID)
			if err != nil {
				return err
			}
			if resumed {
				wf, err := s.store.GetWorkflowExecution(execID)
				if err != nil {
					return err
				}
				s.logger.Infof("Workflow %s resumed by missed-wakeup guard (event %s at seq %d)", execID, e.EventType, e.SequenceNumber)
				s.notifier.Notify(Notification{Type: WorkflowNotification, Queue: wf.TaskQueue, Kind: wf.Kind})
			}
			return nil
		}
	}
	return nil
}

// SignalWorkflow appends SIGNAL_RECEIVED to the execution's log and resumes
// it if it was waiting.
func (s *DispatchService) SignalWorkflow(ctx context.Context, execID, name string, payload []byte) (err error) {
	if name == "" {
		return errors.New("signal name cannot be empty")
	}
	wf, err := s.store.GetWorkflowExecution(execID)
	if err != nil {
		return err
	}
	if wf.Status.Terminal() {
		return errors.Errorf("workflow %s is already %s", execID, wf.Status)
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

	err = s.appendToOther(txStore, execID, models.SignalReceivedEvent, models.SignalReceivedPayload{
		Name:    name,
		Payload: payload,
	})
	return err
}

// ResolvePromise appends PROMISE_RESOLVED to the execution's log on behalf
// of an external caller and resumes the execution if it was waiting. Promises
// are named per execution; resolving the same name twice appends a second
// event that replay never consumes.
func (s *DispatchService) ResolvePromise(ctx context.Context, execID, name string, value []byte) error {
	if name == "" {
		return errors.New("promise name cannot be empty")
	}
	return s.settlePromise(execID, models.PromiseResolvedEvent, models.PromiseResolvedPayload{
		Name:  name,
		Value: value,
	})
}

// RejectPromise is the failing counterpart of ResolvePromise; the waiting
// workflow surfaces the reason as a PromiseError.
func (s *DispatchService) RejectPromise(ctx context.Context, execID, name, reason string) error {
	if name == "" {
		return errors.New("promise name cannot be empty")
	}
	return s.settlePromise(execID, models.PromiseRejectedEvent, models.PromiseRejectedPayload{
		Name:   name,
		Reason: reason,
	})
}

func (s *DispatchService) settlePromise(execID string, eventType models.EventType, payload interface{}) (err error) {
	wf, err := s.store.GetWorkflowExecution(execID)
	if err != nil {
		return err
	}
	if wf.Status.Terminal() {
		return errors.Errorf("workflow %s is already %s", execID, wf.Status)
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

	err = s.appendToOther(txStore, execID, eventType, payload)
	return err
}

// CancelWorkflow delivers the reserved cancellation signal. Cancellation is
// cooperative: the workflow observes it at its next iteration or suspension
// point and unwinds.
func (s *DispatchService) CancelWorkflow(ctx context.Context, execID string) error {
	return s.SignalWorkflow(ctx, execID, models.CancelSignalName, json.RawMessage(`{}`))
}

func (s *DispatchService) GetWorkflow(ctx context.Context, execID string) (models.WorkflowExecution, error) {
	return s.store.GetWorkflowExecution(execID)
}

func (s *DispatchService) ListWorkflows(ctx context.Context, f storage.WorkflowFilter) ([]models.WorkflowExecution, error) {
	return s.store.ListWorkflowExecutions(f)
}

// ListEvents exposes the ordered event history for read-API collaborators.
// Consumers must order by sequence number, never arrival.
func (s *DispatchService) ListEvents(ctx context.Context, execID string) ([]models.WorkflowEvent, error) {
	return s.store.ListEvents(execID)
}
