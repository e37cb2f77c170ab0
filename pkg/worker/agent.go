package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
)

// AgentContext carries one claimed agent turn into user code. Agent code is
// free to be non-deterministic; durability comes from appending entries,
// checkpointing state and submitting tasks through idempotency keys, so a
// crashed turn replays without duplicating side effects.
type AgentContext struct {
	execution  models.AgentExecution
	entries    []models.AgentEntry
	checkpoint *models.AgentCheckpoint
	dispatch   Dispatch
	ctx        context.Context
}

func (a *AgentContext) ExecutionID() string { return a.execution.ID }

func (a *AgentContext) Input(v interface{}) error {
	if len(a.execution.Input) == 0 {
		return nil
	}
	return json.Unmarshal(a.execution.Input, v)
}

func (a *AgentContext) RawInput() json.RawMessage { return a.execution.Input }

// Entries returns the full entry history in append order.
func (a *AgentContext) Entries() []models.AgentEntry { return a.entries }

// HasEntries reports whether any history exists; false means a fresh run.
func (a *AgentContext) HasEntries() bool { return len(a.entries) > 0 }

// RestoreState unmarshals the latest checkpoint into v. Returns false when
// the execution has never checkpointed.
func (a *AgentContext) RestoreState(v interface{}) (bool, error) {
	if a.checkpoint == nil || len(a.checkpoint.State) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(a.checkpoint.State, v); err != nil {
		return false, errors.Wrap(err, "restore checkpoint state")
	}
	return true, nil
}

// AppendEntry records one entry. The id is generated here, so each call is a
// distinct entry; use AppendEntryWithID when the caller needs crash-safe
// dedup over its own id.
func (a *AgentContext) AppendEntry(entryType models.AgentEntryType, content interface{}, parentID *string) (models.AgentEntry, error) {
	return a.AppendEntryWithID(uuid.NewString(), entryType, content, parentID)
}

// AppendEntryWithID records one entry under a caller-chosen id. Re-appending
// an id already in the history is a no-op.
func (a *AgentContext) AppendEntryWithID(id string, entryType models.AgentEntryType, content interface{}, parentID *string) (models.AgentEntry, error) {
	raw, err := marshalInput(content)
	if err != nil {
		return models.AgentEntry{}, err
	}
	entry := models.AgentEntry{
		ID:               id,
		AgentExecutionID: a.execution.ID,
		ParentEntryID:    parentID,
		EntryType:        entryType,
		Content:          raw,
	}
	if _, err := a.dispatch.AppendAgentEntry(a.ctx, entry); err != nil {
		return models.AgentEntry{}, err
	}
	a.entries = append(a.entries, entry)
	return entry, nil
}

// Checkpoint persists an opaque snapshot of the agent's state, optionally
// anchored at the entry the snapshot reflects.
func (a *AgentContext) Checkpoint(state interface{}, leafEntryID *string) error {
	raw, err := marshalInput(state)
	if err != nil {
		return err
	}
	_, err = a.dispatch.SaveAgentCheckpoint(a.ctx, models.AgentCheckpoint{
		AgentExecutionID: a.execution.ID,
		LeafEntryID:      leafEntryID,
		State:            raw,
	})
	return err
}

// SubmitTask schedules a task owned by this agent. The task id is derived
// from the execution, kind and canonicalized input, so a crashed turn that
// resubmits the same logical task lands on the original row instead of
// running the side effect twice.
func (a *AgentContext) SubmitTask(kind string, input interface{}, maxRetries int) (models.TaskExecution, error) {
	raw, err := marshalInput(input)
	if err != nil {
		return models.TaskExecution{}, err
	}
	key, err := TaskIdempotencyKey(a.execution.ID, kind, raw)
	if err != nil {
		return models.TaskExecution{}, err
	}
	return a.dispatch.SubmitAgentTask(a.ctx, service.SubmitAgentTaskRequest{
		TaskID:           fmt.Sprintf("%s:task:%s", a.execution.ID, key[:16]),
		AgentExecutionID: a.execution.ID,
		Kind:             kind,
		Input:            raw,
		MaxRetries:       maxRetries,
		IdempotencyKey:   &key,
	})
}

// AwaitTasks parks the agent until every listed task reaches a terminal
// status. It does not return: the current turn unwinds and a fresh turn
// starts from the latest checkpoint once the tasks are done.
func (a *AgentContext) AwaitTasks(taskIDs ...string) {
	panic(agentSuspendSignal{awaitedTaskIDs: taskIDs})
}

// TaskResult loads a finished task's result into v. Returns a TaskError when
// the task failed permanently.
func (a *AgentContext) TaskResult(taskID string, v interface{}) error {
	task, err := a.dispatch.GetTask(a.ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.CompletedTaskStatus:
		if v == nil || len(task.Result) == 0 {
			return nil
		}
		return json.Unmarshal(task.Result, v)
	case models.FailedTaskStatus, models.CancelledTaskStatus:
		return &TaskError{TaskID: taskID, Message: task.ErrorMsg}
	default:
		return errors.Errorf("task %s is still %s", taskID, task.Status)
	}
}

func (w *Worker) runAgent(ctx context.Context, at *service.AgentTask) {
	agentID := at.Execution.ID
	fn, ok := w.agents[at.Execution.Kind]
	if !ok {
		w.reportAgentFailure(ctx, agentID, fmt.Sprintf("no agent handler for kind %q", at.Execution.Kind))
		return
	}

	ac := &AgentContext{
		execution:  at.Execution,
		entries:    at.Entries,
		checkpoint: at.Checkpoint,
		dispatch:   w.dispatch,
		ctx:        ctx,
	}
	result, awaited, err := runAgentFunc(ctx, fn, ac)
	switch {
	case err != nil:
		w.reportAgentFailure(ctx, agentID, err.Error())
	case awaited != nil:
		if err := w.dispatch.SuspendAgent(ctx, agentID, awaited); err != nil {
			w.opts.Logger.Errorf("Failed to suspend agent %s: %v", agentID, err)
		}
	default:
		if err := w.dispatch.CompleteAgent(ctx, agentID, result); err != nil {
			w.opts.Logger.Errorf("Failed to report completion of agent %s: %v", agentID, err)
		}
	}
}

func runAgentFunc(ctx context.Context, fn AgentFunc, ac *AgentContext) (raw []byte, awaited []string, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if sig, isSuspend := r.(agentSuspendSignal); isSuspend {
			awaited = sig.awaitedTaskIDs
			err = nil
			return
		}
		err = fmt.Errorf("agent panicked: %v", r)
	}()
	result, err := fn(ctx, ac)
	if err != nil {
		return nil, nil, err
	}
	raw, err = marshalInput(result)
	return raw, nil, err
}

func (w *Worker) reportAgentFailure(ctx context.Context, agentID, msg string) {
	if err := w.dispatch.FailAgent(ctx, agentID, msg); err != nil {
		w.opts.Logger.Errorf("Failed to report failure of agent %s: %v", agentID, err)
	}
}
