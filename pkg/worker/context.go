package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
)

// WorkflowContext is the only interface workflow code may touch the outside
// world through. Every method is deterministic with respect to the event log:
// a call either finds its answer in the replayed history or suspends the
// workflow until the answer exists. Workflow code must not read clocks,
// random sources or globals of its own.
type WorkflowContext struct {
	execID   string
	state    *replayState
	commands []models.Command

	taskSeq  int
	timerSeq int
	childSeq int

	// Settlement calls issued so far in this run, per target/name/kind key.
	// Compared against the PROMISE_SETTLED markers in the log to skip commands
	// that already took effect.
	settleSeqs map[string]int
}

func newWorkflowContext(execID string, state *replayState) *WorkflowContext {
	return &WorkflowContext{execID: execID, state: state, settleSeqs: map[string]int{}}
}

// ExecutionID returns the id of the running workflow execution.
func (c *WorkflowContext) ExecutionID() string { return c.execID }

// Input unmarshals the workflow's input into v.
func (c *WorkflowContext) Input(v interface{}) error {
	if len(c.state.input) == 0 {
		return errors.New("workflow has no input")
	}
	return json.Unmarshal(c.state.input, v)
}

// RawInput returns the workflow's input as recorded at start.
func (c *WorkflowContext) RawInput() json.RawMessage { return c.state.input }

// Cancelled reports whether a cancellation request has reached this
// execution. Cancellation is cooperative: the workflow decides how to unwind.
func (c *WorkflowContext) Cancelled() bool { return c.state.cancelled }

// TaskError is the failure of a scheduled task after its retry budget.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// ChildWorkflowError is the failure of a child workflow execution.
type ChildWorkflowError struct {
	WorkflowID string
	Message    string
}

func (e *ChildWorkflowError) Error() string {
	return fmt.Sprintf("child workflow %s failed: %s", e.WorkflowID, e.Message)
}

// PromiseError is the rejection of an awaited promise.
type PromiseError struct {
	Name   string
	Reason string
}

func (e *PromiseError) Error() string {
	return fmt.Sprintf("promise %q rejected: %s", e.Name, e.Reason)
}

// TaskOption tweaks a task scheduled from workflow code.
type TaskOption func(*models.ScheduleTaskCommand)

// WithTaskQueue routes the task to an explicit queue instead of inheriting
// the workflow's.
func WithTaskQueue(queue string) TaskOption {
	return func(c *models.ScheduleTaskCommand) { c.TaskQueue = &queue }
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) TaskOption {
	return func(c *models.ScheduleTaskCommand) { c.MaxRetries = n }
}

// WithTaskIdempotencyKey dedupes the task against other submissions on the
// same queue.
func WithTaskIdempotencyKey(key string) TaskOption {
	return func(c *models.ScheduleTaskCommand) { c.IdempotencyKey = &key }
}

// TaskFuture is a handle on a task scheduled by this workflow.
type TaskFuture struct {
	ctx *WorkflowContext
	id  string
}

// ID returns the deterministic task id.
func (f *TaskFuture) ID() string { return f.id }

// Get returns the task's result, suspending the workflow until the task
// reaches a terminal status.
func (f *TaskFuture) Get(v interface{}) error {
	out, ok := f.ctx.state.taskOutcomes[f.id]
	if !ok {
		suspend()
	}
	f.ctx.state.observe(out.seq)
	if out.failed {
		return &TaskError{TaskID: f.id, Message: out.errMsg}
	}
	if v == nil || len(out.result) == 0 {
		return nil
	}
	return json.Unmarshal(out.result, v)
}

// ScheduleTask schedules a task without waiting for it, so several tasks can
// run in parallel before the workflow collects their results.
func (c *WorkflowContext) ScheduleTask(kind string, input interface{}, opts ...TaskOption) *TaskFuture {
	c.taskSeq++
	id := fmt.Sprintf("%s:task:%d", c.execID, c.taskSeq)
	if !c.state.tasksScheduled[id] {
		raw, err := marshalInput(input)
		if err != nil {
			panic(err)
		}
		cmd := &models.ScheduleTaskCommand{TaskID: id, Kind: kind, Input: raw}
		for _, opt := range opts {
			opt(cmd)
		}
		c.commands = append(c.commands, models.Command{
			Type:         models.ScheduleTaskCommandType,
			ScheduleTask: cmd,
		})
		c.state.tasksScheduled[id] = true
	}
	return &TaskFuture{ctx: c, id: id}
}

// ExecuteTask schedules a task and waits for its result.
func (c *WorkflowContext) ExecuteTask(kind string, input interface{}, result interface{}, opts ...TaskOption) error {
	return c.ScheduleTask(kind, input, opts...).Get(result)
}

// Sleep suspends the workflow for at least d. The wall-clock deadline is
// fixed the first time this call executes and replays verbatim afterwards.
func (c *WorkflowContext) Sleep(d time.Duration) {
	c.timerSeq++
	id := fmt.Sprintf("%s:timer:%d", c.execID, c.timerSeq)
	if firedSeq, ok := c.state.timersFired[id]; ok {
		c.state.observe(firedSeq)
		return
	}
	if _, scheduled := c.state.timersScheduled[id]; !scheduled {
		fireAt := time.Now().UTC().Add(d)
		c.commands = append(c.commands, models.Command{
			Type:       models.StartTimerCommandType,
			StartTimer: &models.StartTimerCommand{TimerID: id, FireAt: fireAt},
		})
		c.state.timersScheduled[id] = fireAt
	}
	suspend()
}

// ChildOption tweaks a child workflow scheduled from workflow code.
type ChildOption func(*models.ScheduleChildWorkflowCommand)

// WithChildQueue routes the child to an explicit queue instead of inheriting
// the parent's.
func WithChildQueue(queue string) ChildOption {
	return func(c *models.ScheduleChildWorkflowCommand) { c.TaskQueue = &queue }
}

// WithChildPriority sets the child's claim priority offset in milliseconds.
func WithChildPriority(ms int64) ChildOption {
	return func(c *models.ScheduleChildWorkflowCommand) { c.PriorityMS = ms }
}

// ChildWorkflowFuture is a handle on a child workflow started by this one.
type ChildWorkflowFuture struct {
	ctx *WorkflowContext
	id  string
}

func (f *ChildWorkflowFuture) ID() string { return f.id }

// Get returns the child's result, suspending until the child terminates.
func (f *ChildWorkflowFuture) Get(v interface{}) error {
	out, ok := f.ctx.state.childOutcomes[f.id]
	if !ok {
		suspend()
	}
	f.ctx.state.observe(out.seq)
	if out.failed {
		return &ChildWorkflowError{WorkflowID: f.id, Message: out.errMsg}
	}
	if v == nil || len(out.result) == 0 {
		return nil
	}
	return json.Unmarshal(out.result, v)
}

// ScheduleChildWorkflow starts a child workflow without waiting for it.
func (c *WorkflowContext) ScheduleChildWorkflow(kind string, input interface{}, opts ...ChildOption) *ChildWorkflowFuture {
	c.childSeq++
	id := fmt.Sprintf("%s:child:%d", c.execID, c.childSeq)
	if !c.state.childInitiated[id] {
		raw, err := marshalInput(input)
		if err != nil {
			panic(err)
		}
		cmd := &models.ScheduleChildWorkflowCommand{ChildWorkflowID: id, Kind: kind, Input: raw}
		for _, opt := range opts {
			opt(cmd)
		}
		c.commands = append(c.commands, models.Command{
			Type:                  models.ScheduleChildWorkflowCommandType,
			ScheduleChildWorkflow: cmd,
		})
		c.state.childInitiated[id] = true
	}
	return &ChildWorkflowFuture{ctx: c, id: id}
}

// ExecuteChildWorkflow starts a child workflow and waits for its result.
func (c *WorkflowContext) ExecuteChildWorkflow(kind string, input interface{}, result interface{}, opts ...ChildOption) error {
	return c.ScheduleChildWorkflow(kind, input, opts...).Get(result)
}

// WaitForSignal consumes the next signal with the given name, suspending
// until one arrives. Signals with the same name form a FIFO queue; each call
// consumes exactly one.
func (c *WorkflowContext) WaitForSignal(name string, v interface{}) error {
	payload, ok := c.state.nextSignal(name, false)
	if !ok {
		suspend()
	}
	if v == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

// SignalAvailable consumes the next signal with the given name without
// suspending. Only signals that had arrived by the workflow's last suspension
// are visible, so a poll here can never steal a signal that a blocking wait
// elsewhere in the code is entitled to.
func (c *WorkflowContext) SignalAvailable(name string, v interface{}) (bool, error) {
	payload, ok := c.state.nextSignal(name, true)
	if !ok {
		return false, nil
	}
	if v == nil || len(payload) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, err
	}
	return true, nil
}

// WaitForPromise suspends until the named promise on this execution is
// resolved or rejected by an external party.
func (c *WorkflowContext) WaitForPromise(name string, v interface{}) error {
	out, ok := c.state.promises[name]
	if !ok {
		suspend()
	}
	c.state.observe(out.seq)
	if out.failed {
		return &PromiseError{Name: name, Reason: out.errMsg}
	}
	if v == nil || len(out.result) == 0 {
		return nil
	}
	return json.Unmarshal(out.result, v)
}

// ResolvePromise resolves a named promise on another execution. Each
// settlement lands exactly once: a PROMISE_SETTLED marker on this execution's
// log keeps replay from delivering it to the target again.
func (c *WorkflowContext) ResolvePromise(execID, name string, value interface{}) error {
	raw, err := marshalInput(value)
	if err != nil {
		return err
	}
	if c.settleAlreadyRecorded(execID, name, false) {
		return nil
	}
	c.commands = append(c.commands, models.Command{
		Type: models.ResolvePromiseCommandType,
		ResolvePromise: &models.ResolvePromiseCommand{
			WorkflowExecutionID: execID,
			Name:                name,
			Value:               raw,
		},
	})
	return nil
}

// RejectPromise rejects a named promise on another execution.
func (c *WorkflowContext) RejectPromise(execID, name, reason string) error {
	if c.settleAlreadyRecorded(execID, name, true) {
		return nil
	}
	c.commands = append(c.commands, models.Command{
		Type: models.RejectPromiseCommandType,
		RejectPromise: &models.RejectPromiseCommand{
			WorkflowExecutionID: execID,
			Name:                name,
			Reason:              reason,
		},
	})
	return nil
}

// settleAlreadyRecorded counts this settlement call against the markers in the
// log. Calls past the recorded count are new and must emit their command.
func (c *WorkflowContext) settleAlreadyRecorded(execID, name string, rejected bool) bool {
	key := settleKey(execID, name, rejected)
	c.settleSeqs[key]++
	return c.settleSeqs[key] <= c.state.promiseSettles[key]
}

func marshalInput(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal input")
	}
	return b, nil
}
