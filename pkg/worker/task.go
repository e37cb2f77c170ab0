package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flovyn/flovyn/pkg/models"
)

// TaskContext carries one claimed task attempt into user code.
type TaskContext struct {
	task     models.TaskExecution
	dispatch Dispatch
}

func (t *TaskContext) TaskID() string { return t.task.ID }

func (t *TaskContext) Kind() string { return t.task.Kind }

// Attempt is 1 on the first execution and grows with each retry.
func (t *TaskContext) Attempt() int { return t.task.ExecutionCount }

func (t *TaskContext) Input(v interface{}) error {
	if len(t.task.Input) == 0 {
		return nil
	}
	return json.Unmarshal(t.task.Input, v)
}

func (t *TaskContext) RawInput() json.RawMessage { return t.task.Input }

// ReportProgress publishes an advisory progress blob visible through the read
// API. Failures are returned but safe to ignore.
func (t *TaskContext) ReportProgress(ctx context.Context, progress interface{}) error {
	raw, err := marshalInput(progress)
	if err != nil {
		return err
	}
	return t.dispatch.ReportProgress(ctx, t.task.ID, raw)
}

func (w *Worker) runTask(ctx context.Context, task *models.TaskExecution) {
	fn, ok := w.tasks[task.Kind]
	if !ok {
		w.reportTaskFailure(ctx, task.ID, fmt.Sprintf("no task handler for kind %q", task.Kind))
		return
	}

	result, err := runTaskFunc(ctx, fn, &TaskContext{task: *task, dispatch: w.dispatch})
	if err != nil {
		w.reportTaskFailure(ctx, task.ID, err.Error())
		return
	}
	if err := w.dispatch.CompleteTask(ctx, task.ID, result); err != nil {
		w.opts.Logger.Errorf("Failed to report completion of task %s: %v", task.ID, err)
	}
}

func runTaskFunc(ctx context.Context, fn TaskFunc, tc *TaskContext) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	result, err := fn(ctx, tc)
	if err != nil {
		return nil, err
	}
	return marshalInput(result)
}

func (w *Worker) reportTaskFailure(ctx context.Context, taskID, msg string) {
	if err := w.dispatch.FailTask(ctx, taskID, msg); err != nil {
		w.opts.Logger.Errorf("Failed to report failure of task %s: %v", taskID, err)
	}
}
