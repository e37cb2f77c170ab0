package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
)

// Dispatch is the engine surface a worker talks to. *service.DispatchService
// satisfies it for in-process workers; a remote client satisfies it over the
// HTTP API.
type Dispatch interface {
	PollWorkflow(ctx context.Context, queue string, kinds []string, workerName string) (*service.WorkflowTask, error)
	SubmitWorkflowCommands(ctx context.Context, execID, workerName string, cmds []models.Command) error

	PollTask(ctx context.Context, queue string, kinds []string, workerName string) (*models.TaskExecution, error)
	CompleteTask(ctx context.Context, taskID string, result []byte) error
	FailTask(ctx context.Context, taskID, errMsg string) error
	ReportProgress(ctx context.Context, taskID string, progress []byte) error
	GetTask(ctx context.Context, taskID string) (models.TaskExecution, error)

	PollAgent(ctx context.Context, queue string, kinds []string, workerName string) (*service.AgentTask, error)
	AppendAgentEntry(ctx context.Context, entry models.AgentEntry) (bool, error)
	SaveAgentCheckpoint(ctx context.Context, cp models.AgentCheckpoint) (int64, error)
	SubmitAgentTask(ctx context.Context, req service.SubmitAgentTaskRequest) (models.TaskExecution, error)
	SuspendAgent(ctx context.Context, agentID string, awaitedTaskIDs []string) error
	CompleteAgent(ctx context.Context, agentID string, result []byte) error
	FailAgent(ctx context.Context, agentID, errMsg string) error
}

// Registry is the worker-registration surface, satisfied by
// *service.WorkerService.
type Registry interface {
	Register(ctx context.Context, req service.RegisterWorkerRequest) (models.Worker, error)
	Heartbeat(ctx context.Context, workerName string) error
}

// WorkflowFunc is deterministic workflow code. It must drive all effects
// through the context; the returned value becomes the workflow's result.
type WorkflowFunc func(ctx *WorkflowContext) (interface{}, error)

// TaskFunc is ordinary task code, free to do anything.
type TaskFunc func(ctx context.Context, task *TaskContext) (interface{}, error)

// AgentFunc is agent code: non-deterministic, resumed from checkpoints.
type AgentFunc func(ctx context.Context, agent *AgentContext) (interface{}, error)

// Options configures a Worker.
type Options struct {
	Name              string
	TaskQueue         string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// Notifier, when set, lets the poll loops react to work immediately
	// instead of waiting out the poll interval. In-process deployments pass
	// the server's notifier; remote workers leave it nil and rely on the
	// interval.
	Notifier *service.Notifier
	Logger   service.Logger
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
}

// Worker polls for workflow, task and agent work matching its registered
// kinds and runs it. One Worker runs one goroutine per work category plus a
// heartbeat loop.
type Worker struct {
	dispatch Dispatch
	registry Registry
	opts     Options

	workflows map[string]WorkflowFunc
	tasks     map[string]TaskFunc
	agents    map[string]AgentFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(dispatch Dispatch, registry Registry, opts Options) *Worker {
	opts.applyDefaults()
	return &Worker{
		dispatch:  dispatch,
		registry:  registry,
		opts:      opts,
		workflows: map[string]WorkflowFunc{},
		tasks:     map[string]TaskFunc{},
		agents:    map[string]AgentFunc{},
	}
}

func (w *Worker) RegisterWorkflow(kind string, fn WorkflowFunc) { w.workflows[kind] = fn }

func (w *Worker) RegisterTask(kind string, fn TaskFunc) { w.tasks[kind] = fn }

func (w *Worker) RegisterAgent(kind string, fn AgentFunc) { w.agents[kind] = fn }

func (w *Worker) kinds(m interface{}) []string {
	var out []string
	switch v := m.(type) {
	case map[string]WorkflowFunc:
		for k := range v {
			out = append(out, k)
		}
	case map[string]TaskFunc:
		for k := range v {
			out = append(out, k)
		}
	case map[string]AgentFunc:
		for k := range v {
			out = append(out, k)
		}
	}
	return out
}

// Start registers the worker and launches its loops. It returns once
// registration succeeds; Stop shuts the loops down.
func (w *Worker) Start(ctx context.Context) error {
	if w.opts.Name == "" {
		return errors.New("worker name cannot be empty")
	}
	if w.opts.TaskQueue == "" {
		return errors.New("task queue cannot be empty")
	}
	workflowKinds := w.kinds(w.workflows)
	taskKinds := w.kinds(w.tasks)
	agentKinds := w.kinds(w.agents)

	if _, err := w.registry.Register(ctx, service.RegisterWorkerRequest{
		WorkerName:    w.opts.Name,
		TaskQueue:     w.opts.TaskQueue,
		WorkflowKinds: workflowKinds,
		TaskKinds:     taskKinds,
		AgentKinds:    agentKinds,
	}); err != nil {
		return errors.Wrap(err, "register worker")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.heartbeatLoop(runCtx)

	if len(workflowKinds) > 0 {
		w.wg.Add(1)
		go w.pollLoop(runCtx, service.WorkflowNotification, func(ctx context.Context) (bool, error) {
			wt, err := w.dispatch.PollWorkflow(ctx, w.opts.TaskQueue, workflowKinds, w.opts.Name)
			if err != nil || wt == nil {
				return false, err
			}
			w.runWorkflow(ctx, wt)
			return true, nil
		})
	}
	if len(taskKinds) > 0 {
		w.wg.Add(1)
		go w.pollLoop(runCtx, service.TaskNotification, func(ctx context.Context) (bool, error) {
			task, err := w.dispatch.PollTask(ctx, w.opts.TaskQueue, taskKinds, w.opts.Name)
			if err != nil || task == nil {
				return false, err
			}
			w.runTask(ctx, task)
			return true, nil
		})
	}
	if len(agentKinds) > 0 {
		w.wg.Add(1)
		go w.pollLoop(runCtx, service.AgentNotification, func(ctx context.Context) (bool, error) {
			at, err := w.dispatch.PollAgent(ctx, w.opts.TaskQueue, agentKinds, w.opts.Name)
			if err != nil || at == nil {
				return false, err
			}
			w.runAgent(ctx, at)
			return true, nil
		})
	}

	w.opts.Logger.Infof("Worker %s started on queue %s", w.opts.Name, w.opts.TaskQueue)
	return nil
}

// Stop halts the loops and waits for in-flight work to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.opts.Logger.Infof("Worker %s stopped", w.opts.Name)
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.registry.Heartbeat(ctx, w.opts.Name); err != nil {
				w.opts.Logger.Warnf("Heartbeat failed: %v", err)
			}
		}
	}
}

// pollLoop drains available work, then waits for either a notification of
// the matching type or the poll interval. Claimed work is run inline so a
// busy worker naturally stops claiming.
func (w *Worker) pollLoop(ctx context.Context, notifType string, pollOnce func(context.Context) (bool, error)) {
	defer w.wg.Done()

	var notifCh <-chan service.Notification
	if w.opts.Notifier != nil {
		ch, cancel := w.opts.Notifier.Subscribe(16)
		defer cancel()
		notifCh = ch
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		for {
			claimed, err := pollOnce(ctx)
			if err != nil {
				w.opts.Logger.Errorf("Poll failed: %v", err)
				break
			}
			if !claimed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifCh:
			if !ok {
				notifCh = nil
				continue
			}
			if n.Type != notifType {
				continue
			}
			if n.Queue != "" && n.Queue != w.opts.TaskQueue {
				continue
			}
		case <-ticker.C:
		}
	}
}

// runWorkflow rebuilds replay state from the event log, re-runs the workflow
// function and submits the resulting command batch.
func (w *Worker) runWorkflow(ctx context.Context, wt *service.WorkflowTask) {
	execID := wt.Execution.ID
	fn, ok := w.workflows[wt.Execution.Kind]
	if !ok {
		w.submitCommands(ctx, execID, []models.Command{failCommand(fmt.Sprintf("no workflow handler for kind %q", wt.Execution.Kind))})
		return
	}
	state, err := buildReplayState(wt.Events)
	if err != nil {
		w.opts.Logger.Errorf("Failed to rebuild state for workflow %s: %v", execID, err)
		w.submitCommands(ctx, execID, []models.Command{failCommand(fmt.Sprintf("corrupt event history: %v", err))})
		return
	}

	wfCtx := newWorkflowContext(execID, state)
	cmds, err := runWorkflowFunc(fn, wfCtx, state.maxSeq)
	if err != nil {
		w.opts.Logger.Errorf("Workflow %s raised: %v", execID, err)
		cmds = append(wfCtx.commands, failCommand(err.Error()))
	}
	w.submitCommands(ctx, execID, cmds)
}

// runWorkflowFunc executes user code, translating the three ways it can end
// into a terminal command: return, workflow error, or suspension unwind.
func runWorkflowFunc(fn WorkflowFunc, wfCtx *WorkflowContext, lastSeq int64) (cmds []models.Command, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, isSuspend := r.(suspendSignal); isSuspend {
			cmds = append(wfCtx.commands, models.Command{
				Type:    models.SuspendCommandType,
				Suspend: &models.SuspendCommand{LastProcessedSequence: lastSeq},
			})
			err = nil
			return
		}
		err = errors.Errorf("workflow panicked: %v", r)
	}()

	result, err := fn(wfCtx)
	if err != nil {
		return nil, err
	}
	raw, err := marshalInput(result)
	if err != nil {
		return nil, err
	}
	return append(wfCtx.commands, models.Command{
		Type:     models.CompleteCommandType,
		Complete: &models.CompleteCommand{Result: raw},
	}), nil
}

func (w *Worker) submitCommands(ctx context.Context, execID string, cmds []models.Command) {
	if err := w.dispatch.SubmitWorkflowCommands(ctx, execID, w.opts.Name, cmds); err != nil {
		// Usually the work was reclaimed mid-run; the new owner re-executes
		// from the log, so dropping this batch is safe.
		w.opts.Logger.Warnf("Command batch for workflow %s rejected: %v", execID, err)
	}
}

func failCommand(msg string) models.Command {
	return models.Command{
		Type: models.FailCommandType,
		Fail: &models.FailCommand{Error: msg},
	}
}
