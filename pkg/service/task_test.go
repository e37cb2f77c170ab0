package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
	"github.com/flovyn/flovyn/pkg/storage"
)

func TestSubmitTaskIdempotency(t *testing.T) {
	ctx := context.Background()
	svc, _ := newDispatch()
	key := "send-email-42"

	first, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{
		Kind: "email", TaskQueue: "default", IdempotencyKey: &key,
	})
	require.NoError(t, err)

	t.Run("SameKeySameQueueDeduplicates", func(t *testing.T) {
		again, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{
			Kind: "email", TaskQueue: "default", IdempotencyKey: &key,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("SameKeyOtherQueueCreatesNewTask", func(t *testing.T) {
		other, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{
			Kind: "email", TaskQueue: "bulk", IdempotencyKey: &key,
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})
}

func TestTaskRetryBudget(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	task, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{
		Kind: "flaky", TaskQueue: "default", MaxRetries: 2,
	})
	require.NoError(t, err)

	// Attempts 1 and 2 fail within budget and requeue.
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := svc.PollTask(ctx, "default", []string{"flaky"}, "w1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, attempt, claimed.ExecutionCount)

		require.NoError(t, svc.FailTask(ctx, task.ID, "boom"))
		got, err := store.GetTaskExecution(task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingTaskStatus, got.Status)
	}

	// Attempt 3 exhausts the budget.
	claimed, err := svc.PollTask(ctx, "default", []string{"flaky"}, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, svc.FailTask(ctx, task.ID, "boom"))

	got, err := store.GetTaskExecution(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedTaskStatus, got.Status)
	assert.Equal(t, "boom", got.ErrorMsg)
	assert.Equal(t, 3, got.ExecutionCount)
}

func TestTaskFailurePropagatesToWorkflow(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	wf, err := svc.StartWorkflow(ctx, service.StartWorkflowRequest{Kind: "order", TaskQueue: "default"})
	require.NoError(t, err)
	_, err = svc.PollWorkflow(ctx, "default", []string{"order"}, "w1")
	require.NoError(t, err)

	taskID := wf.ID + ":task:1"
	require.NoError(t, svc.SubmitWorkflowCommands(ctx, wf.ID, "w1", []models.Command{
		{
			Type:         models.ScheduleTaskCommandType,
			ScheduleTask: &models.ScheduleTaskCommand{TaskID: taskID, Kind: "charge"},
		},
		suspendCmd(1),
	}))

	_, err = svc.PollTask(ctx, "default", []string{"charge"}, "w1")
	require.NoError(t, err)
	require.NoError(t, svc.FailTask(ctx, taskID, "card declined"))

	// MaxRetries defaulted to 0, so the first failure is final and the
	// workflow wakes to observe it.
	events, err := store.ListEvents(wf.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, models.TaskFailedEvent, last.EventType)

	got, err := store.GetWorkflowExecution(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingWorkflowStatus, got.Status)
}

func TestDuplicateTerminalReportsIgnored(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	task, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{Kind: "once", TaskQueue: "default"})
	require.NoError(t, err)
	_, err = svc.PollTask(ctx, "default", []string{"once"}, "w1")
	require.NoError(t, err)

	require.NoError(t, svc.CompleteTask(ctx, task.ID, []byte(`1`)))
	// A second report after a reclaim race is dropped, first outcome wins.
	require.NoError(t, svc.FailTask(ctx, task.ID, "late failure"))

	got, err := store.GetTaskExecution(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedTaskStatus, got.Status)
	assert.Equal(t, []byte(`1`), got.Result)

	// The store itself guards the transition, so a report that slipped past
	// the service-level check still cannot overwrite the first outcome or
	// append a second wake event.
	err = store.MarkTaskExecution(task.ID, models.FailedTaskStatus, nil, "late failure")
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestReportProgress(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	task, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{Kind: "long", TaskQueue: "default"})
	require.NoError(t, err)

	t.Run("RejectedWhilePending", func(t *testing.T) {
		assert.Error(t, svc.ReportProgress(ctx, task.ID, []byte(`{"pct":10}`)))
	})

	t.Run("StoredWhileRunning", func(t *testing.T) {
		_, err := svc.PollTask(ctx, "default", []string{"long"}, "w1")
		require.NoError(t, err)
		require.NoError(t, svc.ReportProgress(ctx, task.ID, []byte(`{"pct":50}`)))
		got, err := store.GetTaskExecution(task.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"pct":50}`), got.Progress)
	})
}

func TestAgentTaskCompletionResumesAgent(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	agent, err := svc.StartAgent(ctx, service.StartAgentRequest{Kind: "researcher", TaskQueue: "default"})
	require.NoError(t, err)
	_, err = svc.PollAgent(ctx, "default", []string{"researcher"}, "w1")
	require.NoError(t, err)

	task, err := svc.SubmitAgentTask(ctx, service.SubmitAgentTaskRequest{
		TaskID:           agent.ID + ":task:abc",
		AgentExecutionID: agent.ID,
		Kind:             "lookup",
	})
	require.NoError(t, err)

	require.NoError(t, svc.SuspendAgent(ctx, agent.ID, []string{task.ID}))
	got, err := store.GetAgentExecution(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitingForTasksAgentStatus, got.Status)

	_, err = svc.PollTask(ctx, "default", []string{"lookup"}, "w1")
	require.NoError(t, err)
	require.NoError(t, svc.CompleteTask(ctx, task.ID, []byte(`"found"`)))

	got, err = store.GetAgentExecution(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingAgentStatus, got.Status)
}

func TestSuspendAgentAfterTasksAlreadyDone(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	agent, err := svc.StartAgent(ctx, service.StartAgentRequest{Kind: "researcher", TaskQueue: "default"})
	require.NoError(t, err)
	_, err = svc.PollAgent(ctx, "default", []string{"researcher"}, "w1")
	require.NoError(t, err)

	task, err := svc.SubmitAgentTask(ctx, service.SubmitAgentTaskRequest{
		TaskID:           agent.ID + ":task:xyz",
		AgentExecutionID: agent.ID,
		Kind:             "lookup",
	})
	require.NoError(t, err)

	// The task finishes before the agent manages to suspend; the post-suspend
	// re-check resumes immediately instead of waiting forever.
	_, err = svc.PollTask(ctx, "default", []string{"lookup"}, "w1")
	require.NoError(t, err)
	require.NoError(t, svc.CompleteTask(ctx, task.ID, []byte(`"found"`)))

	require.NoError(t, svc.SuspendAgent(ctx, agent.ID, []string{task.ID}))

	got, err := store.GetAgentExecution(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingAgentStatus, got.Status)
}

func TestCancelTask(t *testing.T) {
	ctx := context.Background()
	svc, store := newDispatch()

	t.Run("PendingTaskIsCancelled", func(t *testing.T) {
		task, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{Kind: "email", TaskQueue: "default"})
		require.NoError(t, err)

		require.NoError(t, svc.CancelTask(ctx, task.ID))
		got, err := store.GetTaskExecution(task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CancelledTaskStatus, got.Status)

		// Idempotent on an already-terminal task.
		require.NoError(t, svc.CancelTask(ctx, task.ID))
	})

	t.Run("RunningTaskIsRejected", func(t *testing.T) {
		task, err := svc.SubmitTask(ctx, service.SubmitTaskRequest{Kind: "render", TaskQueue: "default"})
		require.NoError(t, err)
		_, err = svc.PollTask(ctx, "default", []string{"render"}, "w1")
		require.NoError(t, err)

		assert.Error(t, svc.CancelTask(ctx, task.ID))
		got, err := store.GetTaskExecution(task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunningTaskStatus, got.Status)
	})

	t.Run("OwnerLearnsAboutCancellation", func(t *testing.T) {
		wf, err := svc.StartWorkflow(ctx, service.StartWorkflowRequest{Kind: "order", TaskQueue: "default"})
		require.NoError(t, err)
		_, err = svc.PollWorkflow(ctx, "default", []string{"order"}, "w1")
		require.NoError(t, err)
		require.NoError(t, svc.SubmitWorkflowCommands(ctx, wf.ID, "w1", []models.Command{
			{Type: models.ScheduleTaskCommandType, ScheduleTask: &models.ScheduleTaskCommand{
				TaskID: wf.ID + ":task:1", Kind: "render",
			}},
			suspendCmd(1),
		}))

		require.NoError(t, svc.CancelTask(ctx, wf.ID+":task:1"))

		got, err := store.GetWorkflowExecution(wf.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingWorkflowStatus, got.Status)
		events, err := store.ListEvents(wf.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskFailedEvent, events[len(events)-1].EventType)
	})
}
