package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovyn/flovyn/pkg/models"
)

func mustEvent(t *testing.T, seq int64, eventType models.EventType, payload interface{}) models.WorkflowEvent {
	t.Helper()
	e, err := models.NewEvent("wf-1", eventType, payload)
	require.NoError(t, err)
	e.SequenceNumber = seq
	return e
}

func history(t *testing.T, payloads ...models.WorkflowEvent) []models.WorkflowEvent {
	return payloads
}

func TestBuildReplayState(t *testing.T) {
	events := history(t,
		mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{Kind: "order", Input: []byte(`"in"`)}),
		mustEvent(t, 2, models.TaskScheduledEvent, models.TaskScheduledPayload{TaskID: "wf-1:task:1", TaskKind: "charge"}),
		mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
		mustEvent(t, 4, models.TaskCompletedEvent, models.TaskCompletedPayload{TaskID: "wf-1:task:1", Result: []byte(`42`)}),
		mustEvent(t, 5, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`1`)}),
	)

	st, err := buildReplayState(events)
	require.NoError(t, err)

	assert.Equal(t, json.RawMessage(`"in"`), st.input)
	assert.Equal(t, int64(5), st.maxSeq)
	assert.Equal(t, []int64{3}, st.suspendSeqs)
	assert.True(t, st.tasksScheduled["wf-1:task:1"])
	assert.Equal(t, json.RawMessage(`42`), st.taskOutcomes["wf-1:task:1"].result)
	assert.False(t, st.cancelled)
	require.Len(t, st.signals["go"], 1)
}

func TestWorkflowReplayIsDeterministic(t *testing.T) {
	wf := func(ctx *WorkflowContext) (interface{}, error) {
		var in string
		if err := ctx.Input(&in); err != nil {
			return nil, err
		}
		var n int
		if err := ctx.ExecuteTask("charge", in, &n); err != nil {
			return nil, err
		}
		return n * 2, nil
	}

	t.Run("FirstRunSchedulesAndSuspends", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{Input: []byte(`"in"`)}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		cmds, err := runWorkflowFunc(wf, ctx, st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		assert.Equal(t, models.ScheduleTaskCommandType, cmds[0].Type)
		assert.Equal(t, "wf-1:task:1", cmds[0].ScheduleTask.TaskID)
		assert.Equal(t, models.SuspendCommandType, cmds[1].Type)
		assert.Equal(t, int64(1), cmds[1].Suspend.LastProcessedSequence)
	})

	t.Run("ReplayAfterCompletionFinishes", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{Input: []byte(`"in"`)}),
			mustEvent(t, 2, models.TaskScheduledEvent, models.TaskScheduledPayload{TaskID: "wf-1:task:1"}),
			mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
			mustEvent(t, 4, models.TaskCompletedEvent, models.TaskCompletedPayload{TaskID: "wf-1:task:1", Result: []byte(`21`)}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		cmds, err := runWorkflowFunc(wf, ctx, st.maxSeq)
		require.NoError(t, err)
		// The task is already in the log, so no second schedule command.
		require.Len(t, cmds, 1)
		assert.Equal(t, models.CompleteCommandType, cmds[0].Type)
		assert.Equal(t, json.RawMessage(`42`), cmds[0].Complete.Result)
	})

	t.Run("TaskFailureSurfacesAsTaskError", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{Input: []byte(`"in"`)}),
			mustEvent(t, 2, models.TaskScheduledEvent, models.TaskScheduledPayload{TaskID: "wf-1:task:1"}),
			mustEvent(t, 3, models.TaskFailedEvent, models.TaskFailedPayload{TaskID: "wf-1:task:1", Error: "declined"}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		_, err = runWorkflowFunc(wf, ctx, st.maxSeq)
		require.Error(t, err)
		var taskErr *TaskError
		require.ErrorAs(t, err, &taskErr)
		assert.Equal(t, "declined", taskErr.Message)
	})
}

func TestSleepReplay(t *testing.T) {
	wf := func(ctx *WorkflowContext) (interface{}, error) {
		ctx.Sleep(time.Minute)
		return "rested", nil
	}

	fireAt := time.Now().UTC().Add(time.Minute)

	t.Run("FirstRunCreatesTimer", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		cmds, err := runWorkflowFunc(wf, ctx, st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		assert.Equal(t, models.StartTimerCommandType, cmds[0].Type)
		assert.Equal(t, "wf-1:timer:1", cmds[0].StartTimer.TimerID)
		assert.Equal(t, models.SuspendCommandType, cmds[1].Type)
	})

	t.Run("ReplayWhileScheduledSuspendsWithoutDuplicate", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.TimerScheduledEvent, models.TimerScheduledPayload{TimerID: "wf-1:timer:1", FireAt: fireAt}),
			mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		cmds, err := runWorkflowFunc(wf, ctx, st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, models.SuspendCommandType, cmds[0].Type)
	})

	t.Run("ReplayAfterFireCompletes", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.TimerScheduledEvent, models.TimerScheduledPayload{TimerID: "wf-1:timer:1", FireAt: fireAt}),
			mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
			mustEvent(t, 4, models.TimerFiredEvent, models.TimerFiredPayload{TimerID: "wf-1:timer:1"}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		cmds, err := runWorkflowFunc(wf, ctx, st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, models.CompleteCommandType, cmds[0].Type)
	})
}

func TestSignalVisibility(t *testing.T) {
	t.Run("NonBlockingPollCannotStealLateSignal", func(t *testing.T) {
		// One signal arrived after the last suspension. A blocking wait is
		// entitled to it; a non-blocking poll earlier in the code must not
		// consume it during replay.
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.WorkflowSuspendedEvent, nil),
			mustEvent(t, 3, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`"late"`)}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)

		var polled string
		ok, err := ctx.SignalAvailable("go", &polled)
		require.NoError(t, err)
		assert.False(t, ok)

		var waited string
		require.NoError(t, ctx.WaitForSignal("go", &waited))
		assert.Equal(t, "late", waited)
	})

	t.Run("SettledSignalVisibleToPoll", func(t *testing.T) {
		// The signal arrived before the suspension and the replay has already
		// consumed an event past that suspension, so the original run of this
		// segment saw the signal too.
		fireAt := time.Now().UTC()
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.TimerScheduledEvent, models.TimerScheduledPayload{TimerID: "wf-1:timer:1", FireAt: fireAt}),
			mustEvent(t, 3, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`"early"`)}),
			mustEvent(t, 4, models.WorkflowSuspendedEvent, nil),
			mustEvent(t, 5, models.TimerFiredEvent, models.TimerFiredPayload{TimerID: "wf-1:timer:1"}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		ctx.Sleep(time.Minute)

		var polled string
		ok, err := ctx.SignalAvailable("go", &polled)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "early", polled)

		// Consumed: a second poll finds nothing.
		ok, err = ctx.SignalAvailable("go", &polled)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("FirstSegmentPollSeesNothingOnReplay", func(t *testing.T) {
		// The poll ran before the first suspension, when the log held no
		// signal. A replay of that segment must reproduce the miss even though
		// the signal now sits in the history.
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`"early"`)}),
			mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)

		var polled string
		ok, err := ctx.SignalAvailable("go", &polled)
		require.NoError(t, err)
		assert.False(t, ok)

		var waited string
		require.NoError(t, ctx.WaitForSignal("go", &waited))
		assert.Equal(t, "early", waited)
	})

	t.Run("SignalsWithSameNameConsumeInArrivalOrder", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`1`)}),
			mustEvent(t, 3, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`2`)}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)

		var a, b int
		require.NoError(t, ctx.WaitForSignal("go", &a))
		require.NoError(t, ctx.WaitForSignal("go", &b))
		assert.Equal(t, 1, a)
		assert.Equal(t, 2, b)
	})

	t.Run("CancelSignalSetsCancelled", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: models.CancelSignalName, Payload: []byte(`{}`)}),
		))
		require.NoError(t, err)
		ctx := newWorkflowContext("wf-1", st)
		assert.True(t, ctx.Cancelled())
	})
}

func TestReplayAcrossMultipleSuspensions(t *testing.T) {
	// A signal that arrived between two suspensions must stay invisible to a
	// poll replaying the segment before it. If the poll steals it, the replay
	// diverges from the original run and the blocking wait further down never
	// finds its signal again, wedging the workflow.
	var polled bool
	wf := func(ctx *WorkflowContext) (interface{}, error) {
		ok, err := ctx.SignalAvailable("go", nil)
		if err != nil {
			return nil, err
		}
		polled = ok
		ctx.Sleep(time.Minute)
		if err := ctx.WaitForSignal("go", nil); err != nil {
			return nil, err
		}
		ctx.Sleep(time.Minute)
		return "done", nil
	}

	fireAt := time.Now().UTC()
	st, err := buildReplayState(history(t,
		mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
		mustEvent(t, 2, models.TimerScheduledEvent, models.TimerScheduledPayload{TimerID: "wf-1:timer:1", FireAt: fireAt}),
		mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
		mustEvent(t, 4, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go", Payload: []byte(`{}`)}),
		mustEvent(t, 5, models.TimerFiredEvent, models.TimerFiredPayload{TimerID: "wf-1:timer:1"}),
		mustEvent(t, 6, models.TimerScheduledEvent, models.TimerScheduledPayload{TimerID: "wf-1:timer:2", FireAt: fireAt}),
		mustEvent(t, 7, models.WorkflowSuspendedEvent, nil),
		mustEvent(t, 8, models.TimerFiredEvent, models.TimerFiredPayload{TimerID: "wf-1:timer:2"}),
	))
	require.NoError(t, err)

	cmds, err := runWorkflowFunc(wf, newWorkflowContext("wf-1", st), st.maxSeq)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CompleteCommandType, cmds[0].Type)
	assert.False(t, polled, "poll observed a signal that was not in the log when its segment first ran")
}

func TestPromiseSettlementReplay(t *testing.T) {
	wf := func(ctx *WorkflowContext) (interface{}, error) {
		if err := ctx.ResolvePromise("wf-2", "payment", "ok"); err != nil {
			return nil, err
		}
		if err := ctx.WaitForSignal("done", nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	t.Run("FirstRunEmitsResolve", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
		))
		require.NoError(t, err)
		cmds, err := runWorkflowFunc(wf, newWorkflowContext("wf-1", st), st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		assert.Equal(t, models.ResolvePromiseCommandType, cmds[0].Type)
		assert.Equal(t, "wf-2", cmds[0].ResolvePromise.WorkflowExecutionID)
		assert.Equal(t, models.SuspendCommandType, cmds[1].Type)
	})

	t.Run("ReplayDoesNotResolveAgain", func(t *testing.T) {
		// The settlement marker in the log proves the resolve already reached
		// its target; replay must not deliver a second PROMISE_RESOLVED.
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.PromiseSettledEvent, models.PromiseSettledPayload{WorkflowExecutionID: "wf-2", Name: "payment"}),
			mustEvent(t, 3, models.WorkflowSuspendedEvent, nil),
			mustEvent(t, 4, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "done"}),
		))
		require.NoError(t, err)
		cmds, err := runWorkflowFunc(wf, newWorkflowContext("wf-1", st), st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, models.CompleteCommandType, cmds[0].Type)
	})
}

func TestPromiseReplay(t *testing.T) {
	wf := func(ctx *WorkflowContext) (interface{}, error) {
		var v string
		if err := ctx.WaitForPromise("payment", &v); err != nil {
			return nil, err
		}
		return v, nil
	}

	t.Run("UnresolvedSuspends", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
		))
		require.NoError(t, err)
		cmds, err := runWorkflowFunc(wf, newWorkflowContext("wf-1", st), st.maxSeq)
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, models.SuspendCommandType, cmds[0].Type)
	})

	t.Run("RejectionSurfacesAsPromiseError", func(t *testing.T) {
		st, err := buildReplayState(history(t,
			mustEvent(t, 1, models.WorkflowStartedEvent, models.WorkflowStartedPayload{}),
			mustEvent(t, 2, models.PromiseRejectedEvent, models.PromiseRejectedPayload{Name: "payment", Reason: "expired"}),
		))
		require.NoError(t, err)
		_, err = runWorkflowFunc(wf, newWorkflowContext("wf-1", st), st.maxSeq)
		var promiseErr *PromiseError
		require.ErrorAs(t, err, &promiseErr)
		assert.Equal(t, "expired", promiseErr.Reason)
	})
}
