package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}
func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Warnf(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}

func newTestScheduler(store storage.Store) *Scheduler {
	return NewScheduler(store, NewNotifier(), nopLogger{}, SchedulerConfig{})
}

func suspendedWorkflow(t *testing.T, store *storage.MockStore) models.WorkflowExecution {
	t.Helper()
	wf, created, err := store.CreateWorkflowExecution(models.WorkflowExecution{
		Kind: "order", TaskQueue: "default", Status: models.PendingWorkflowStatus,
	})
	require.NoError(t, err)
	require.True(t, created)
	event, err := models.NewEvent(wf.ID, models.WorkflowStartedEvent, models.WorkflowStartedPayload{Kind: "order"})
	require.NoError(t, err)
	_, err = store.AppendEvent(wf.ID, event)
	require.NoError(t, err)
	suspended, err := models.NewEvent(wf.ID, models.WorkflowSuspendedEvent, nil)
	require.NoError(t, err)
	_, err = store.AppendEvent(wf.ID, suspended)
	require.NoError(t, err)
	require.NoError(t, store.SuspendWorkflowExecution(wf.ID))
	return wf
}

func TestFireDueTimers(t *testing.T) {
	store := storage.NewMockStore()
	s := newTestScheduler(store)
	wf := suspendedWorkflow(t, store)

	require.NoError(t, store.CreateTimer(models.Timer{
		ID:                  "t1",
		WorkflowExecutionID: wf.ID,
		FireAt:              time.Now().Add(-time.Second),
	}))

	t.Run("ExactlyOnceUnderConcurrentPasses", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.fireDueTimers()
			}()
		}
		wg.Wait()

		events, err := store.ListEvents(wf.ID)
		require.NoError(t, err)
		fired := 0
		for _, e := range events {
			if e.EventType == models.TimerFiredEvent {
				fired++
			}
		}
		assert.Equal(t, 1, fired)
	})

	t.Run("ResumesWaitingWorkflow", func(t *testing.T) {
		got, err := store.GetWorkflowExecution(wf.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingWorkflowStatus, got.Status)
	})

	t.Run("FutureTimerStaysQueued", func(t *testing.T) {
		require.NoError(t, store.CreateTimer(models.Timer{
			ID:                  "t2",
			WorkflowExecutionID: wf.ID,
			FireAt:              time.Now().Add(time.Hour),
		}))
		s.fireDueTimers()
		events, err := store.ListEvents(wf.ID)
		require.NoError(t, err)
		fired := 0
		for _, e := range events {
			if e.EventType == models.TimerFiredEvent {
				fired++
			}
		}
		assert.Equal(t, 1, fired)
	})
}

func TestDetectStaleWorkers(t *testing.T) {
	store := storage.NewMockStore()
	s := newTestScheduler(store)
	s.cfg.HeartbeatTimeout = 50 * time.Millisecond

	_, err := store.UpsertWorker(models.Worker{
		WorkerName: "dead-worker", TaskQueue: "default",
		WorkflowKinds: []string{"order"},
	})
	require.NoError(t, err)

	wf, _, err := store.CreateWorkflowExecution(models.WorkflowExecution{
		Kind: "order", TaskQueue: "default", Status: models.PendingWorkflowStatus,
	})
	require.NoError(t, err)
	_, err = store.ClaimWorkflowExecution("default", []string{"order"}, "dead-worker")
	require.NoError(t, err)

	// Heartbeat expires; the worker goes offline and its claim is requeued.
	time.Sleep(60 * time.Millisecond)
	s.detectStaleWorkers()

	w, err := store.GetWorker("dead-worker")
	require.NoError(t, err)
	assert.Equal(t, models.OfflineWorkerStatus, w.Status)

	got, err := store.GetWorkflowExecution(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingWorkflowStatus, got.Status)
	assert.Nil(t, got.WorkerID)
}

func TestSweepOrphans(t *testing.T) {
	store := storage.NewMockStore()
	s := newTestScheduler(store)

	// Work claimed under a name that never registered.
	_, _, err := store.CreateTaskExecution(models.TaskExecution{
		Kind: "charge", TaskQueue: "default", Status: models.PendingTaskStatus,
	})
	require.NoError(t, err)
	task, err := store.ClaimTaskExecution("default", []string{"charge"}, "ghost")
	require.NoError(t, err)

	s.sweepOrphans()

	got, err := store.GetTaskExecution(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, got.Status)
	assert.Nil(t, got.WorkerID)
}

func TestResumeEligibleSafetyNet(t *testing.T) {
	store := storage.NewMockStore()
	s := newTestScheduler(store)
	wf := suspendedWorkflow(t, store)

	t.Run("NoWakeEventKeepsWaiting", func(t *testing.T) {
		s.resumeEligible()
		got, err := store.GetWorkflowExecution(wf.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WaitingWorkflowStatus, got.Status)
	})

	t.Run("WakeEventAfterSuspensionResumes", func(t *testing.T) {
		event, err := models.NewEvent(wf.ID, models.SignalReceivedEvent, models.SignalReceivedPayload{Name: "go"})
		require.NoError(t, err)
		_, err = store.AppendEvent(wf.ID, event)
		require.NoError(t, err)

		s.resumeEligible()
		got, err := store.GetWorkflowExecution(wf.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingWorkflowStatus, got.Status)
	})
}
