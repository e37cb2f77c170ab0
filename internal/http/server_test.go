package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flovynhttp "github.com/flovyn/flovyn/internal/http"
	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
	"github.com/flovyn/flovyn/pkg/storage"
)

type testLogger struct{}

func (testLogger) Debugf(format string, args ...interface{}) {}
func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Warnf(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

func newTestServer(t *testing.T) (http.Handler, *storage.MockStore) {
	t.Helper()
	store := storage.NewMockStore()
	notifier := service.NewNotifier()
	t.Cleanup(notifier.Close)
	dispatch := service.NewDispatchService(store, notifier, testLogger{})
	workers := service.NewWorkerService(store, notifier, testLogger{})
	return flovynhttp.NewServer(dispatch, workers, notifier).Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWorkflowEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	t.Run("StartReturnsCreated", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
			"kind":       "order",
			"task_queue": "default",
			"input":      map[string]int{"amount": 100},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var wf models.WorkflowExecution
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
		assert.NotEmpty(t, wf.ID)
		assert.Equal(t, models.PendingWorkflowStatus, wf.Status)

		got := doJSON(t, h, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
		assert.Equal(t, http.StatusOK, got.Code)
	})

	t.Run("StartWithoutKindIsBadRequest", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
			"task_queue": "default",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("StartWithMalformedKindIsBadRequest", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
			"kind":       "order details!",
			"task_queue": "default",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GetMissingIsNotFound", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("EmptyPollIsNoContent", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/poll", map[string]interface{}{
			"task_queue":  "empty-queue",
			"kinds":       []string{"order"},
			"worker_name": "w1",
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("PollReturnsClaimedExecutionWithHistory", func(t *testing.T) {
		start := doJSON(t, h, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
			"kind":       "payment",
			"task_queue": "billing",
		})
		require.Equal(t, http.StatusCreated, start.Code)

		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/poll", map[string]interface{}{
			"task_queue":  "billing",
			"kinds":       []string{"payment"},
			"worker_name": "w1",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var wt service.WorkflowTask
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wt))
		assert.Equal(t, models.RunningWorkflowStatus, wt.Execution.Status)
		require.Len(t, wt.Events, 1)
		assert.Equal(t, models.WorkflowStartedEvent, wt.Events[0].EventType)
	})

	t.Run("SignalAndCancelAreAccepted", func(t *testing.T) {
		start := doJSON(t, h, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
			"kind":       "approval",
			"task_queue": "default",
		})
		require.Equal(t, http.StatusCreated, start.Code)
		var wf models.WorkflowExecution
		require.NoError(t, json.Unmarshal(start.Body.Bytes(), &wf))

		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/signal", map[string]interface{}{
			"name":    "approval",
			"payload": "granted",
		})
		assert.Equal(t, http.StatusAccepted, rec.Code)

		rec = doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/cancel", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		events := doJSON(t, h, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/events", nil)
		require.Equal(t, http.StatusOK, events.Code)
		var log []models.WorkflowEvent
		require.NoError(t, json.Unmarshal(events.Body.Bytes(), &log))
		require.Len(t, log, 3)
		assert.Equal(t, models.SignalReceivedEvent, log[1].EventType)
		assert.Equal(t, models.SignalReceivedEvent, log[2].EventType)
	})

	t.Run("CommandsFromNonOwnerAreRejected", func(t *testing.T) {
		start := doJSON(t, h, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
			"kind":       "transfer",
			"task_queue": "default",
		})
		require.Equal(t, http.StatusCreated, start.Code)
		var wf models.WorkflowExecution
		require.NoError(t, json.Unmarshal(start.Body.Bytes(), &wf))

		poll := doJSON(t, h, http.MethodPost, "/api/v1/workflows/poll", map[string]interface{}{
			"task_queue":  "default",
			"kinds":       []string{"transfer"},
			"worker_name": "owner",
		})
		require.Equal(t, http.StatusOK, poll.Code)

		rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/commands", map[string]interface{}{
			"worker_name": "impostor",
			"commands": []map[string]interface{}{
				{"type": models.CompleteCommandType, "complete": map[string]interface{}{"result": json.RawMessage(`"done"`)}},
			},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestTaskEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	submit := doJSON(t, h, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"kind":       "charge",
		"task_queue": "billing",
		"input":      7,
	})
	require.Equal(t, http.StatusCreated, submit.Code)
	var task models.TaskExecution
	require.NoError(t, json.Unmarshal(submit.Body.Bytes(), &task))

	t.Run("CompleteRequiresClaim", func(t *testing.T) {
		poll := doJSON(t, h, http.MethodPost, "/api/v1/tasks/poll", map[string]interface{}{
			"task_queue":  "billing",
			"kinds":       []string{"charge"},
			"worker_name": "w1",
		})
		require.Equal(t, http.StatusOK, poll.Code)

		rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/complete", task.ID), map[string]interface{}{
			"result": 49,
		})
		assert.Equal(t, http.StatusAccepted, rec.Code)

		got := doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
		require.Equal(t, http.StatusOK, got.Code)
		var final models.TaskExecution
		require.NoError(t, json.Unmarshal(got.Body.Bytes(), &final))
		assert.Equal(t, models.CompletedTaskStatus, final.Status)
		assert.Equal(t, "49", string(final.Result))
	})

	t.Run("EmptyPollIsNoContent", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks/poll", map[string]interface{}{
			"task_queue":  "billing",
			"kinds":       []string{"charge"},
			"worker_name": "w1",
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestAgentEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	start := doJSON(t, h, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"kind":       "researcher",
		"task_queue": "default",
	})
	require.Equal(t, http.StatusCreated, start.Code)
	var agent models.AgentExecution
	require.NoError(t, json.Unmarshal(start.Body.Bytes(), &agent))

	t.Run("EntryAppendReportsCreatedOnce", func(t *testing.T) {
		body := map[string]interface{}{
			"id":         "entry-1",
			"entry_type": models.AssistantAgentEntry,
			"content":    "step one",
		}
		rec := doJSON(t, h, http.MethodPost, "/api/v1/agents/"+agent.ID+"/entries", body)
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, h, http.MethodPost, "/api/v1/agents/"+agent.ID+"/entries", body)
		assert.Equal(t, http.StatusOK, rec.Code)

		list := doJSON(t, h, http.MethodGet, "/api/v1/agents/"+agent.ID+"/entries", nil)
		require.Equal(t, http.StatusOK, list.Code)
		var entries []models.AgentEntry
		require.NoError(t, json.Unmarshal(list.Body.Bytes(), &entries))
		assert.Len(t, entries, 1)
	})

	t.Run("CheckpointReturnsSequence", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/agents/"+agent.ID+"/checkpoints", map[string]interface{}{
			"state": map[string]string{"phase": "plan"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"checkpoint_seq":1}`, rec.Body.String())
	})

	t.Run("SuspendWithoutAwaitedTasksIsBadRequest", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/agents/"+agent.ID+"/suspend", map[string]interface{}{
			"awaited_task_ids": []string{},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWorkerEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	t.Run("RegisterAndHeartbeat", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/workers", map[string]interface{}{
			"worker_name":    "w1",
			"task_queue":     "default",
			"workflow_kinds": []string{"order"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		var w models.Worker
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
		assert.Equal(t, models.OnlineWorkerStatus, w.Status)

		beat := doJSON(t, h, http.MethodPost, "/api/v1/workers/w1/heartbeat", nil)
		assert.Equal(t, http.StatusAccepted, beat.Code)

		list := doJSON(t, h, http.MethodGet, "/api/v1/workers", nil)
		require.Equal(t, http.StatusOK, list.Code)
		var workers []models.Worker
		require.NoError(t, json.Unmarshal(list.Body.Bytes(), &workers))
		assert.Len(t, workers, 1)
	})

	t.Run("HeartbeatUnknownWorkerIsNotFound", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/workers/ghost/heartbeat", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
