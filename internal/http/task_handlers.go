package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
	"github.com/flovyn/flovyn/pkg/storage"
)

type submitTaskRequest struct {
	Kind           string          `json:"kind" binding:"required,kind"`
	TaskQueue      string          `json:"task_queue" binding:"required"`
	Input          json.RawMessage `json:"input"`
	MaxRetries     int             `json:"max_retries"`
	IdempotencyKey *string         `json:"idempotency_key"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	task, err := s.dispatch.SubmitTask(c.Request.Context(), service.SubmitTaskRequest{
		Kind:           req.Kind,
		TaskQueue:      req.TaskQueue,
		Input:          req.Input,
		MaxRetries:     req.MaxRetries,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	var workflowID, agentID *string
	if v := c.Query("workflow_id"); v != "" {
		workflowID = &v
	}
	if v := c.Query("agent_id"); v != "" {
		agentID = &v
	}
	tasks, err := s.dispatch.ListTasks(c.Request.Context(), storage.TaskFilter{
		Status:              models.TaskStatus(c.Query("status")),
		Kind:                c.Query("kind"),
		TaskQueue:           c.Query("task_queue"),
		WorkflowExecutionID: workflowID,
		AgentExecutionID:    agentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.dispatch.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) pollTask(c *gin.Context) {
	var req pollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	task, err := s.dispatch.PollTask(c.Request.Context(), req.TaskQueue, req.Kinds, req.WorkerName)
	if err != nil {
		respondError(c, err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, task)
}

type completeTaskRequest struct {
	Result json.RawMessage `json:"result"`
}

func (s *Server) completeTask(c *gin.Context) {
	var req completeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.CompleteTask(c.Request.Context(), c.Param("id"), req.Result); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type failTaskRequest struct {
	Error string `json:"error" binding:"required"`
}

func (s *Server) failTask(c *gin.Context) {
	var req failTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.FailTask(c.Request.Context(), c.Param("id"), req.Error); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) cancelTask(c *gin.Context) {
	if err := s.dispatch.CancelTask(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type taskProgressRequest struct {
	Progress json.RawMessage `json:"progress" binding:"required"`
}

func (s *Server) reportTaskProgress(c *gin.Context) {
	var req taskProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.ReportProgress(c.Request.Context(), c.Param("id"), req.Progress); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
