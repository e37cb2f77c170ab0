package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
	"github.com/flovyn/flovyn/pkg/storage"
)

type startWorkflowRequest struct {
	Kind           string          `json:"kind" binding:"required,kind"`
	TaskQueue      string          `json:"task_queue" binding:"required"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey *string         `json:"idempotency_key"`
	PriorityMS     int64           `json:"priority_ms"`
}

func (s *Server) startWorkflow(c *gin.Context) {
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	wf, err := s.dispatch.StartWorkflow(c.Request.Context(), service.StartWorkflowRequest{
		Kind:           req.Kind,
		TaskQueue:      req.TaskQueue,
		Input:          req.Input,
		IdempotencyKey: req.IdempotencyKey,
		PriorityMS:     req.PriorityMS,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (s *Server) listWorkflows(c *gin.Context) {
	var parentID *string
	if v := c.Query("parent_id"); v != "" {
		parentID = &v
	}
	workflows, err := s.dispatch.ListWorkflows(c.Request.Context(), storage.WorkflowFilter{
		Status:    models.WorkflowStatus(c.Query("status")),
		Kind:      c.Query("kind"),
		TaskQueue: c.Query("task_queue"),
		ParentID:  parentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflows)
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.dispatch.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) listWorkflowEvents(c *gin.Context) {
	events, err := s.dispatch.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

type pollRequest struct {
	TaskQueue  string   `json:"task_queue" binding:"required"`
	Kinds      []string `json:"kinds" binding:"required"`
	WorkerName string   `json:"worker_name" binding:"required"`
}

func (s *Server) pollWorkflow(c *gin.Context) {
	var req pollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	wt, err := s.dispatch.PollWorkflow(c.Request.Context(), req.TaskQueue, req.Kinds, req.WorkerName)
	if err != nil {
		respondError(c, err)
		return
	}
	if wt == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, wt)
}

type submitCommandsRequest struct {
	WorkerName string           `json:"worker_name" binding:"required"`
	Commands   []models.Command `json:"commands" binding:"required"`
}

func (s *Server) submitWorkflowCommands(c *gin.Context) {
	var req submitCommandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.SubmitWorkflowCommands(c.Request.Context(), c.Param("id"), req.WorkerName, req.Commands); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type signalRequest struct {
	Name    string          `json:"name" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) signalWorkflow(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.SignalWorkflow(c.Request.Context(), c.Param("id"), req.Name, req.Payload); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	if err := s.dispatch.CancelWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type resolvePromiseRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) resolvePromise(c *gin.Context) {
	var req resolvePromiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.ResolvePromise(c.Request.Context(), c.Param("id"), c.Param("name"), req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type rejectPromiseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) rejectPromise(c *gin.Context) {
	var req rejectPromiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.RejectPromise(c.Request.Context(), c.Param("id"), c.Param("name"), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
