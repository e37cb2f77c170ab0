package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
)

type startAgentRequest struct {
	Kind           string          `json:"kind" binding:"required,kind"`
	TaskQueue      string          `json:"task_queue" binding:"required"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey *string         `json:"idempotency_key"`
}

func (s *Server) startAgent(c *gin.Context) {
	var req startAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	agent, err := s.dispatch.StartAgent(c.Request.Context(), service.StartAgentRequest{
		Kind:           req.Kind,
		TaskQueue:      req.TaskQueue,
		Input:          req.Input,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.dispatch.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) pollAgent(c *gin.Context) {
	var req pollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	at, err := s.dispatch.PollAgent(c.Request.Context(), req.TaskQueue, req.Kinds, req.WorkerName)
	if err != nil {
		respondError(c, err)
		return
	}
	if at == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, at)
}

func (s *Server) listAgentEntries(c *gin.Context) {
	entries, err := s.dispatch.ListAgentEntries(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type appendAgentEntryRequest struct {
	ID            string                `json:"id" binding:"required"`
	EntryType     models.AgentEntryType `json:"entry_type" binding:"required"`
	ParentEntryID *string               `json:"parent_entry_id"`
	Content       json.RawMessage       `json:"content"`
}

func (s *Server) appendAgentEntry(c *gin.Context) {
	var req appendAgentEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	created, err := s.dispatch.AppendAgentEntry(c.Request.Context(), models.AgentEntry{
		ID:               req.ID,
		AgentExecutionID: c.Param("id"),
		ParentEntryID:    req.ParentEntryID,
		EntryType:        req.EntryType,
		Content:          req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"created": created})
}

type saveCheckpointRequest struct {
	LeafEntryID *string         `json:"leaf_entry_id"`
	State       json.RawMessage `json:"state"`
}

func (s *Server) saveAgentCheckpoint(c *gin.Context) {
	var req saveCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	seq, err := s.dispatch.SaveAgentCheckpoint(c.Request.Context(), models.AgentCheckpoint{
		AgentExecutionID: c.Param("id"),
		LeafEntryID:      req.LeafEntryID,
		State:            req.State,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"checkpoint_seq": seq})
}

type submitAgentTaskRequest struct {
	TaskID         string          `json:"task_id" binding:"required"`
	Kind           string          `json:"kind" binding:"required"`
	TaskQueue      *string         `json:"task_queue"`
	Input          json.RawMessage `json:"input"`
	MaxRetries     int             `json:"max_retries"`
	IdempotencyKey *string         `json:"idempotency_key"`
}

func (s *Server) submitAgentTask(c *gin.Context) {
	var req submitAgentTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	task, err := s.dispatch.SubmitAgentTask(c.Request.Context(), service.SubmitAgentTaskRequest{
		TaskID:           req.TaskID,
		AgentExecutionID: c.Param("id"),
		Kind:             req.Kind,
		TaskQueue:        req.TaskQueue,
		Input:            req.Input,
		MaxRetries:       req.MaxRetries,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

type suspendAgentRequest struct {
	AwaitedTaskIDs []string `json:"awaited_task_ids" binding:"required,min=1"`
}

func (s *Server) suspendAgent(c *gin.Context) {
	var req suspendAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.SuspendAgent(c.Request.Context(), c.Param("id"), req.AwaitedTaskIDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type completeAgentRequest struct {
	Result json.RawMessage `json:"result"`
}

func (s *Server) completeAgent(c *gin.Context) {
	var req completeAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.CompleteAgent(c.Request.Context(), c.Param("id"), req.Result); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type failAgentRequest struct {
	Error string `json:"error" binding:"required"`
}

func (s *Server) failAgent(c *gin.Context) {
	var req failAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.dispatch.FailAgent(c.Request.Context(), c.Param("id"), req.Error); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
