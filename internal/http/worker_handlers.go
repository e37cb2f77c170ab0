package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flovyn/flovyn/pkg/service"
)

type registerWorkerRequest struct {
	WorkerName    string   `json:"worker_name" binding:"required"`
	TaskQueue     string   `json:"task_queue" binding:"required"`
	WorkflowKinds []string `json:"workflow_kinds"`
	TaskKinds     []string `json:"task_kinds"`
	AgentKinds    []string `json:"agent_kinds"`
}

func (s *Server) registerWorker(c *gin.Context) {
	var req registerWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	w, err := s.workers.Register(c.Request.Context(), service.RegisterWorkerRequest{
		WorkerName:    req.WorkerName,
		TaskQueue:     req.TaskQueue,
		WorkflowKinds: req.WorkflowKinds,
		TaskKinds:     req.TaskKinds,
		AgentKinds:    req.AgentKinds,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) listWorkers(c *gin.Context) {
	workers, err := s.workers.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workers)
}

func (s *Server) heartbeatWorker(c *gin.Context) {
	if err := s.workers.Heartbeat(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
