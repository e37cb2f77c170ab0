package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flovyn/flovyn/internal/log"
	"github.com/flovyn/flovyn/pkg/service"
	"github.com/flovyn/flovyn/pkg/storage"
)

// Server exposes the engine over HTTP: the worker protocol (poll, commands,
// task outcomes), the client surface (start, signal, cancel, read) and the
// operational endpoints (health, metrics, notification stream).
type Server struct {
	dispatch *service.DispatchService
	workers  *service.WorkerService
	notifier *service.Notifier
	engine   *gin.Engine
	srv      *http.Server
}

func NewServer(dispatch *service.DispatchService, workers *service.WorkerService, notifier *service.Notifier) *Server {
	gin.SetMode(gin.ReleaseMode)
	registerValidations()
	s := &Server{
		dispatch: dispatch,
		workers:  workers,
		notifier: notifier,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), cors.Default())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/api/v1/notifications", s.streamNotifications)

	v1 := s.engine.Group("/api/v1")

	wf := v1.Group("/workflows")
	wf.POST("", s.startWorkflow)
	wf.GET("", s.listWorkflows)
	wf.POST("/poll", s.pollWorkflow)
	wf.GET("/:id", s.getWorkflow)
	wf.GET("/:id/events", s.listWorkflowEvents)
	wf.POST("/:id/commands", s.submitWorkflowCommands)
	wf.POST("/:id/signal", s.signalWorkflow)
	wf.POST("/:id/cancel", s.cancelWorkflow)
	wf.POST("/:id/promises/:name/resolve", s.resolvePromise)
	wf.POST("/:id/promises/:name/reject", s.rejectPromise)

	tasks := v1.Group("/tasks")
	tasks.POST("", s.submitTask)
	tasks.GET("", s.listTasks)
	tasks.POST("/poll", s.pollTask)
	tasks.GET("/:id", s.getTask)
	tasks.POST("/:id/complete", s.completeTask)
	tasks.POST("/:id/fail", s.failTask)
	tasks.POST("/:id/cancel", s.cancelTask)
	tasks.POST("/:id/progress", s.reportTaskProgress)

	agents := v1.Group("/agents")
	agents.POST("", s.startAgent)
	agents.POST("/poll", s.pollAgent)
	agents.GET("/:id", s.getAgent)
	agents.GET("/:id/entries", s.listAgentEntries)
	agents.POST("/:id/entries", s.appendAgentEntry)
	agents.POST("/:id/checkpoints", s.saveAgentCheckpoint)
	agents.POST("/:id/tasks", s.submitAgentTask)
	agents.POST("/:id/suspend", s.suspendAgent)
	agents.POST("/:id/complete", s.completeAgent)
	agents.POST("/:id/fail", s.failAgent)

	workers := v1.Group("/workers")
	workers.POST("", s.registerWorker)
	workers.GET("", s.listWorkers)
	workers.POST("/:name/heartbeat", s.heartbeatWorker)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called.
func (s *Server) Start(port string) error {
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.GetLogger().Infof("Starting Flovyn server on :%s", port)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// respondError maps service and storage errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.GetLogger().Errorf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
