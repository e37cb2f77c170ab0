package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// WorkerService maintains the worker registry: registrations, heartbeats and
// liveness-driven reclaim of work held by dead workers.
type WorkerService struct {
	store    storage.Store
	notifier *Notifier
	logger   Logger
}

func NewWorkerService(store storage.Store, notifier *Notifier, logger Logger) *WorkerService {
	return &WorkerService{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// RegisterWorkerRequest declares a worker's identity and capabilities. The
// kind lists bound what the worker may claim; a worker that declares nothing
// claims nothing.
type RegisterWorkerRequest struct {
	WorkerName    string
	TaskQueue     string
	WorkflowKinds []string
	TaskKinds     []string
	AgentKinds    []string
}

// Register upserts the worker row, marking it ONLINE. Re-registration after a
// restart replaces the capability sets wholesale.
func (s *WorkerService) Register(ctx context.Context, req RegisterWorkerRequest) (models.Worker, error) {
	if req.WorkerName == "" {
		return models.Worker{}, errors.New("worker name cannot be empty")
	}
	if req.TaskQueue == "" {
		return models.Worker{}, errors.New("task queue cannot be empty")
	}
	w, err := s.store.UpsertWorker(models.Worker{
		WorkerName:    req.WorkerName,
		Status:        models.OnlineWorkerStatus,
		TaskQueue:     req.TaskQueue,
		WorkflowKinds: req.WorkflowKinds,
		TaskKinds:     req.TaskKinds,
		AgentKinds:    req.AgentKinds,
	})
	if err != nil {
		return models.Worker{}, err
	}
	s.logger.Infof("Worker %s registered on queue %s (%d workflow, %d task, %d agent kinds)",
		w.WorkerName, w.TaskQueue, len(w.WorkflowKinds), len(w.TaskKinds), len(w.AgentKinds))
	return w, nil
}

// Heartbeat refreshes the worker's liveness timestamp.
func (s *WorkerService) Heartbeat(ctx context.Context, workerName string) error {
	err := s.store.HeartbeatWorker(workerName)
	if err == storage.ErrNotFound {
		return errors.Errorf("worker %s is not registered", workerName)
	}
	return err
}

func (s *WorkerService) Get(ctx context.Context, workerName string) (models.Worker, error) {
	return s.store.GetWorker(workerName)
}

func (s *WorkerService) List(ctx context.Context) ([]models.Worker, error) {
	return s.store.ListWorkers()
}
