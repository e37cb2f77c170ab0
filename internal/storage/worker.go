package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// UpsertWorker registers a worker by its stable worker_name, refreshing the
// capability sets and heartbeat on re-registration.
func (s *PostgresStore) UpsertWorker(w models.Worker) (models.Worker, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	var out models.Worker
	err := s.db.QueryRowx(`
		INSERT INTO workers (id, worker_name, status, task_queue, workflow_kinds, task_kinds, agent_kinds, last_heartbeat_at)
		VALUES ($1, $2, 'ONLINE', $3, $4, $5, $6, now())
		ON CONFLICT (worker_name) DO UPDATE SET
			status = 'ONLINE',
			task_queue = EXCLUDED.task_queue,
			workflow_kinds = EXCLUDED.workflow_kinds,
			task_kinds = EXCLUDED.task_kinds,
			agent_kinds = EXCLUDED.agent_kinds,
			last_heartbeat_at = now(),
			updated_at = now()
		RETURNING *`,
		w.ID, w.WorkerName, w.TaskQueue, w.WorkflowKinds, w.TaskKinds, w.AgentKinds,
	).StructScan(&out)
	if err != nil {
		return models.Worker{}, errors.Wrap(err, "upsert worker")
	}
	return out, nil
}

func (s *PostgresStore) GetWorker(name string) (models.Worker, error) {
	var w models.Worker
	err := s.db.Get(&w, "SELECT * FROM workers WHERE worker_name = $1", name)
	if err == sql.ErrNoRows {
		return models.Worker{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Worker{}, err
	}
	return w, nil
}

func (s *PostgresStore) ListWorkers() ([]models.Worker, error) {
	workers := []models.Worker{}
	if err := s.db.Select(&workers, "SELECT * FROM workers ORDER BY worker_name"); err != nil {
		return nil, err
	}
	return workers, nil
}

func (s *PostgresStore) HeartbeatWorker(name string) error {
	res, err := s.db.Exec(
		"UPDATE workers SET status = 'ONLINE', last_heartbeat_at = now(), updated_at = now() WHERE worker_name = $1",
		name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkStaleWorkersOffline(cutoff time.Time) ([]string, error) {
	names := []string{}
	err := s.db.Select(&names, `
		UPDATE workers SET status = 'OFFLINE', updated_at = now()
		WHERE status = 'ONLINE' AND last_heartbeat_at < $1
		RETURNING worker_name`,
		cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "mark stale workers offline")
	}
	return names, nil
}

func (s *PostgresStore) ListOnlineWorkerNames() ([]string, error) {
	names := []string{}
	if err := s.db.Select(&names, "SELECT worker_name FROM workers WHERE status = 'ONLINE'"); err != nil {
		return nil, err
	}
	return names, nil
}

// ReclaimByWorkerNames requeues RUNNING work attributed to the given worker
// names, making it claimable again.
func (s *PostgresStore) ReclaimByWorkerNames(names []string) (storage.ReclaimStats, error) {
	if len(names) == 0 {
		return storage.ReclaimStats{}, nil
	}
	return s.reclaim("worker_id = ANY($1)", pq.Array(names))
}

// ReclaimOrphaned requeues RUNNING work owned by any worker name not in the
// online set. This is the periodic sweep that catches workers which vanished
// without ever passing through the stale-heartbeat path.
func (s *PostgresStore) ReclaimOrphaned(onlineNames []string) (storage.ReclaimStats, error) {
	return s.reclaim("(worker_id IS NULL OR worker_id <> ALL($1))", pq.Array(onlineNames))
}

func (s *PostgresStore) reclaim(cond string, arg interface{}) (storage.ReclaimStats, error) {
	var stats storage.ReclaimStats
	err := s.inTxStore(func(tx storage.Store) error {
		ps := tx.(*PostgresStore)
		wf, err := ps.db.Exec(
			"UPDATE workflow_executions SET status = 'PENDING', worker_id = NULL, updated_at = now() WHERE status = 'RUNNING' AND "+cond, arg)
		if err != nil {
			return errors.Wrap(err, "reclaim workflows")
		}
		tasks, err := ps.db.Exec(
			"UPDATE task_executions SET status = 'PENDING', worker_id = NULL, updated_at = now() WHERE status = 'RUNNING' AND "+cond, arg)
		if err != nil {
			return errors.Wrap(err, "reclaim tasks")
		}
		agents, err := ps.db.Exec(
			"UPDATE agent_executions SET status = 'PENDING', worker_id = NULL, updated_at = now() WHERE status = 'RUNNING' AND "+cond, arg)
		if err != nil {
			return errors.Wrap(err, "reclaim agents")
		}
		stats.Workflows = rowsAffected(wf)
		stats.Tasks = rowsAffected(tasks)
		stats.Agents = rowsAffected(agents)
		return nil
	})
	return stats, err
}
