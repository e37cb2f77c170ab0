package storage

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// CreateTaskExecution inserts a task. The idempotency key is unique per task
// queue; a colliding submission returns the existing row with created=false
// instead of erroring or duplicating.
func (s *PostgresStore) CreateTaskExecution(t models.TaskExecution) (models.TaskExecution, bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.PendingTaskStatus
	}
	var created models.TaskExecution
	err := s.db.QueryRowx(`
		INSERT INTO task_executions (id, kind, workflow_execution_id, agent_execution_id, task_queue, status, max_retries, idempotency_key, input)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_queue, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING *`,
		t.ID, t.Kind, t.WorkflowExecutionID, t.AgentExecutionID, t.TaskQueue, t.Status, t.MaxRetries, t.IdempotencyKey, nullableJSON(t.Input),
	).StructScan(&created)
	if err == sql.ErrNoRows {
		var existing models.TaskExecution
		err := s.db.Get(&existing,
			"SELECT * FROM task_executions WHERE task_queue = $1 AND idempotency_key = $2",
			t.TaskQueue, t.IdempotencyKey)
		if err != nil {
			return models.TaskExecution{}, false, errors.Wrap(err, "load existing task by idempotency key")
		}
		return existing, false, nil
	}
	if err != nil {
		return models.TaskExecution{}, false, errors.Wrap(err, "create task execution")
	}
	return created, true, nil
}

func (s *PostgresStore) GetTaskExecution(id string) (models.TaskExecution, error) {
	var t models.TaskExecution
	err := s.db.Get(&t, "SELECT * FROM task_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskExecution{}, err
	}
	return t, nil
}

func (s *PostgresStore) GetTaskExecutions(ids []string) ([]models.TaskExecution, error) {
	tasks := []models.TaskExecution{}
	err := s.db.Select(&tasks, "SELECT * FROM task_executions WHERE id = ANY($1) ORDER BY created_at", pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) ListTaskExecutions(f storage.TaskFilter) ([]models.TaskExecution, error) {
	query := "SELECT * FROM task_executions WHERE 1=1"
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += clause + placeholder(len(args))
	}
	if f.Status != "" {
		add(" AND status = $", f.Status)
	}
	if f.Kind != "" {
		add(" AND kind = $", f.Kind)
	}
	if f.TaskQueue != "" {
		add(" AND task_queue = $", f.TaskQueue)
	}
	if f.WorkflowExecutionID != nil {
		add(" AND workflow_execution_id = $", *f.WorkflowExecutionID)
	}
	if f.AgentExecutionID != nil {
		add(" AND agent_execution_id = $", *f.AgentExecutionID)
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		add(" LIMIT $", f.Limit)
	}
	tasks := []models.TaskExecution{}
	if err := s.db.Select(&tasks, query, args...); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) ClaimTaskExecution(queue string, kinds []string, workerName string) (models.TaskExecution, error) {
	if len(kinds) == 0 {
		return models.TaskExecution{}, storage.ErrNoWork
	}
	var t models.TaskExecution
	err := s.db.QueryRowx(`
		UPDATE task_executions
		SET status = 'RUNNING', worker_id = $1, execution_count = execution_count + 1,
		    started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = (
			SELECT id FROM task_executions
			WHERE status = 'PENDING' AND task_queue = $2 AND kind = ANY($3)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		workerName, queue, pq.Array(kinds),
	).StructScan(&t)
	if err == sql.ErrNoRows {
		return models.TaskExecution{}, storage.ErrNoWork
	}
	if err != nil {
		return models.TaskExecution{}, errors.Wrap(err, "claim task execution")
	}
	return t, nil
}

// MarkTaskExecution records a terminal status. The update only applies while
// the row is still PENDING or RUNNING, so two workers racing to report the
// same task cannot both transition it; the loser gets ErrConflict.
func (s *PostgresStore) MarkTaskExecution(id string, status models.TaskStatus, result []byte, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE task_executions
		SET status = $1, result = $2, error_msg = $3, worker_id = NULL,
		    finished_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN now() ELSE finished_at END,
		    updated_at = now()
		WHERE id = $4 AND status IN ('PENDING', 'RUNNING')`,
		status, nullableJSON(result), errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(storage.ErrConflict, "task %s is already terminal", id)
	}
	return nil
}

func (s *PostgresStore) RequeueTaskExecution(id string) error {
	_, err := s.db.Exec(
		"UPDATE task_executions SET status = 'PENDING', worker_id = NULL, updated_at = now() WHERE id = $1",
		id)
	return err
}

func (s *PostgresStore) UpdateTaskProgress(id string, progress []byte) error {
	res, err := s.db.Exec(
		"UPDATE task_executions SET progress = $1, updated_at = now() WHERE id = $2",
		nullableJSON(progress), id)
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
