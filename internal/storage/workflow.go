package storage

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// CreateWorkflowExecution inserts a new execution. With an idempotency key
// present, a concurrent or earlier submission with the same key wins and the
// existing row is returned with created=false.
func (s *PostgresStore) CreateWorkflowExecution(wf models.WorkflowExecution) (models.WorkflowExecution, bool, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Status == "" {
		wf.Status = models.PendingWorkflowStatus
	}
	var created models.WorkflowExecution
	err := s.db.QueryRowx(`
		INSERT INTO workflow_executions (id, kind, task_queue, status, parent_workflow_id, idempotency_key, priority_ms, input)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING *`,
		wf.ID, wf.Kind, wf.TaskQueue, wf.Status, wf.ParentWorkflowID, wf.IdempotencyKey, wf.PriorityMS, nullableJSON(wf.Input),
	).StructScan(&created)
	if err == sql.ErrNoRows {
		var existing models.WorkflowExecution
		err := s.db.Get(&existing,
			"SELECT * FROM workflow_executions WHERE idempotency_key = $1", wf.IdempotencyKey)
		if err != nil {
			return models.WorkflowExecution{}, false, errors.Wrap(err, "load existing workflow by idempotency key")
		}
		return existing, false, nil
	}
	if err != nil {
		return models.WorkflowExecution{}, false, errors.Wrap(err, "create workflow execution")
	}
	return created, true, nil
}

func (s *PostgresStore) GetWorkflowExecution(id string) (models.WorkflowExecution, error) {
	var wf models.WorkflowExecution
	err := s.db.Get(&wf, "SELECT * FROM workflow_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	return wf, nil
}

// GetWorkflowExecutionForUpdate locks the row for the rest of the enclosing
// transaction. Outside a transaction the lock is released immediately, which
// makes it equivalent to GetWorkflowExecution.
func (s *PostgresStore) GetWorkflowExecutionForUpdate(id string) (models.WorkflowExecution, error) {
	var wf models.WorkflowExecution
	err := s.db.Get(&wf, "SELECT * FROM workflow_executions WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflowExecutions(f storage.WorkflowFilter) ([]models.WorkflowExecution, error) {
	query := "SELECT * FROM workflow_executions WHERE 1=1"
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
	if f.ParentID != nil {
		add(" AND parent_workflow_id = $", *f.ParentID)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		add(" LIMIT $", f.Limit)
	}
	workflows := []models.WorkflowExecution{}
	if err := s.db.Select(&workflows, query, args...); err != nil {
		return nil, err
	}
	return workflows, nil
}

// ClaimWorkflowExecution atomically claims one PENDING execution matching the
// queue and the poller's declared kinds. SKIP LOCKED keeps concurrent pollers
// from ever double-claiming; the kind filter keeps a capability-mismatched
// worker from claiming work it cannot run.
func (s *PostgresStore) ClaimWorkflowExecution(queue string, kinds []string, workerName string) (models.WorkflowExecution, error) {
	if len(kinds) == 0 {
		return models.WorkflowExecution{}, storage.ErrNoWork
	}
	var wf models.WorkflowExecution
	err := s.db.QueryRowx(`
		UPDATE workflow_executions SET status = 'RUNNING', worker_id = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM workflow_executions
			WHERE status = 'PENDING' AND task_queue = $2 AND kind = ANY($3)
			ORDER BY priority_ms, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		workerName, queue, pq.Array(kinds),
	).StructScan(&wf)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, storage.ErrNoWork
	}
	if err != nil {
		return models.WorkflowExecution{}, errors.Wrap(err, "claim workflow execution")
	}
	return wf, nil
}

func (s *PostgresStore) SuspendWorkflowExecution(id string) error {
	return s.setWorkflowStatus(id, models.WaitingWorkflowStatus)
}

// ResumeWorkflowExecution moves a WAITING execution back to PENDING so it
// re-enters the poll queue. Returns false when the execution was not WAITING,
// which makes concurrent resume attempts naturally idempotent.
func (s *PostgresStore) ResumeWorkflowExecution(id string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE workflow_executions SET status = 'PENDING', worker_id = NULL, updated_at = now() WHERE id = $1 AND status = 'WAITING'",
		id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) CompleteWorkflowExecution(id string, result []byte) error {
	_, err := s.db.Exec(
		"UPDATE workflow_executions SET status = 'COMPLETED', result = $1, worker_id = NULL, updated_at = now() WHERE id = $2",
		nullableJSON(result), id)
	return err
}

func (s *PostgresStore) FailWorkflowExecution(id string, errMsg string) error {
	_, err := s.db.Exec(
		"UPDATE workflow_executions SET status = 'FAILED', error_msg = $1, worker_id = NULL, updated_at = now() WHERE id = $2",
		errMsg, id)
	return err
}

func (s *PostgresStore) ListWaitingWorkflowIDs() ([]string, error) {
	ids := []string{}
	err := s.db.Select(&ids, "SELECT id FROM workflow_executions WHERE status = 'WAITING' ORDER BY updated_at")
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) setWorkflowStatus(id string, status models.WorkflowStatus) error {
	res, err := s.db.Exec(
		"UPDATE workflow_executions SET status = $1, worker_id = NULL, updated_at = now() WHERE id = $2",
		status, id)
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
