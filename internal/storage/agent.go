package storage

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

func (s *PostgresStore) CreateAgentExecution(a models.AgentExecution) (models.AgentExecution, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.PendingAgentStatus
	}
	var created models.AgentExecution
	err := s.db.QueryRowx(`
		INSERT INTO agent_executions (id, kind, task_queue, status, idempotency_key, input)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING *`,
		a.ID, a.Kind, a.TaskQueue, a.Status, a.IdempotencyKey, nullableJSON(a.Input),
	).StructScan(&created)
	if err == sql.ErrNoRows {
		var existing models.AgentExecution
		err := s.db.Get(&existing,
			"SELECT * FROM agent_executions WHERE idempotency_key = $1", a.IdempotencyKey)
		if err != nil {
			return models.AgentExecution{}, false, errors.Wrap(err, "load existing agent by idempotency key")
		}
		return existing, false, nil
	}
	if err != nil {
		return models.AgentExecution{}, false, errors.Wrap(err, "create agent execution")
	}
	return created, true, nil
}

func (s *PostgresStore) GetAgentExecution(id string) (models.AgentExecution, error) {
	var a models.AgentExecution
	err := s.db.Get(&a, "SELECT * FROM agent_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.AgentExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.AgentExecution{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListAgentExecutions(status models.AgentStatus, limit int) ([]models.AgentExecution, error) {
	query := "SELECT * FROM agent_executions"
	var args []interface{}
	if status != "" {
		args = append(args, status)
		query += " WHERE status = $1"
	}
	query += " ORDER BY created_at"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + placeholder(len(args))
	}
	agents := []models.AgentExecution{}
	if err := s.db.Select(&agents, query, args...); err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *PostgresStore) ClaimAgentExecution(queue string, kinds []string, workerName string) (models.AgentExecution, error) {
	if len(kinds) == 0 {
		return models.AgentExecution{}, storage.ErrNoWork
	}
	var a models.AgentExecution
	err := s.db.QueryRowx(`
		UPDATE agent_executions SET status = 'RUNNING', worker_id = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM agent_executions
			WHERE status = 'PENDING' AND task_queue = $2 AND kind = ANY($3)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		workerName, queue, pq.Array(kinds),
	).StructScan(&a)
	if err == sql.ErrNoRows {
		return models.AgentExecution{}, storage.ErrNoWork
	}
	if err != nil {
		return models.AgentExecution{}, errors.Wrap(err, "claim agent execution")
	}
	return a, nil
}

func (s *PostgresStore) SuspendAgentExecution(id string, awaitedTaskIDs []string) error {
	_, err := s.db.Exec(
		"UPDATE agent_executions SET status = 'WAITING_FOR_TASKS', awaited_task_ids = $1, worker_id = NULL, updated_at = now() WHERE id = $2",
		models.StringList(awaitedTaskIDs), id)
	return err
}

func (s *PostgresStore) ResumeAgentExecution(id string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE agent_executions SET status = 'PENDING', awaited_task_ids = '[]', worker_id = NULL, updated_at = now() WHERE id = $1 AND status = 'WAITING_FOR_TASKS'",
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

func (s *PostgresStore) CompleteAgentExecution(id string, result []byte) error {
	_, err := s.db.Exec(
		"UPDATE agent_executions SET status = 'COMPLETED', result = $1, worker_id = NULL, updated_at = now() WHERE id = $2",
		nullableJSON(result), id)
	return err
}

func (s *PostgresStore) FailAgentExecution(id string, errMsg string) error {
	_, err := s.db.Exec(
		"UPDATE agent_executions SET status = 'FAILED', error_msg = $1, worker_id = NULL, updated_at = now() WHERE id = $2",
		errMsg, id)
	return err
}

// AppendAgentEntry inserts an entry, treating an id collision as "already
// appended". Resumed agent code re-issuing the same append is a no-op.
func (s *PostgresStore) AppendAgentEntry(e models.AgentEntry) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO agent_entries (id, agent_execution_id, parent_entry_id, entry_type, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.AgentExecutionID, e.ParentEntryID, e.EntryType, nullableJSON(e.Content))
	if err != nil {
		return false, errors.Wrap(err, "append agent entry")
	}
	return rowsAffected(res) > 0, nil
}

func (s *PostgresStore) ListAgentEntries(agentID string) ([]models.AgentEntry, error) {
	entries := []models.AgentEntry{}
	err := s.db.Select(&entries,
		"SELECT * FROM agent_entries WHERE agent_execution_id = $1 ORDER BY created_at, id",
		agentID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveAgentCheckpoint assigns the next checkpoint_seq under the same
// per-execution advisory lock the event store uses.
func (s *PostgresStore) SaveAgentCheckpoint(c models.AgentCheckpoint) (int64, error) {
	var seq int64
	err := s.inTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", c.AgentExecutionID); err != nil {
			return errors.Wrap(err, "acquire checkpoint lock")
		}
		if err := tx.Get(&seq,
			"SELECT COALESCE(MAX(checkpoint_seq), 0) + 1 FROM agent_checkpoints WHERE agent_execution_id = $1",
			c.AgentExecutionID); err != nil {
			return err
		}
		_, err := tx.Exec(
			"INSERT INTO agent_checkpoints (agent_execution_id, checkpoint_seq, leaf_entry_id, state) VALUES ($1, $2, $3, $4)",
			c.AgentExecutionID, seq, c.LeafEntryID, nullableJSON(c.State))
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "save agent checkpoint")
	}
	return seq, nil
}

func (s *PostgresStore) LatestAgentCheckpoint(agentID string) (models.AgentCheckpoint, error) {
	var c models.AgentCheckpoint
	err := s.db.Get(&c,
		"SELECT * FROM agent_checkpoints WHERE agent_execution_id = $1 ORDER BY checkpoint_seq DESC LIMIT 1",
		agentID)
	if err == sql.ErrNoRows {
		return models.AgentCheckpoint{}, storage.ErrNotFound
	}
	if err != nil {
		return models.AgentCheckpoint{}, err
	}
	return c, nil
}
