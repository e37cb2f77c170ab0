package storage

import (
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// appendRetries bounds the retry-on-unique-violation fallback. The advisory
// lock serializes appends per execution, so retries only matter if someone
// bypasses this code path and writes the events table directly.
const appendRetries = 5

func (s *PostgresStore) AppendEvent(execID string, event models.WorkflowEvent) (int64, error) {
	seqs, err := s.AppendEvents(execID, []models.WorkflowEvent{event})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendEvents assigns gap-free sequence numbers and inserts the batch
// atomically. Sequence assignment holds pg_advisory_xact_lock on the
// execution id for the duration of read-max-then-insert; reading the cached
// current_sequence column instead would lose events under concurrent
// completions.
func (s *PostgresStore) AppendEvents(execID string, events []models.WorkflowEvent) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}

	// Inside a caller-owned transaction a failed insert poisons the tx, so
	// there is no retry: the conflict surfaces to the caller.
	if tx, ok := s.db.(*sqlx.Tx); ok {
		seqs, err := appendEventsTx(tx, execID, events)
		if isUniqueViolation(err) {
			return nil, storage.ErrConflict
		}
		return seqs, err
	}

	db := s.db.(*sqlx.DB)
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		var seqs []int64
		err := func() error {
			tx, err := db.Beginx()
			if err != nil {
				return err
			}
			seqs, err = appendEventsTx(tx, execID, events)
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					return errors.Wrapf(err, "rollback failed: %v", rbErr)
				}
				return err
			}
			return tx.Commit()
		}()
		if err == nil {
			return seqs, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Wrapf(storage.ErrConflict, "append to %s after %d attempts: %v", execID, appendRetries, lastErr)
}

func appendEventsTx(tx *sqlx.Tx, execID string, events []models.WorkflowEvent) ([]int64, error) {
	if _, err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", execID); err != nil {
		return nil, errors.Wrap(err, "acquire sequence lock")
	}

	var maxSeq int64
	if err := tx.Get(&maxSeq, "SELECT COALESCE(MAX(sequence_number), 0) FROM workflow_events WHERE execution_id = $1", execID); err != nil {
		return nil, errors.Wrap(err, "read max sequence")
	}

	seqs := make([]int64, 0, len(events))
	for i, e := range events {
		seq := maxSeq + int64(i) + 1
		_, err := tx.Exec(
			"INSERT INTO workflow_events (execution_id, sequence_number, event_type, payload) VALUES ($1, $2, $3, $4)",
			execID, seq, e.EventType, nullableJSON(e.Payload))
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}

	// current_sequence is informational only; never trusted for assignment.
	_, err := tx.Exec(
		"UPDATE workflow_executions SET current_sequence = $1, updated_at = now() WHERE id = $2",
		seqs[len(seqs)-1], execID)
	if err != nil {
		return nil, err
	}
	return seqs, nil
}

func (s *PostgresStore) ListEvents(execID string) ([]models.WorkflowEvent, error) {
	return s.ListEventsAfter(execID, 0)
}

func (s *PostgresStore) ListEventsAfter(execID string, afterSeq int64) ([]models.WorkflowEvent, error) {
	var events []models.WorkflowEvent
	err := s.db.Select(&events,
		"SELECT * FROM workflow_events WHERE execution_id = $1 AND sequence_number > $2 ORDER BY sequence_number",
		execID, afterSeq)
	if err != nil {
		return nil, errors.Wrapf(err, "list events for %s", execID)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// nullableJSON maps empty payloads to NULL rather than the invalid empty
// JSONB literal.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
