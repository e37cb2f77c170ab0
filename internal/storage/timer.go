package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
)

func (s *PostgresStore) CreateTimer(t models.Timer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		"INSERT INTO timers (id, workflow_execution_id, fire_at) VALUES ($1, $2, $3)",
		t.ID, t.WorkflowExecutionID, t.FireAt)
	return errors.Wrap(err, "create timer")
}

// ClaimDueTimers stamps fired_at on due timers and returns them. The
// claim-and-mark update means overlapping scheduler passes never both fire
// the same timer.
func (s *PostgresStore) ClaimDueTimers(now time.Time, limit int) ([]models.Timer, error) {
	timers := []models.Timer{}
	err := s.db.Select(&timers, `
		UPDATE timers SET fired_at = $1
		WHERE id IN (
			SELECT id FROM timers
			WHERE fired_at IS NULL AND fire_at <= $1
			ORDER BY fire_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING *`,
		now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim due timers")
	}
	return timers, nil
}
