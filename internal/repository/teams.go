package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
)

// AssignEnumerator adds an enumerator to a supervisor's team. Repeating an
// assignment is a no-op.
func (r *SQLRepository) AssignEnumerator(ctx context.Context, supervisorID, enumeratorID string) error {
	if supervisorID == "" || enumeratorID == "" {
		return fmt.Errorf("%w: supervisor id and enumerator id are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO team_assignments (supervisor_id, enumerator_id, assigned_at)
		VALUES (?, ?, ?)
		ON CONFLICT(supervisor_id, enumerator_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), supervisorID, enumeratorID, time.Now().UTC())
	return err
}

// EnumeratorIDsForSupervisor lists the supervisor's team. An unknown
// supervisor has an empty, non-nil team.
func (r *SQLRepository) EnumeratorIDsForSupervisor(ctx context.Context, supervisorID string) ([]string, error) {
	query := `
		SELECT enumerator_id
		FROM team_assignments
		WHERE supervisor_id = ?
		ORDER BY enumerator_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), supervisorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
