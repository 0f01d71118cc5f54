package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const processColumns = "id, project_id, name, type, status, details, output, message, started_at, completed_at, created_at"

// CreateProcess inserts a new process row.
func (s *Store) CreateProcess(ctx context.Context, tx store.DBTransaction, p *store.Process) error {
	query := `
		INSERT INTO processes (id, project_id, name, type, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		p.ID, p.ProjectID, p.Name, p.Type, p.Status, nullJSON(p.Details), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create process %s: %w", p.ID, err)
	}
	return nil
}

// GetProcess returns a non-deleted process.
func (s *Store) GetProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Process, error) {
	return s.getProcess(ctx, tx, id, "")
}

// LockProcess reads a process with SELECT ... FOR UPDATE. The lock is held
// until tx commits or rolls back, so concurrent status changes serialize.
func (s *Store) LockProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Process, error) {
	if tx == nil {
		return nil, fmt.Errorf("locking process %s requires a transaction", id)
	}
	return s.getProcess(ctx, tx, id, " FOR UPDATE")
}

func (s *Store) getProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID, suffix string) (*store.Process, error) {
	query := "SELECT " + processColumns + " FROM processes WHERE id = $1 AND deleted_at IS NULL" + suffix

	var (
		p       store.Process
		details []byte
		output  []byte
	)
	err := s.getExecutor(tx).QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ProjectID, &p.Name, &p.Type, &p.Status,
		&details, &output, &p.Message,
		&p.StartedAt, &p.CompletedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	p.Details = details
	p.Output = output

	return &p, nil
}

// UpdateProcessStatus sets the process status.
func (s *Store) UpdateProcessStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ProcessStatus) error {
	return s.execOne(ctx, tx, "UPDATE processes SET status = $1 WHERE id = $2", status, id)
}

// StartProcess moves the process to IN_PROGRESS.
func (s *Store) StartProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID, startedAt time.Time) error {
	return s.execOne(ctx, tx, `
		UPDATE processes
		SET status = $1, started_at = $2, message = ''
		WHERE id = $3
	`, store.ProcessStatusInProgress, startedAt, id)
}

// FinishProcess records a terminal status.
func (s *Store) FinishProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ProcessStatus, completedAt time.Time) error {
	return s.execOne(ctx, tx, `
		UPDATE processes
		SET status = $1, completed_at = $2
		WHERE id = $3
	`, status, completedAt, id)
}

// FailProcess records FAILED with the error text.
func (s *Store) FailProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID, message string) error {
	return s.execOne(ctx, tx, `
		UPDATE processes
		SET status = $1, message = $2
		WHERE id = $3
	`, store.ProcessStatusFailed, message, id)
}

// SetProcessOutput stores the aggregate process output.
func (s *Store) SetProcessOutput(ctx context.Context, tx store.DBTransaction, id uuid.UUID, output json.RawMessage) error {
	return s.execOne(ctx, tx, "UPDATE processes SET output = $1 WHERE id = $2", nullJSON(output), id)
}

// ListProcessIDsByStatus is used on startup to resubmit unfinished processes.
func (s *Store) ListProcessIDsByStatus(ctx context.Context, statuses []store.ProcessStatus) ([]uuid.UUID, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM processes
		WHERE status = ANY($1) AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan process id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// execOne runs an UPDATE and reports store.ErrNotFound when no row matched.
func (s *Store) execOne(ctx context.Context, tx store.DBTransaction, query string, args ...interface{}) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// nullJSON keeps empty payloads as SQL NULL.
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
