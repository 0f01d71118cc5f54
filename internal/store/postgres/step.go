package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateProcessSteps inserts all steps of a process with a single statement.
func (s *Store) CreateProcessSteps(ctx context.Context, tx store.DBTransaction, steps []store.ProcessStep) error {
	if len(steps) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, st := range steps {
		n := i * 5
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		args = append(args, st.ID, st.ProcessID, st.AssetID, st.Status, st.CreatedAt)
	}

	query := "INSERT INTO process_steps (id, process_id, asset_id, status, created_at) VALUES " +
		strings.Join(placeholders, ", ")

	if _, err := s.getExecutor(tx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create %d process steps: %w", len(steps), err)
	}
	return nil
}

// GetProcessStep returns a process step by ID.
func (s *Store) GetProcessStep(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.ProcessStep, error) {
	query := `
		SELECT id, process_id, asset_id, status, output, output_references, created_at, updated_at
		FROM process_steps WHERE id = $1
	`
	row := s.getExecutor(tx).QueryRowContext(ctx, query, id)
	step, err := scanStep(row)
	if err != nil {
		return nil, notFound(err)
	}
	return step, nil
}

// GetProcessStepsWithAssetContent joins steps with their asset and the
// asset's preprocessing status. Deleted assets are excluded.
func (s *Store) GetProcessStepsWithAssetContent(ctx context.Context, tx store.DBTransaction, processID uuid.UUID, statuses []store.StepStatus) ([]store.StepWithAsset, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query := `
		SELECT ps.id, ps.process_id, ps.asset_id, ps.status, ps.output, ps.output_references,
		       ps.created_at, ps.updated_at,
		       a.project_id, a.filename, a.path, a.type, a.created_at,
		       COALESCE(ac.processing, 'PENDING')
		FROM process_steps ps
		JOIN assets a ON a.id = ps.asset_id AND a.deleted_at IS NULL
		LEFT JOIN asset_contents ac ON ac.asset_id = ps.asset_id
		WHERE ps.process_id = $1 AND ps.status = ANY($2)
		ORDER BY ps.created_at ASC
	`

	rows, err := s.getExecutor(tx).QueryContext(ctx, query, processID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query process steps: %w", err)
	}
	defer rows.Close()

	var out []store.StepWithAsset
	for rows.Next() {
		var (
			sw          store.StepWithAsset
			output, ref []byte
		)
		err := rows.Scan(
			&sw.Step.ID, &sw.Step.ProcessID, &sw.Step.AssetID, &sw.Step.Status,
			&output, &ref, &sw.Step.CreatedAt, &sw.Step.UpdatedAt,
			&sw.Asset.ProjectID, &sw.Asset.Filename, &sw.Asset.Path, &sw.Asset.Type, &sw.Asset.CreatedAt,
			&sw.ContentStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process step: %w", err)
		}
		sw.Step.Output = output
		sw.Step.OutputReferences = ref
		sw.Asset.ID = sw.Step.AssetID
		out = append(out, sw)
	}
	return out, rows.Err()
}

// UpdateProcessStepStatus sets the step status and, when given, its output.
func (s *Store) UpdateProcessStepStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.StepStatus, output, references json.RawMessage) error {
	return s.execOne(ctx, tx, `
		UPDATE process_steps
		SET status = $1,
		    output = COALESCE($2, output),
		    output_references = COALESCE($3, output_references),
		    updated_at = NOW()
		WHERE id = $4
	`, status, nullJSON(output), nullJSON(references), id)
}

// ListProcessSteps returns every step of a process.
func (s *Store) ListProcessSteps(ctx context.Context, processID uuid.UUID) ([]store.ProcessStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, asset_id, status, output, output_references, created_at, updated_at
		FROM process_steps WHERE process_id = $1
		ORDER BY created_at ASC
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("failed to list process steps: %w", err)
	}
	defer rows.Close()

	var steps []store.ProcessStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process step: %w", err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStep(row scanner) (*store.ProcessStep, error) {
	var (
		st          store.ProcessStep
		output, ref []byte
	)
	err := row.Scan(&st.ID, &st.ProcessID, &st.AssetID, &st.Status, &output, &ref, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Output = output
	st.OutputReferences = ref
	return &st, nil
}
