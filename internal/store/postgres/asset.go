package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"docplane/internal/store"

	"github.com/google/uuid"
)

// GetProject returns a non-deleted project.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	var p store.Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM projects WHERE id = $1 AND deleted_at IS NULL", id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListProjectAssets returns the project's assets in upload order.
func (s *Store) ListProjectAssets(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Asset, error) {
	rows, err := s.getExecutor(tx).QueryContext(ctx, `
		SELECT id, project_id, filename, path, type, created_at
		FROM assets
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []store.Asset
	for rows.Next() {
		var a store.Asset
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Filename, &a.Path, &a.Type, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetAsset returns a non-deleted asset.
func (s *Store) GetAsset(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Asset, error) {
	var a store.Asset
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT id, project_id, filename, path, type, created_at
		FROM assets WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&a.ID, &a.ProjectID, &a.Filename, &a.Path, &a.Type, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// GetAssetContent returns the parsed content of an asset.
func (s *Store) GetAssetContent(ctx context.Context, tx store.DBTransaction, assetID uuid.UUID) (*store.AssetContent, error) {
	var (
		c   store.AssetContent
		raw []byte
	)
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT asset_id, content, language, processing, updated_at
		FROM asset_contents WHERE asset_id = $1
	`, assetID).Scan(&c.AssetID, &raw, &c.Language, &c.Processing, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	if len(raw) > 0 {
		var parsed store.ParsedContent
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode content of asset %s: %w", assetID, err)
		}
		c.Content = &parsed
	}
	return &c, nil
}

// UpsertAssetContent creates or replaces an asset's content row.
func (s *Store) UpsertAssetContent(ctx context.Context, tx store.DBTransaction, c *store.AssetContent) error {
	var raw interface{}
	if c.Content != nil {
		b, err := json.Marshal(c.Content)
		if err != nil {
			return fmt.Errorf("failed to encode content: %w", err)
		}
		raw = b
	}

	_, err := s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO asset_contents (asset_id, content, language, processing, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (asset_id) DO UPDATE
		SET content = EXCLUDED.content,
		    language = EXCLUDED.language,
		    processing = EXCLUDED.processing,
		    updated_at = NOW()
	`, c.AssetID, raw, c.Language, c.Processing)
	if err != nil {
		return fmt.Errorf("failed to upsert content of asset %s: %w", c.AssetID, err)
	}
	return nil
}

// UpdateAssetContentStatus flips the processing status of an asset's content.
func (s *Store) UpdateAssetContentStatus(ctx context.Context, tx store.DBTransaction, assetID uuid.UUID, status store.AssetProcessingStatus) error {
	return s.execOne(ctx, tx, `
		UPDATE asset_contents SET processing = $1, updated_at = NOW() WHERE asset_id = $2
	`, status, assetID)
}

// ListIncompleteAssetIDs returns assets without a COMPLETED content row.
func (s *Store) ListIncompleteAssetIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id
		FROM assets a
		LEFT JOIN asset_contents ac ON ac.asset_id = a.id
		WHERE a.deleted_at IS NULL AND (ac.asset_id IS NULL OR ac.processing <> 'COMPLETED')
		ORDER BY a.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete assets: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
