// Package processing runs extraction and summarization processes over the
// assets of a project: one step per asset, retried against the extraction
// service, re-queued while assets are still being preprocessed.
package processing

import (
	"context"
	"fmt"

	"docplane/internal/store"
)

// Repository is the persistence the pipeline needs.
type Repository interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.ProjectStore
	store.AssetContentStore
	store.ProcessStore
}

// withTx runs fn in its own transaction and commits it.
func withTx(ctx context.Context, repo Repository, fn func(tx store.Tx) error) error {
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
