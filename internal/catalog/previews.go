// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/printarr/printarr/internal/cerrors"
)

const previewColumns = `id, design_id, source, file_path, width, height, is_primary,
	ai_selected, sort_order, created_at`

// InsertPreview stores a preview asset row.
func (s *Store) InsertPreview(ctx context.Context, q Querier, p *PreviewAsset) error {
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO preview_assets (id, design_id, source, file_path, width, height,
			is_primary, ai_selected, sort_order, created_at)
		VALUES (:id, :design_id, :source, :file_path, :width, :height,
			:is_primary, :ai_selected, :sort_order, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("insert preview: %w", err)
	}
	s.markDirty("preview_assets")
	return nil
}

// GetPreview loads one preview asset.
func (s *Store) GetPreview(ctx context.Context, q Querier, id string) (*PreviewAsset, error) {
	var p PreviewAsset
	err := sqlx.GetContext(ctx, q, &p,
		`SELECT `+previewColumns+` FROM preview_assets WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "preview")
	}
	return &p, nil
}

// PreviewsForDesign lists a design's previews, primary first.
func (s *Store) PreviewsForDesign(ctx context.Context, q Querier, designID string) ([]PreviewAsset, error) {
	var out []PreviewAsset
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+previewColumns+` FROM preview_assets WHERE design_id = $1
		ORDER BY is_primary DESC, sort_order, created_at`, designID)
	if err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	return out, nil
}

// CountPreviews returns how many previews a design has.
func (s *Store) CountPreviews(ctx context.Context, q Querier, designID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		`SELECT count(*) FROM preview_assets WHERE design_id = $1`, designID)
	if err != nil {
		return 0, fmt.Errorf("count previews: %w", err)
	}
	return n, nil
}

// SetPrimaryPreview makes one asset the design's primary image, clearing
// the flag everywhere else. Both statements run against the same Querier so
// callers can wrap them in a transaction.
func (s *Store) SetPrimaryPreview(ctx context.Context, q Querier, designID, previewID string, aiSelected bool) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE preview_assets SET is_primary = FALSE WHERE design_id = $1 AND is_primary`,
		designID); err != nil {
		return fmt.Errorf("clear primary preview: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE preview_assets SET is_primary = TRUE, ai_selected = $3
		WHERE id = $2 AND design_id = $1`, designID, previewID, aiSelected)
	if err != nil {
		return fmt.Errorf("set primary preview: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "preview not found on this design")
	}
	return nil
}

// DeletePreview removes one preview asset row.
func (s *Store) DeletePreview(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM preview_assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete preview: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "preview not found")
	}
	s.markDirty("preview_assets")
	return nil
}
