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

// CreateFamily inserts a design family.
func (s *Store) CreateFamily(ctx context.Context, q Querier, f *DesignFamily) error {
	if f.ID == "" {
		f.ID = newID()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO design_families (id, name, detection_method, detection_confidence,
			created_at, updated_at)
		VALUES (:id, :name, :detection_method, :detection_confidence,
			:created_at, :updated_at)`, f)
	if err != nil {
		return fmt.Errorf("insert family: %w", err)
	}
	s.markDirty("design_families")
	return nil
}

// GetFamily loads one family.
func (s *Store) GetFamily(ctx context.Context, q Querier, id string) (*DesignFamily, error) {
	var f DesignFamily
	err := sqlx.GetContext(ctx, q, &f, `
		SELECT id, name, detection_method, detection_confidence, created_at, updated_at
		FROM design_families WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "family")
	}
	return &f, nil
}

// FamilyWithSize pairs a family with its member count.
type FamilyWithSize struct {
	DesignFamily
	MemberCount int64 `db:"member_count" json:"member_count"`
}

// ListFamilies returns a page of families with member counts, largest first.
func (s *Store) ListFamilies(ctx context.Context, q Querier, page, perPage int) ([]FamilyWithSize, int64, error) {
	total, _, err := s.countRows(ctx, q, "design_families", "")
	if err != nil {
		return nil, 0, fmt.Errorf("count families: %w", err)
	}
	args := []interface{}{}
	n := 0
	query := `
		SELECT f.id, f.name, f.detection_method, f.detection_confidence, f.created_at,
			f.updated_at, count(d.id) AS member_count
		FROM design_families f
		LEFT JOIN designs d ON d.family_id = f.id AND d.status <> 'DELETED'
		GROUP BY f.id
		ORDER BY member_count DESC, f.name` + pageClause(page, perPage, &args, &n)
	var out []FamilyWithSize
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list families: %w", err)
	}
	return out, total, nil
}

// RenameFamily changes the display name.
func (s *Store) RenameFamily(ctx context.Context, q Querier, id, name string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE design_families SET name = $2, updated_at = $3 WHERE id = $1`,
		id, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rename family: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "family not found")
	}
	return nil
}

// AssignDesignToFamily sets a design's family and variant label.
func (s *Store) AssignDesignToFamily(ctx context.Context, q Querier, designID, familyID string, variant *string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE designs SET family_id = $2, family_variant = $3, updated_at = $4
		WHERE id = $1`, designID, familyID, variant, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("assign design to family: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "design not found")
	}
	s.markDirty("designs")
	return nil
}

// DetachDesignFromFamily clears a design's family link. Families with no
// remaining members are removed.
func (s *Store) DetachDesignFromFamily(ctx context.Context, q Querier, designID string) error {
	var familyID *string
	err := sqlx.GetContext(ctx, q, &familyID,
		`SELECT family_id FROM designs WHERE id = $1`, designID)
	if err != nil {
		return notFound(err, "design")
	}
	if familyID == nil {
		return nil
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE designs SET family_id = NULL, family_variant = NULL, updated_at = $2
		WHERE id = $1`, designID, time.Now().UTC()); err != nil {
		return fmt.Errorf("detach design from family: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		DELETE FROM design_families f
		WHERE f.id = $1 AND NOT EXISTS (SELECT 1 FROM designs WHERE family_id = f.id)`,
		*familyID); err != nil {
		return fmt.Errorf("prune empty family: %w", err)
	}
	s.markDirty("designs", "design_families")
	return nil
}

// FamilyMembers lists the non-deleted designs of a family.
func (s *Store) FamilyMembers(ctx context.Context, q Querier, familyID string) ([]Design, error) {
	var out []Design
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+designColumns+` FROM designs
		WHERE family_id = $1 AND status <> 'DELETED' ORDER BY created_at`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	return out, nil
}
