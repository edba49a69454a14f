// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/printarr/printarr/internal/cerrors"
)

// EnsureTag returns the tag with the given name, creating it when missing.
// Names are lowercased and trimmed; empty names are rejected.
func (s *Store) EnsureTag(ctx context.Context, q Querier, name string) (*Tag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, cerrors.E(cerrors.KindValidation, "tag name is empty")
	}
	t := Tag{ID: newID(), Name: name}
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO tags (id, name, category, is_predefined)
		VALUES (:id, :name, :category, :is_predefined)
		ON CONFLICT (name) DO NOTHING`, &t)
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	var out Tag
	err = sqlx.GetContext(ctx, q, &out,
		`SELECT id, name, category, is_predefined FROM tags WHERE name = $1`, name)
	if err != nil {
		return nil, notFound(err, "tag")
	}
	return &out, nil
}

// SeedPredefinedTags inserts the built-in tag set once, with categories.
func (s *Store) SeedPredefinedTags(ctx context.Context, q Querier, byCategory map[string][]string) error {
	for category, names := range byCategory {
		for _, name := range names {
			t := Tag{ID: newID(), Name: strings.ToLower(name), Category: StrPtr(category), IsPredefined: true}
			_, err := sqlx.NamedExecContext(ctx, q, `
				INSERT INTO tags (id, name, category, is_predefined)
				VALUES (:id, :name, :category, :is_predefined)
				ON CONFLICT (name) DO UPDATE SET category = EXCLUDED.category, is_predefined = TRUE`, &t)
			if err != nil {
				return fmt.Errorf("seed tag %q: %w", name, err)
			}
		}
	}
	return nil
}

// TagWithCount pairs a tag with its design usage count.
type TagWithCount struct {
	Tag
	DesignCount int64 `db:"design_count" json:"design_count"`
}

// ListTags returns all tags ordered by usage, then name.
func (s *Store) ListTags(ctx context.Context, q Querier) ([]TagWithCount, error) {
	var out []TagWithCount
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT t.id, t.name, t.category, t.is_predefined,
			count(dt.design_id) AS design_count
		FROM tags t
		LEFT JOIN design_tags dt ON dt.tag_id = t.id
		GROUP BY t.id, t.name, t.category, t.is_predefined
		ORDER BY design_count DESC, t.name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out, nil
}

// AssignTag links a tag to a design. Re-assigning keeps the first source.
func (s *Store) AssignTag(ctx context.Context, q Querier, designID, tagID string, source TagSource) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO design_tags (design_id, tag_id, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (design_id, tag_id) DO NOTHING`, designID, tagID, source)
	if err != nil {
		return fmt.Errorf("assign tag: %w", err)
	}
	return nil
}

// UnassignTag removes a tag from a design.
func (s *Store) UnassignTag(ctx context.Context, q Querier, designID, tagID string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM design_tags WHERE design_id = $1 AND tag_id = $2`, designID, tagID)
	if err != nil {
		return fmt.Errorf("unassign tag: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "tag is not assigned to this design")
	}
	return nil
}

// TagAssignment is a tag together with how it got onto the design.
type TagAssignment struct {
	Tag
	Source TagSource `db:"source" json:"source"`
}

// TagsForDesign lists a design's tags with provenance.
func (s *Store) TagsForDesign(ctx context.Context, q Querier, designID string) ([]TagAssignment, error) {
	var out []TagAssignment
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT t.id, t.name, t.category, t.is_predefined, dt.source
		FROM design_tags dt JOIN tags t ON t.id = dt.tag_id
		WHERE dt.design_id = $1 ORDER BY t.name`, designID)
	if err != nil {
		return nil, fmt.Errorf("list design tags: %w", err)
	}
	return out, nil
}

// AssignFamilyTag links a tag to a family.
func (s *Store) AssignFamilyTag(ctx context.Context, q Querier, familyID, tagID string, source TagSource) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO family_tags (family_id, tag_id, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (family_id, tag_id) DO NOTHING`, familyID, tagID, source)
	if err != nil {
		return fmt.Errorf("assign family tag: %w", err)
	}
	return nil
}

// ClearFamilyTags removes a family's tag assignments carrying any of the
// given sources. Used before the aggregation pass rewrites them.
func (s *Store) ClearFamilyTags(ctx context.Context, q Querier, familyID string, sources ...TagSource) error {
	if len(sources) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM family_tags WHERE family_id = ? AND source IN (?)`, familyID, sources)
	if err != nil {
		return fmt.Errorf("build clear family tags: %w", err)
	}
	if _, err := q.ExecContext(ctx, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("clear family tags: %w", err)
	}
	return nil
}

// TagsForFamily lists a family's aggregated tags.
func (s *Store) TagsForFamily(ctx context.Context, q Querier, familyID string) ([]TagAssignment, error) {
	var out []TagAssignment
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT t.id, t.name, t.category, t.is_predefined, ft.source
		FROM family_tags ft JOIN tags t ON t.id = ft.tag_id
		WHERE ft.family_id = $1 ORDER BY t.name`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family tags: %w", err)
	}
	return out, nil
}
