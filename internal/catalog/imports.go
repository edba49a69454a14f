// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/printarr/printarr/internal/cerrors"
)

// CreateImportSource inserts an import source.
func (s *Store) CreateImportSource(ctx context.Context, q Querier, src *ImportSource) error {
	if src.ID == "" {
		src.ID = newID()
	}
	now := time.Now().UTC()
	src.CreatedAt, src.UpdatedAt = now, now
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO import_sources (id, name, kind, enabled, designer_default, profile_id,
			created_at, updated_at)
		VALUES (:id, :name, :kind, :enabled, :designer_default, :profile_id,
			:created_at, :updated_at)`, src)
	if err != nil {
		return fmt.Errorf("insert import source: %w", err)
	}
	s.markDirty("import_sources")
	return nil
}

// GetImportSource loads one import source.
func (s *Store) GetImportSource(ctx context.Context, q Querier, id string) (*ImportSource, error) {
	var src ImportSource
	err := sqlx.GetContext(ctx, q, &src, `
		SELECT id, name, kind, enabled, designer_default, profile_id, created_at, updated_at
		FROM import_sources WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "import source")
	}
	return &src, nil
}

// ListImportSources returns all sources, optionally only enabled ones.
func (s *Store) ListImportSources(ctx context.Context, q Querier, enabledOnly bool) ([]ImportSource, error) {
	query := `SELECT id, name, kind, enabled, designer_default, profile_id, created_at, updated_at
		FROM import_sources`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`
	var out []ImportSource
	if err := sqlx.SelectContext(ctx, q, &out, query); err != nil {
		return nil, fmt.Errorf("list import sources: %w", err)
	}
	return out, nil
}

// UpdateImportSource persists the mutable source fields.
func (s *Store) UpdateImportSource(ctx context.Context, q Querier, src *ImportSource) error {
	src.UpdatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, q, `
		UPDATE import_sources SET name = :name, enabled = :enabled,
			designer_default = :designer_default, profile_id = :profile_id,
			updated_at = :updated_at
		WHERE id = :id`, src)
	if err != nil {
		return fmt.Errorf("update import source: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "import source not found")
	}
	return nil
}

// DeleteImportSource removes a source, its folders and records. Designs
// already imported keep living; their import_source_id nulls out.
func (s *Store) DeleteImportSource(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM import_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import source: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "import source not found")
	}
	s.markDirty("import_sources", "import_records")
	return nil
}

// AddImportFolder attaches a folder to a source.
func (s *Store) AddImportFolder(ctx context.Context, q Querier, f *ImportSourceFolder) error {
	if f.ID == "" {
		f.ID = newID()
	}
	f.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO import_source_folders (id, source_id, location, max_depth, profile_id,
			designer_override, tag_defaults, enabled, created_at)
		VALUES (:id, :source_id, :location, :max_depth, :profile_id,
			:designer_override, :tag_defaults, :enabled, :created_at)`, f)
	if err != nil {
		return fmt.Errorf("insert import folder: %w", err)
	}
	return nil
}

// GetImportFolder loads one folder.
func (s *Store) GetImportFolder(ctx context.Context, q Querier, id string) (*ImportSourceFolder, error) {
	var f ImportSourceFolder
	err := sqlx.GetContext(ctx, q, &f, `
		SELECT id, source_id, location, max_depth, profile_id, designer_override,
			tag_defaults, enabled, created_at
		FROM import_source_folders WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "import folder")
	}
	return &f, nil
}

// FoldersForSource lists a source's folders.
func (s *Store) FoldersForSource(ctx context.Context, q Querier, sourceID string) ([]ImportSourceFolder, error) {
	var out []ImportSourceFolder
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, source_id, location, max_depth, profile_id, designer_override,
			tag_defaults, enabled, created_at
		FROM import_source_folders WHERE source_id = $1 ORDER BY location`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list import folders: %w", err)
	}
	return out, nil
}

// DeleteImportFolder removes one folder and its records.
func (s *Store) DeleteImportFolder(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM import_source_folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import folder: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "import folder not found")
	}
	return nil
}

// UpsertImportRecord inserts a PENDING record for a discovered path, or
// returns the existing row. The (folder, path) uniqueness is what makes
// re-scans idempotent. Returns true when the record is new.
func (s *Store) UpsertImportRecord(ctx context.Context, q Querier, r *ImportRecord) (bool, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = RecordPending
	}
	r.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO import_records (id, folder_id, source_path, design_id, status, error,
			imported_at, created_at)
		VALUES (:id, :folder_id, :source_path, :design_id, :status, :error,
			:imported_at, :created_at)
		ON CONFLICT (folder_id, source_path) DO NOTHING`, r)
	if err != nil {
		return false, fmt.Errorf("insert import record: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		var existing ImportRecord
		err := sqlx.GetContext(ctx, q, &existing, `
			SELECT id, folder_id, source_path, design_id, status, error, imported_at, created_at
			FROM import_records WHERE folder_id = $1 AND source_path = $2`,
			r.FolderID, r.SourcePath)
		if err != nil {
			return false, notFound(err, "import record")
		}
		*r = existing
		return false, nil
	}
	s.markDirty("import_records")
	return true, nil
}

// GetImportRecord loads one record.
func (s *Store) GetImportRecord(ctx context.Context, q Querier, id string) (*ImportRecord, error) {
	var r ImportRecord
	err := sqlx.GetContext(ctx, q, &r, `
		SELECT id, folder_id, source_path, design_id, status, error, imported_at, created_at
		FROM import_records WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "import record")
	}
	return &r, nil
}

// MarkImportRecord finalises a record's outcome.
func (s *Store) MarkImportRecord(ctx context.Context, q Querier, id string, status ImportRecordStatus, designID *string, recErr *string) error {
	var imported *time.Time
	if status == RecordImported {
		now := time.Now().UTC()
		imported = &now
	}
	_, err := q.ExecContext(ctx, `
		UPDATE import_records SET status = $2, design_id = coalesce($3, design_id),
			error = $4, imported_at = coalesce($5, imported_at)
		WHERE id = $1`, id, status, designID, recErr, imported)
	if err != nil {
		return fmt.Errorf("mark import record: %w", err)
	}
	s.markDirty("import_records")
	return nil
}

// ImportRecordFilter narrows ListImportRecords.
type ImportRecordFilter struct {
	SourceID string
	FolderID string
	Status   ImportRecordStatus
	Page     int
	PerPage  int
}

// ListImportRecords returns a page of records, newest first.
func (s *Store) ListImportRecords(ctx context.Context, q Querier, f ImportRecordFilter) ([]ImportRecord, int64, error) {
	where, args := "", []interface{}{}
	n := 0
	if f.FolderID != "" {
		n++
		where = appendCond(where, "folder_id = $"+strconv.Itoa(n))
		args = append(args, f.FolderID)
	} else if f.SourceID != "" {
		n++
		where = appendCond(where,
			"folder_id IN (SELECT id FROM import_source_folders WHERE source_id = $"+strconv.Itoa(n)+")")
		args = append(args, f.SourceID)
	}
	if f.Status != "" {
		n++
		where = appendCond(where, "status = $"+strconv.Itoa(n))
		args = append(args, f.Status)
	}

	total, _, err := s.countRows(ctx, q, "import_records", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count import records: %w", err)
	}

	query := `SELECT id, folder_id, source_path, design_id, status, error, imported_at, created_at
		FROM import_records`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY created_at DESC` + pageClause(f.Page, f.PerPage, &args, &n)

	var out []ImportRecord
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list import records: %w", err)
	}
	return out, total, nil
}

// CreateImportProfile inserts a detection profile.
func (s *Store) CreateImportProfile(ctx context.Context, q Querier, p *ImportProfile) error {
	if p.ID == "" {
		p.ID = newID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO import_profiles (id, name, is_builtin, config, created_at, updated_at)
		VALUES (:id, :name, :is_builtin, :config, :created_at, :updated_at)
		ON CONFLICT (name) DO NOTHING`, p)
	if err != nil {
		return fmt.Errorf("insert import profile: %w", err)
	}
	return nil
}

// GetImportProfile loads one profile.
func (s *Store) GetImportProfile(ctx context.Context, q Querier, id string) (*ImportProfile, error) {
	var p ImportProfile
	err := sqlx.GetContext(ctx, q, &p, `
		SELECT id, name, is_builtin, config, created_at, updated_at
		FROM import_profiles WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "import profile")
	}
	return &p, nil
}

// GetImportProfileByName loads a profile by its unique name.
func (s *Store) GetImportProfileByName(ctx context.Context, q Querier, name string) (*ImportProfile, error) {
	var p ImportProfile
	err := sqlx.GetContext(ctx, q, &p, `
		SELECT id, name, is_builtin, config, created_at, updated_at
		FROM import_profiles WHERE name = $1`, name)
	if err != nil {
		return nil, notFound(err, "import profile")
	}
	return &p, nil
}

// ListImportProfiles returns all profiles, built-ins first.
func (s *Store) ListImportProfiles(ctx context.Context, q Querier) ([]ImportProfile, error) {
	var out []ImportProfile
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, name, is_builtin, config, created_at, updated_at
		FROM import_profiles ORDER BY is_builtin DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list import profiles: %w", err)
	}
	return out, nil
}

// UpdateImportProfile rewrites a profile's config. Built-ins are immutable.
func (s *Store) UpdateImportProfile(ctx context.Context, q Querier, p *ImportProfile) error {
	existing, err := s.GetImportProfile(ctx, q, p.ID)
	if err != nil {
		return err
	}
	if existing.IsBuiltin {
		return cerrors.E(cerrors.KindConflict, "built-in profiles cannot be modified")
	}
	p.UpdatedAt = time.Now().UTC()
	_, err = sqlx.NamedExecContext(ctx, q, `
		UPDATE import_profiles SET name = :name, config = :config, updated_at = :updated_at
		WHERE id = :id`, p)
	if err != nil {
		return fmt.Errorf("update import profile: %w", err)
	}
	return nil
}

// DeleteImportProfile removes a user profile. Built-ins are immutable.
func (s *Store) DeleteImportProfile(ctx context.Context, q Querier, id string) error {
	p, err := s.GetImportProfile(ctx, q, id)
	if err != nil {
		return err
	}
	if p.IsBuiltin {
		return cerrors.E(cerrors.KindConflict, "built-in profiles cannot be deleted")
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM import_profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete import profile: %w", err)
	}
	return nil
}
