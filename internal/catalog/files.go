// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const fileColumns = `id, design_id, relative_path, filename, extension, size_bytes,
	sha256, file_kind, model_kind, is_from_archive, parent_archive_id, is_primary, created_at`

// modelKindRank orders model formats for picking a design's primary file
// type. Richer formats win.
var modelKindRank = map[string]int{
	"3mf":  4,
	"stl":  3,
	"obj":  2,
	"step": 1,
}

// ClassifyFile derives file kind and model kind from an extension
// (lowercase, no dot).
func ClassifyFile(ext string) (FileKind, *string) {
	switch ext {
	case "stl", "3mf", "obj":
		return FileModel, StrPtr(ext)
	case "step", "stp":
		return FileModel, StrPtr("step")
	case "zip", "rar", "7z", "tar", "gz", "tgz":
		return FileArchive, nil
	case "png", "jpg", "jpeg", "gif", "webp", "bmp":
		return FileImage, nil
	default:
		return FileOther, nil
	}
}

// InsertDesignFile stores a file row, classifying it from its extension
// when the caller has not.
func (s *Store) InsertDesignFile(ctx context.Context, q Querier, f *DesignFile) error {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.Extension == "" {
		if i := strings.LastIndexByte(f.Filename, '.'); i >= 0 {
			f.Extension = strings.ToLower(f.Filename[i+1:])
		}
	}
	if f.FileKind == "" {
		f.FileKind, f.ModelKind = ClassifyFile(f.Extension)
	}
	f.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO design_files (id, design_id, relative_path, filename, extension,
			size_bytes, sha256, file_kind, model_kind, is_from_archive, parent_archive_id,
			is_primary, created_at)
		VALUES (:id, :design_id, :relative_path, :filename, :extension,
			:size_bytes, :sha256, :file_kind, :model_kind, :is_from_archive, :parent_archive_id,
			:is_primary, :created_at)`, f)
	if err != nil {
		return fmt.Errorf("insert design file: %w", err)
	}
	s.markDirty("design_files")
	return nil
}

// GetDesignFile loads one file row.
func (s *Store) GetDesignFile(ctx context.Context, q Querier, id string) (*DesignFile, error) {
	var f DesignFile
	err := sqlx.GetContext(ctx, q, &f,
		`SELECT `+fileColumns+` FROM design_files WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "design file")
	}
	return &f, nil
}

// FilesForDesign lists a design's files, models first.
func (s *Store) FilesForDesign(ctx context.Context, q Querier, designID string) ([]DesignFile, error) {
	var out []DesignFile
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+fileColumns+` FROM design_files WHERE design_id = $1
		ORDER BY file_kind = 'MODEL' DESC, relative_path`, designID)
	if err != nil {
		return nil, fmt.Errorf("list design files: %w", err)
	}
	return out, nil
}

// UpdateFilePaths rewrites the relative paths of a design's files after a
// library move. paths maps file id to new relative path.
func (s *Store) UpdateFilePaths(ctx context.Context, q Querier, paths map[string]string) error {
	for id, p := range paths {
		if _, err := q.ExecContext(ctx,
			`UPDATE design_files SET relative_path = $2 WHERE id = $1`, id, p); err != nil {
			return fmt.Errorf("update file path: %w", err)
		}
	}
	return nil
}

// SetFileHash records a computed content hash.
func (s *Store) SetFileHash(ctx context.Context, q Querier, id, sha256 string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE design_files SET sha256 = $2 WHERE id = $1`, id, sha256); err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}

// DeleteDesignFile removes one file row (archive originals after
// extraction).
func (s *Store) DeleteDesignFile(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM design_files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete design file: %w", err)
	}
	s.markDirty("design_files")
	return nil
}

// DesignIDsBySHA256 returns the distinct other designs owning any of the
// given hashes. Deleted designs are skipped.
func (s *Store) DesignIDsBySHA256(ctx context.Context, q Querier, hashes []string, excludeDesign string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT df.design_id
		FROM design_files df
		JOIN designs d ON d.id = df.design_id
		WHERE df.sha256 IN (?) AND df.design_id <> ? AND d.status <> 'DELETED'`,
		hashes, excludeDesign)
	if err != nil {
		return nil, fmt.Errorf("build hash query: %w", err)
	}
	var out []string
	if err := sqlx.SelectContext(ctx, q, &out, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("match files by hash: %w", err)
	}
	return out, nil
}

// SharedHashCounts returns, per other design, how many of the given hashes
// it shares and how many hashed files it has in total. Input for the family
// detector's overlap ratio.
func (s *Store) SharedHashCounts(ctx context.Context, q Querier, hashes []string, excludeDesign string) (map[string][2]int, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT df.design_id,
			count(DISTINCT df.sha256) FILTER (WHERE df.sha256 IN (?)) AS shared,
			count(DISTINCT df.sha256) AS total
		FROM design_files df
		JOIN designs d ON d.id = df.design_id
		WHERE df.design_id <> ? AND df.sha256 IS NOT NULL AND d.status <> 'DELETED'
		GROUP BY df.design_id
		HAVING count(DISTINCT df.sha256) FILTER (WHERE df.sha256 IN (?)) > 0`,
		hashes, excludeDesign, hashes)
	if err != nil {
		return nil, fmt.Errorf("build overlap query: %w", err)
	}
	type row struct {
		DesignID string `db:"design_id"`
		Shared   int    `db:"shared"`
		Total    int    `db:"total"`
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("hash overlap: %w", err)
	}
	out := make(map[string][2]int, len(rows))
	for _, r := range rows {
		out[r.DesignID] = [2]int{r.Shared, r.Total}
	}
	return out, nil
}

// DesignIDsByNameSize returns other non-deleted designs owning a file with
// the same name and byte size.
func (s *Store) DesignIDsByNameSize(ctx context.Context, q Querier, filename string, size int64, excludeDesign string) ([]string, error) {
	var out []string
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT DISTINCT df.design_id
		FROM design_files df
		JOIN designs d ON d.id = df.design_id
		WHERE df.filename = $1 AND df.size_bytes = $2 AND df.design_id <> $3
			AND d.status <> 'DELETED'`,
		filename, size, excludeDesign)
	if err != nil {
		return nil, fmt.Errorf("match files by name and size: %w", err)
	}
	return out, nil
}

// RecomputeDesignTotals refreshes total_size_bytes and primary_file_type
// from the design's current file rows.
func (s *Store) RecomputeDesignTotals(ctx context.Context, q Querier, designID string) error {
	files, err := s.FilesForDesign(ctx, q, designID)
	if err != nil {
		return err
	}
	var total int64
	primary := ""
	for _, f := range files {
		total += f.SizeBytes
		if f.ModelKind != nil && modelKindRank[*f.ModelKind] > modelKindRank[primary] {
			primary = *f.ModelKind
		}
	}
	_, err = q.ExecContext(ctx, `
		UPDATE designs SET total_size_bytes = $2, primary_file_type = $3, updated_at = $4
		WHERE id = $1`, designID, total, StrPtr(primary), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recompute design totals: %w", err)
	}
	return nil
}

// LibraryStorageTotal sums the byte size of all files of non-deleted
// designs.
func (s *Store) LibraryStorageTotal(ctx context.Context, q Querier) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, q, &total, `
		SELECT coalesce(sum(df.size_bytes), 0)
		FROM design_files df JOIN designs d ON d.id = df.design_id
		WHERE d.status <> 'DELETED'`)
	if err != nil {
		return 0, fmt.Errorf("storage total: %w", err)
	}
	return total, nil
}
