// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/library"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/sources"
)

const multiMaterialModel = `<?xml version="1.0" encoding="UTF-8"?>
<model xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <basematerials id="1">
      <base name="Red PLA" displaycolor="#FF0000FF"/>
      <base name="Blue PLA" displaycolor="#0000FFFF"/>
    </basematerials>
  </resources>
</model>`

func writeContainer(t *testing.T, path, modelXML string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("3D/3dmodel.model")
	require.NoError(t, err)
	_, err = w.Write([]byte(modelXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func fileRow(id, designID, rel string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "design_id", "relative_path", "filename", "extension", "size_bytes",
		"sha256", "file_kind", "model_kind", "is_from_archive", "parent_archive_id",
		"is_primary", "created_at",
	}).AddRow(id, designID, rel, filepath.Base(rel), "3mf", 1024,
		nil, catalog.FileModel, "3mf", false, nil,
		true, time.Now().UTC())
}

func designRow(id string, source *catalog.MulticolorSource) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "canonical_title", "canonical_designer", "title_override",
		"designer_override", "status", "multicolor", "multicolor_source", "primary_file_type",
		"total_size_bytes", "metadata_authority", "import_source_id", "family_id", "family_variant",
		"external_provider", "external_id", "external_meta", "norm_title", "norm_designer",
		"created_at", "updated_at",
	}).AddRow(id, "Dragon", "Loot Studios", nil,
		nil, catalog.StatusDownloaded, catalog.MulticolorUnknown, source, nil,
		1024, catalog.AuthoritySource, nil, nil, nil,
		nil, nil, nil, "dragon", "loot studios",
		now, now)
}

func TestHandleAnalyze3MF(t *testing.T) {
	newHandlers := func(t *testing.T, root string) (*Handlers, sqlmock.Sqlmock) {
		t.Helper()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		h := &Handlers{
			store:   catalog.NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop()),
			library: library.New(root, zap.NewNop()),
			log:     zap.NewNop(),
		}
		return h, mock
	}
	jobFor := func(payload string) *JobContext {
		return &JobContext{
			Context: context.Background(),
			Job:     &catalog.Job{ID: "j1", Kind: catalog.JobAnalyze3MF, Payload: json.RawMessage(payload)},
		}
	}

	t.Run("multi material container flips the flag", func(t *testing.T) {
		root := t.TempDir()
		writeContainer(t, filepath.Join(root, "Loot Studios", "Dragon", "design.3mf"), multiMaterialModel)
		h, mock := newHandlers(t, root)

		rel := filepath.Join("Loot Studios", "Dragon", "design.3mf")
		mock.ExpectQuery(`SELECT (.+) FROM design_files WHERE id`).
			WithArgs("f1").
			WillReturnRows(fileRow("f1", "d1", rel))
		mock.ExpectQuery(`SELECT (.+) FROM designs WHERE id`).
			WithArgs("d1").
			WillReturnRows(designRow("d1", nil))
		mock.ExpectExec(`UPDATE designs SET multicolor`).
			WithArgs("d1", catalog.MulticolorMulti, catalog.MulticolorFrom3MF, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		res, err := h.handleAnalyze3MF(jobFor(`{"file_id":"f1"}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"multicolor": string(catalog.MulticolorMulti),
			"applied":    true,
		}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user override outranks the analysis", func(t *testing.T) {
		root := t.TempDir()
		writeContainer(t, filepath.Join(root, "design.3mf"), multiMaterialModel)
		h, mock := newHandlers(t, root)

		user := catalog.MulticolorFromUser
		mock.ExpectQuery(`SELECT (.+) FROM design_files WHERE id`).
			WithArgs("f1").
			WillReturnRows(fileRow("f1", "d1", "design.3mf"))
		mock.ExpectQuery(`SELECT (.+) FROM designs WHERE id`).
			WithArgs("d1").
			WillReturnRows(designRow("d1", &user))

		res, err := h.handleAnalyze3MF(jobFor(`{"file_id":"f1"}`))
		require.NoError(t, err)
		assert.Equal(t, false, res.(map[string]interface{})["applied"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("payload without a file id is rejected", func(t *testing.T) {
		h, _ := newHandlers(t, t.TempDir())
		_, err := h.handleAnalyze3MF(jobFor(`{}`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}

type stubAdapter struct{ payload string }

func (a stubAdapter) Name() string { return "stub" }

func (a stubAdapter) Scan(context.Context, sources.ScanRequest, sources.EmitFunc) (int64, error) {
	return 0, nil
}

func (a stubAdapter) FetchBytes(context.Context, string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader(a.payload)), int64(len(a.payload)), nil
}

func (a stubAdapter) Probe(context.Context) error { return nil }

func TestFetchAttachmentCollision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	h := &Handlers{
		store: catalog.NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop()),
		log:   zap.NewNop(),
	}
	adapter := sources.NewRegistry(zap.NewNop()).Register(stubAdapter{payload: "solid"}, metrics.New())

	jc := &JobContext{Context: context.Background(), Job: &catalog.Job{ID: "j1"}}
	jc.lastProgress.Store(time.Now().UnixNano())

	staging := t.TempDir()
	att := catalog.Attachment{ID: "0123456789abcdef", Filename: "dragon.stl", FetchRef: "ref"}

	mock.ExpectExec(`UPDATE attachments SET download_state`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, _, stored, err := h.fetchAttachment(jc, staging, att, adapter, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len("solid")), n)
	assert.Equal(t, "dragon.stl", stored)

	// a sibling message already claimed the name; the stored name must be
	// the renamed one so the catalog row matches the disk
	mock.ExpectExec(`UPDATE attachments SET download_state`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, _, stored, err = h.fetchAttachment(jc, staging, att, adapter, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "01234567_dragon.stl", stored)
	assert.FileExists(t, filepath.Join(staging, "01234567_dragon.stl"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
