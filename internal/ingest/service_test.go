// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/dedupe"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/queue"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := catalog.NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	bus := events.NewBroadcaster(zap.NewNop())
	m := metrics.New()
	q := queue.New(store, bus, m, zap.NewNop())
	dd := dedupe.New(store, bus, zap.NewNop())
	return New(store, q, dd, bus, m, zap.NewNop()), mock
}

var designCols = []string{
	"id", "canonical_title", "canonical_designer", "title_override",
	"designer_override", "status", "multicolor", "multicolor_source", "primary_file_type",
	"total_size_bytes", "metadata_authority", "import_source_id", "family_id", "family_variant",
	"external_provider", "external_id", "external_meta", "norm_title", "norm_designer",
	"created_at", "updated_at",
}

func addDesignRow(rows *sqlmock.Rows, id string, status catalog.DesignStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(id, "Dragon "+id, "Loot Studios", nil,
		nil, status, catalog.MulticolorUnknown, nil, nil,
		0, catalog.AuthoritySource, nil, nil, nil,
		nil, nil, nil, "dragon "+id, "loot studios",
		now, now)
}

// A channel holding more designs than one listing page must have its whole
// backlog walked, not just the first page.
func TestEnqueueChannelBacklogPages(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	// page 1: a full page of already-downloaded designs, nothing to queue
	page1 := sqlmock.NewRows(designCols)
	for i := 0; i < 200; i++ {
		addDesignRow(page1, "d-done", catalog.StatusDownloaded)
	}
	mock.ExpectQuery(`SELECT count`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(201))
	mock.ExpectQuery(`SELECT (.+) FROM designs WHERE (.+) ORDER BY`).
		WillReturnRows(page1)

	// page 2: one design still wanted; the total is cached so only the
	// page select runs
	page2 := addDesignRow(sqlmock.NewRows(designCols), "d-wanted", catalog.StatusWanted)
	mock.ExpectQuery(`SELECT (.+) FROM designs WHERE (.+) ORDER BY`).
		WillReturnRows(page2)

	// the wanted design gets its download queued
	mock.ExpectQuery(`FROM designs WHERE id`).
		WithArgs("d-wanted").
		WillReturnRows(addDesignRow(sqlmock.NewRows(designCols), "d-wanted", catalog.StatusWanted))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM jobs WHERE design_id`).
		WithArgs("d-wanted", string(catalog.JobDownloadDesign)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT status, count`).WillReturnRows(
		sqlmock.NewRows([]string{"status", "count"}).AddRow("QUEUED", 1))

	queued, err := svc.EnqueueChannelBacklog(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}
