// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package queue

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
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/metrics"
)

func newTestService(t *testing.T) (*Service, *events.Broadcaster, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := catalog.NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	bus := events.NewBroadcaster(zap.NewNop())
	return New(store, bus, metrics.New(), zap.NewNop()), bus, mock
}

func jobRows(j catalog.Job) *sqlmock.Rows {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	return sqlmock.NewRows([]string{
		"id", "kind", "status", "priority", "design_id", "channel_id", "payload", "result",
		"progress_current", "progress_total", "attempts", "max_attempts", "next_retry_at",
		"last_error", "worker_id", "heartbeat_at", "cancel_requested", "display_name",
		"created_at", "started_at", "finished_at",
	}).AddRow(j.ID, j.Kind, j.Status, j.Priority, j.DesignID, j.ChannelID, []byte(j.Payload), nil,
		j.ProgressCurrent, j.ProgressTotal, j.Attempts, j.MaxAttempts, nil,
		nil, nil, nil, j.CancelRequested, j.DisplayName,
		j.CreatedAt, nil, nil)
}

func depthRows(queued, running int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status", "count"}).
		AddRow("QUEUED", queued).
		AddRow("RUNNING", running)
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a queued job", func(t *testing.T) {
		svc, bus, mock := newTestService(t)
		sub := bus.Subscribe()
		t.Cleanup(func() { bus.Unsubscribe(sub) })

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE design_id`).
			WithArgs("d1", string(catalog.JobDownloadDesign)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT status, count`).WillReturnRows(depthRows(1, 0))

		job, created, err := svc.Enqueue(ctx, catalog.JobDownloadDesign, Options{
			Priority: PriorityAuto, DesignID: "d1", DisplayName: "Download Dragon",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, catalog.JobQueued, job.Status)
		assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
		assert.NoError(t, mock.ExpectationsWereMet())

		ev := <-sub.C
		assert.Equal(t, events.TypeJobCreated, ev.Type)
		ev = <-sub.C
		assert.Equal(t, events.TypeQueueUpdated, ev.Type)
	})

	t.Run("design scope returns the active job instead of inserting", func(t *testing.T) {
		svc, _, mock := newTestService(t)

		existing := catalog.Job{
			ID: "j-existing", Kind: catalog.JobDownloadDesign, Status: catalog.JobQueued,
			Priority: PriorityAuto, DesignID: catalog.StrPtr("d1"), MaxAttempts: DefaultMaxAttempts,
		}
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE design_id`).
			WithArgs("d1", string(catalog.JobDownloadDesign)).
			WillReturnRows(jobRows(existing))
		mock.ExpectCommit()

		job, created, err := svc.Enqueue(ctx, catalog.JobDownloadDesign, Options{
			Priority: PriorityAuto, DesignID: "d1",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "j-existing", job.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("record scope is idempotent on the payload record id", func(t *testing.T) {
		svc, _, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`payload->>'record_id'`).
			WithArgs(string(catalog.JobDownloadImportRecord), "rec-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT status, count`).WillReturnRows(depthRows(1, 0))

		first, created, err := svc.Enqueue(ctx, catalog.JobDownloadImportRecord, Options{
			Priority: PriorityAuto, Payload: map[string]string{"record_id": "rec-1"},
		})
		require.NoError(t, err)
		require.True(t, created)

		mock.ExpectBegin()
		mock.ExpectQuery(`payload->>'record_id'`).
			WithArgs(string(catalog.JobDownloadImportRecord), "rec-1").
			WillReturnRows(jobRows(*first))
		mock.ExpectCommit()

		second, created, err := svc.Enqueue(ctx, catalog.JobDownloadImportRecord, Options{
			Priority: PriorityAuto, Payload: map[string]string{"record_id": "rec-1"},
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("priority out of range is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, _, err := svc.Enqueue(ctx, catalog.JobDownloadDesign, Options{Priority: 101, DesignID: "d1"})
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}

func TestPayloadRecordID(t *testing.T) {
	assert.Equal(t, "rec-1", payloadRecordID(map[string]string{"record_id": "rec-1"}))
	assert.Equal(t, "", payloadRecordID(map[string]string{"other": "x"}))
	assert.Equal(t, "", payloadRecordID(nil))
	assert.Equal(t, "", payloadRecordID("not an object"))
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("claims the highest priority oldest due job", func(t *testing.T) {
		svc, _, mock := newTestService(t)

		claimed := catalog.Job{
			ID: "j1", Kind: catalog.JobDownloadDesign, Status: catalog.JobRunning,
			Priority: PriorityMax, DesignID: catalog.StrPtr("d1"),
			Attempts: 1, MaxAttempts: DefaultMaxAttempts,
		}
		mock.ExpectQuery(`(?s)UPDATE jobs SET status = 'RUNNING'.*ORDER BY priority DESC, created_at ASC.*FOR UPDATE SKIP LOCKED.*RETURNING`).
			WillReturnRows(jobRows(claimed))
		mock.ExpectQuery(`SELECT status, count`).WillReturnRows(depthRows(0, 1))

		job, err := svc.Claim(ctx, "w1", []catalog.JobKind{catalog.JobDownloadDesign})
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "j1", job.ID)
		assert.Equal(t, catalog.JobRunning, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue yields nil without error", func(t *testing.T) {
		svc, _, mock := newTestService(t)
		mock.ExpectQuery(`(?s)UPDATE jobs SET status = 'RUNNING'`).
			WillReturnError(sql.ErrNoRows)

		job, err := svc.Claim(ctx, "w1", []catalog.JobKind{catalog.JobDownloadDesign})
		require.NoError(t, err)
		assert.Nil(t, job)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFail(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure goes back to queued with a delay", func(t *testing.T) {
		svc, bus, mock := newTestService(t)
		sub := bus.Subscribe()
		t.Cleanup(func() { bus.Unsubscribe(sub) })

		j := &catalog.Job{
			ID: "j1", Kind: catalog.JobDownloadDesign, Status: catalog.JobRunning,
			Attempts: 1, MaxAttempts: DefaultMaxAttempts,
		}
		mock.ExpectExec(`UPDATE jobs SET status = 'QUEUED', last_error`).
			WithArgs("j1", "connection reset", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT status, count`).WillReturnRows(depthRows(1, 0))

		err := svc.Fail(ctx, j, cerrors.E(cerrors.KindTransient, "connection reset"))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		ev := <-sub.C
		require.Equal(t, events.TypeJobFailed, ev.Type)
		payload := ev.Data.(jobEvent)
		assert.True(t, payload.Retrying)
		assert.Equal(t, catalog.JobQueued, payload.Status)
	})

	t.Run("permanent failure lands in FAILED", func(t *testing.T) {
		svc, bus, mock := newTestService(t)
		sub := bus.Subscribe()
		t.Cleanup(func() { bus.Unsubscribe(sub) })

		j := &catalog.Job{
			ID: "j1", Kind: catalog.JobExtractArchive, Status: catalog.JobRunning,
			Attempts: 1, MaxAttempts: DefaultMaxAttempts,
		}
		mock.ExpectExec(`UPDATE jobs SET status = 'FAILED', last_error`).
			WithArgs("j1", "archive is password protected").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT status, count`).WillReturnRows(depthRows(0, 0))

		err := svc.Fail(ctx, j, cerrors.E(cerrors.KindPermanent, "archive is password protected"))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		ev := <-sub.C
		require.Equal(t, events.TypeJobFailed, ev.Type)
		payload := ev.Data.(jobEvent)
		assert.False(t, payload.Retrying)
		assert.Equal(t, catalog.JobFailed, payload.Status)
	})

	t.Run("exhausted attempts fail even when transient", func(t *testing.T) {
		svc, _, mock := newTestService(t)

		j := &catalog.Job{
			ID: "j1", Kind: catalog.JobDownloadDesign, Status: catalog.JobRunning,
			Attempts: DefaultMaxAttempts, MaxAttempts: DefaultMaxAttempts,
		}
		mock.ExpectExec(`UPDATE jobs SET status = 'FAILED', last_error`).
			WithArgs("j1", "timeout").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT status, count`).WillReturnRows(depthRows(0, 0))

		err := svc.Fail(ctx, j, cerrors.E(cerrors.KindTransient, "timeout"))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
