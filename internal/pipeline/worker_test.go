// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/queue"
)

func TestJobContextProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := catalog.NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	qsvc := queue.New(store, events.NewBroadcaster(zap.NewNop()), metrics.New(), zap.NewNop())

	jc := &JobContext{
		Context: context.Background(),
		Job:     &catalog.Job{ID: "j1", Kind: catalog.JobDownloadDesign},
		queue:   qsvc,
	}

	t.Run("indeterminate reports are throttled", func(t *testing.T) {
		mock.ExpectExec(`UPDATE jobs SET progress_current`).
			WithArgs("j1", int64(1), int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		jc.Progress(1, 0)
		first := jc.lastProgress.Load()
		require.NotZero(t, first)

		for i := int64(2); i <= 5; i++ {
			jc.Progress(i, 0)
		}
		assert.Equal(t, first, jc.lastProgress.Load())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("final determinate report bypasses the throttle", func(t *testing.T) {
		mock.ExpectExec(`UPDATE jobs SET progress_current`).
			WithArgs("j1", int64(10), int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		jc.Progress(10, 10)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mid-run determinate report is throttled", func(t *testing.T) {
		before := jc.lastProgress.Load()
		jc.Progress(3, 10)
		assert.Equal(t, before, jc.lastProgress.Load())
	})

	t.Run("reports pass once the window elapses", func(t *testing.T) {
		jc.lastProgress.Store(time.Now().Add(-2 * time.Second).UnixNano())
		mock.ExpectExec(`UPDATE jobs SET progress_current`).
			WithArgs("j1", int64(4), int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		jc.Progress(4, 10)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
