// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
)

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := catalog.NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	return New(store, zap.NewNop()), mock
}

func TestTypedGetters(t *testing.T) {
	ctx := context.Background()

	t.Run("missing row falls back to default", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectQuery(`SELECT key, value, updated_at FROM settings WHERE key = \$1`).
			WithArgs(KeyMaxConcurrentDownloads).
			WillReturnError(sql.ErrNoRows)

		assert.Equal(t, 3, svc.Int(ctx, KeyMaxConcurrentDownloads))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("override row wins", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectQuery(`SELECT key, value, updated_at FROM settings WHERE key = \$1`).
			WithArgs(KeyMaxConcurrentDownloads).
			WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
				AddRow(KeyMaxConcurrentDownloads, []byte(`5`), time.Now()))

		assert.Equal(t, 5, svc.Int(ctx, KeyMaxConcurrentDownloads))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed stored value falls back to default", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectQuery(`SELECT key, value, updated_at FROM settings WHERE key = \$1`).
			WithArgs(KeyDeleteArchives).
			WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
				AddRow(KeyDeleteArchives, []byte(`"oops"`), time.Now()))

		assert.True(t, svc.Bool(ctx, KeyDeleteArchives))
	})

	t.Run("read failure falls back to default", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectQuery(`SELECT key, value, updated_at FROM settings WHERE key = \$1`).
			WithArgs(KeyAdapterRatePerSecond).
			WillReturnError(sql.ErrConnDone)

		assert.Equal(t, 2.0, svc.Float(ctx, KeyAdapterRatePerSecond))
	})
}

func TestPut(t *testing.T) {
	ctx := context.Background()

	t.Run("override is upserted", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectExec(`INSERT INTO settings`).
			WithArgs(KeyMaxConcurrentDownloads, []byte(`5`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.Put(ctx, KeyMaxConcurrentDownloads, json.RawMessage(`5`)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("writing the default deletes the override", func(t *testing.T) {
		svc, mock := newService(t)
		mock.ExpectExec(`DELETE FROM settings WHERE key = \$1`).
			WithArgs(KeyMaxConcurrentDownloads).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.Put(ctx, KeyMaxConcurrentDownloads, json.RawMessage(`3`)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("out of bounds", func(t *testing.T) {
		svc, _ := newService(t)
		err := svc.Put(ctx, KeyMaxConcurrentDownloads, json.RawMessage(`99`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("wrong type", func(t *testing.T) {
		svc, _ := newService(t)
		err := svc.Put(ctx, KeyMaxConcurrentDownloads, json.RawMessage(`"three"`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("unknown key", func(t *testing.T) {
		svc, _ := newService(t)
		err := svc.Put(ctx, "no_such_key", json.RawMessage(`1`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}

func TestAll(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectQuery(`SELECT key, value, updated_at FROM settings`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
			AddRow(KeySyncIntervalMinutes, []byte(`5`), time.Now()))

	all, err := svc.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, len(Schema()))

	byKey := make(map[string]Effective, len(all))
	for _, e := range all {
		byKey[e.Key] = e
	}
	assert.Equal(t, 5, byKey[KeySyncIntervalMinutes].Value)
	assert.False(t, byKey[KeySyncIntervalMinutes].IsDefault)
	assert.True(t, byKey[KeyMaxConcurrentDownloads].IsDefault)
	assert.Equal(t, 3, byKey[KeyMaxConcurrentDownloads].Value)
}

func TestSchema(t *testing.T) {
	s := Schema()
	require.NotEmpty(t, s)
	for i := 1; i < len(s); i++ {
		assert.Less(t, s[i-1].Key, s[i].Key)
	}
}
