// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Ancient Dragon", "ancient dragon"},
		{"separators collapse", "ancient_dragon-v2.stl", "ancient dragon v2 stl"},
		{"decoration dropped", "🔥 Dragon!! (Bust)", "dragon bust"},
		{"mixed whitespace", "  Dragon \t Bust  ", "dragon bust"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeKey(tc.in))
		})
	}
}

func TestDesignOverrides(t *testing.T) {
	title := "My Dragon"
	designer := "Me"
	empty := ""

	t.Run("overrides win", func(t *testing.T) {
		d := Design{
			CanonicalTitle: "Dragon", CanonicalDesigner: "Loot Studios",
			TitleOverride: &title, DesignerOverride: &designer,
		}
		assert.Equal(t, "My Dragon", d.Title())
		assert.Equal(t, "Me", d.Designer())
	})

	t.Run("empty override falls through", func(t *testing.T) {
		d := Design{CanonicalTitle: "Dragon", TitleOverride: &empty}
		assert.Equal(t, "Dragon", d.Title())
	})

	t.Run("no override", func(t *testing.T) {
		d := Design{CanonicalTitle: "Dragon", CanonicalDesigner: "Loot Studios"}
		assert.Equal(t, "Dragon", d.Title())
		assert.Equal(t, "Loot Studios", d.Designer())
	})
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop()), mock
}

func TestGetDesignNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM designs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetDesign(context.Background(), store.DB(), "missing")
	assert.True(t, cerrors.IsKind(err, cerrors.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettingRowMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT key, value, updated_at FROM settings WHERE key = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	row, err := store.GetSettingRow(context.Background(), store.DB(), "nope")
	require.NoError(t, err)
	assert.Nil(t, row)
}
