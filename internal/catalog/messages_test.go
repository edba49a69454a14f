// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageDates(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	dayRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"day", "count"}).
			AddRow(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), 4).
			AddRow(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 1)
	}

	t.Run("scoped to one channel", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`FROM messages WHERE posted_at >= \$1 AND posted_at < \$2 AND channel_id = \$3`).
			WithArgs(from, to, "ch1").
			WillReturnRows(dayRows())

		days, err := store.MessageDates(context.Background(), store.DB(), "ch1", from, to)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"2026-01-03": 4, "2026-01-05": 1}, days)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty channel id spans every channel", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`FROM messages WHERE posted_at >= \$1 AND posted_at < \$2 GROUP BY`).
			WithArgs(from, to).
			WillReturnRows(dayRows())

		days, err := store.MessageDates(context.Background(), store.DB(), "", from, to)
		require.NoError(t, err)
		assert.Len(t, days, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
