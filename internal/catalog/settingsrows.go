// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GetSettingRow loads one settings row, nil when the key is unset.
func (s *Store) GetSettingRow(ctx context.Context, q Querier, key string) (*Setting, error) {
	var row Setting
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT key, value, updated_at FROM settings WHERE key = $1`, key)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load setting %q: %w", key, err)
	}
	return &row, nil
}

// PutSettingRow upserts a settings row.
func (s *Store) PutSettingRow(ctx context.Context, q Querier, key string, value json.RawMessage) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store setting %q: %w", key, err)
	}
	return nil
}

// DeleteSettingRow removes a settings row, reverting the key to its default.
func (s *Store) DeleteSettingRow(ctx context.Context, q Querier, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}

// DeleteAllSettingRows clears every stored override.
func (s *Store) DeleteAllSettingRows(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("reset settings: %w", err)
	}
	return nil
}

// AllSettingRows returns every stored override keyed by name.
func (s *Store) AllSettingRows(ctx context.Context, q Querier) (map[string]json.RawMessage, error) {
	var rows []Setting
	err := sqlx.SelectContext(ctx, q, &rows, `SELECT key, value, updated_at FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
