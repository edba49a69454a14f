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

const channelColumns = `id, kind, upstream_id, title, enabled, backfill_mode, backfill_value,
	download_mode, download_mode_enabled_at, last_message_id, last_synced_at,
	import_source_id, created_at, updated_at`

// CreateChannel inserts a new channel. Upstream ids and import-source ids
// are unique across channels.
func (s *Store) CreateChannel(ctx context.Context, q Querier, ch *Channel) error {
	if ch.ID == "" {
		ch.ID = newID()
	}
	now := time.Now().UTC()
	ch.CreatedAt, ch.UpdatedAt = now, now
	if ch.Kind == "" {
		ch.Kind = ChannelChat
	}
	if ch.BackfillMode == "" {
		ch.BackfillMode = BackfillAllHistory
	}
	if ch.DownloadMode == "" {
		ch.DownloadMode = DownloadManual
	}
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO channels (id, kind, upstream_id, title, enabled, backfill_mode,
			backfill_value, download_mode, download_mode_enabled_at, last_message_id,
			last_synced_at, import_source_id, created_at, updated_at)
		VALUES (:id, :kind, :upstream_id, :title, :enabled, :backfill_mode,
			:backfill_value, :download_mode, :download_mode_enabled_at, :last_message_id,
			:last_synced_at, :import_source_id, :created_at, :updated_at)`, ch)
	if err != nil {
		if isUniqueViolation(err, "channels_upstream_id") {
			return cerrors.E(cerrors.KindConflict, "channel already exists for this upstream id", err)
		}
		if isUniqueViolation(err, "channels_import_source") {
			return cerrors.E(cerrors.KindConflict, "import source already has a channel", err)
		}
		return fmt.Errorf("insert channel: %w", err)
	}
	s.markDirty("channels")
	return nil
}

// GetChannel loads one channel by id.
func (s *Store) GetChannel(ctx context.Context, q Querier, id string) (*Channel, error) {
	var ch Channel
	err := sqlx.GetContext(ctx, q, &ch,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	return &ch, nil
}

// GetChannelByUpstreamID loads the channel bound to an upstream feed id.
func (s *Store) GetChannelByUpstreamID(ctx context.Context, q Querier, upstreamID int64) (*Channel, error) {
	var ch Channel
	err := sqlx.GetContext(ctx, q, &ch,
		`SELECT `+channelColumns+` FROM channels WHERE upstream_id = $1`, upstreamID)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	return &ch, nil
}

// GetChannelByImportSource loads the virtual channel of an import source.
func (s *Store) GetChannelByImportSource(ctx context.Context, q Querier, sourceID string) (*Channel, error) {
	var ch Channel
	err := sqlx.GetContext(ctx, q, &ch,
		`SELECT `+channelColumns+` FROM channels WHERE import_source_id = $1`, sourceID)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	return &ch, nil
}

// ChannelFilter narrows ListChannels.
type ChannelFilter struct {
	Kind    ChannelKind
	Enabled *bool
	Page    int
	PerPage int
}

// ListChannels returns a page of channels with the (possibly approximate)
// total.
func (s *Store) ListChannels(ctx context.Context, q Querier, f ChannelFilter) ([]Channel, int64, error) {
	where, args := "", []interface{}{}
	n := 0
	if f.Kind != "" {
		n++
		where = appendCond(where, "kind = $"+strconv.Itoa(n))
		args = append(args, f.Kind)
	}
	if f.Enabled != nil {
		n++
		where = appendCond(where, "enabled = $"+strconv.Itoa(n))
		args = append(args, *f.Enabled)
	}

	total, _, err := s.countRows(ctx, q, "channels", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count channels: %w", err)
	}

	query := `SELECT ` + channelColumns + ` FROM channels`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY title ASC` + pageClause(f.Page, f.PerPage, &args, &n)

	var out []Channel
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list channels: %w", err)
	}
	return out, total, nil
}

// UpdateChannel persists the mutable channel fields.
func (s *Store) UpdateChannel(ctx context.Context, q Querier, ch *Channel) error {
	ch.UpdatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, q, `
		UPDATE channels SET title = :title, enabled = :enabled,
			backfill_mode = :backfill_mode, backfill_value = :backfill_value,
			download_mode = :download_mode, download_mode_enabled_at = :download_mode_enabled_at,
			updated_at = :updated_at
		WHERE id = :id`, ch)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "channel not found")
	}
	s.markDirty("channels")
	return nil
}

// SetChannelDownloadMode switches the download mode, stamping
// download_mode_enabled_at the first time it leaves MANUAL.
func (s *Store) SetChannelDownloadMode(ctx context.Context, q Querier, id string, mode DownloadMode) error {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		UPDATE channels SET download_mode = $2,
			download_mode_enabled_at = CASE
				WHEN $2 = 'MANUAL' THEN download_mode_enabled_at
				WHEN download_mode_enabled_at IS NULL THEN $3
				ELSE download_mode_enabled_at END,
			updated_at = $3
		WHERE id = $1`, id, mode, now)
	if err != nil {
		return fmt.Errorf("set download mode: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "channel not found")
	}
	return nil
}

// AdvanceChannelCursor moves the sync cursor forward. It never moves the
// cursor backwards, so replayed batches are harmless.
func (s *Store) AdvanceChannelCursor(ctx context.Context, q Querier, id string, lastMessageID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE channels SET
			last_message_id = GREATEST(coalesce(last_message_id, 0), $2),
			last_synced_at = $3, updated_at = $3
		WHERE id = $1`, id, lastMessageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance channel cursor: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel and cascades to its messages.
func (s *Store) DeleteChannel(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindNotFound, "channel not found")
	}
	s.markDirty("channels", "messages", "attachments")
	return nil
}

// appendCond joins WHERE fragments with AND.
func appendCond(where, cond string) string {
	if where == "" {
		return cond
	}
	return where + " AND " + cond
}

// pageClause appends LIMIT/OFFSET for 1-based pages, defaulting to 50 per
// page and capping at 200.
func pageClause(page, perPage int, args *[]interface{}, n *int) string {
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}
	if page <= 0 {
		page = 1
	}
	*n++
	limit := *n
	*args = append(*args, perPage)
	*n++
	offset := *n
	*args = append(*args, (page-1)*perPage)
	return " LIMIT $" + strconv.Itoa(limit) + " OFFSET $" + strconv.Itoa(offset)
}

// Pages computes the page count for a total at the given page size.
func Pages(total int64, perPage int) int {
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}
	if total == 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
