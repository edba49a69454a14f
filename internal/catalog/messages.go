// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// UpsertMessage inserts a message, or returns the existing row when the
// (channel, upstream id) pair was already ingested. Messages are immutable;
// a replayed batch never rewrites one. The returned bool is true when the
// row was created.
func (s *Store) UpsertMessage(ctx context.Context, q Querier, m *Message) (bool, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO messages (id, channel_id, upstream_message_id, posted_at, author,
			caption, has_media, created_at)
		VALUES (:id, :channel_id, :upstream_message_id, :posted_at, :author,
			:caption, :has_media, :created_at)
		ON CONFLICT (channel_id, upstream_message_id) DO NOTHING`, m)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		var existing Message
		err := sqlx.GetContext(ctx, q, &existing, `
			SELECT id, channel_id, upstream_message_id, posted_at, author, caption,
				has_media, created_at
			FROM messages WHERE channel_id = $1 AND upstream_message_id = $2`,
			m.ChannelID, m.UpstreamMessageID)
		if err != nil {
			return false, notFound(err, "message")
		}
		*m = existing
		return false, nil
	}
	s.markDirty("messages")
	return true, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, q Querier, id string) (*Message, error) {
	var m Message
	err := sqlx.GetContext(ctx, q, &m, `
		SELECT id, channel_id, upstream_message_id, posted_at, author, caption,
			has_media, created_at
		FROM messages WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "message")
	}
	return &m, nil
}

// MessageDates returns the distinct posting days of a channel's messages,
// with per-day counts, for the calendar view. Channel id may be empty for
// all channels.
func (s *Store) MessageDates(ctx context.Context, q Querier, channelID string, from, to time.Time) (map[string]int, error) {
	type row struct {
		Day   time.Time `db:"day"`
		Count int       `db:"count"`
	}
	query := `
		SELECT date_trunc('day', posted_at) AS day, count(*) AS count
		FROM messages WHERE posted_at >= $1 AND posted_at < $2`
	args := []interface{}{from, to}
	if channelID != "" {
		query += ` AND channel_id = $3`
		args = append(args, channelID)
	}
	query += ` GROUP BY 1 ORDER BY 1`

	var rows []row
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("message calendar: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Day.Format("2006-01-02")] = r.Count
	}
	return out, nil
}

// InsertAttachment stores one attachment row.
func (s *Store) InsertAttachment(ctx context.Context, q Querier, a *Attachment) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.DownloadState == "" {
		a.DownloadState = DownloadStateNone
	}
	a.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO attachments (id, message_id, media_kind, filename, mime, size_bytes,
			extension, is_candidate, download_state, local_path, sha256, fetch_ref, created_at)
		VALUES (:id, :message_id, :media_kind, :filename, :mime, :size_bytes,
			:extension, :is_candidate, :download_state, :local_path, :sha256, :fetch_ref, :created_at)`, a)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	s.markDirty("attachments")
	return nil
}

// GetAttachment loads one attachment by id.
func (s *Store) GetAttachment(ctx context.Context, q Querier, id string) (*Attachment, error) {
	var a Attachment
	err := sqlx.GetContext(ctx, q, &a,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "attachment")
	}
	return &a, nil
}

const attachmentColumns = `id, message_id, media_kind, filename, mime, size_bytes,
	extension, is_candidate, download_state, local_path, sha256, fetch_ref, created_at`

// AttachmentsForMessage lists a message's attachments in insertion order.
func (s *Store) AttachmentsForMessage(ctx context.Context, q Querier, messageID string) ([]Attachment, error) {
	var out []Attachment
	err := sqlx.SelectContext(ctx, q, &out,
		`SELECT `+attachmentColumns+` FROM attachments WHERE message_id = $1 ORDER BY created_at, id`,
		messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

// AttachmentsForDesign lists the candidate attachments across every source
// message of a design, the set DOWNLOAD_DESIGN fetches.
func (s *Store) AttachmentsForDesign(ctx context.Context, q Querier, designID string) ([]Attachment, error) {
	var out []Attachment
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT a.id, a.message_id, a.media_kind, a.filename, a.mime, a.size_bytes,
			a.extension, a.is_candidate, a.download_state, a.local_path, a.sha256,
			a.fetch_ref, a.created_at
		FROM attachments a
		JOIN design_sources ds ON ds.message_id = a.message_id
		WHERE ds.design_id = $1 AND a.is_candidate
		ORDER BY a.created_at, a.id`, designID)
	if err != nil {
		return nil, fmt.Errorf("list design attachments: %w", err)
	}
	return out, nil
}

// SetAttachmentState updates an attachment's download progress fields.
// localPath and sha256 may be nil to leave them unchanged.
func (s *Store) SetAttachmentState(ctx context.Context, q Querier, id string, state DownloadState, localPath, sha256 *string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE attachments SET download_state = $2,
			local_path = coalesce($3, local_path),
			sha256 = coalesce($4, sha256)
		WHERE id = $1`, id, state, localPath, sha256)
	if err != nil {
		return fmt.Errorf("set attachment state: %w", err)
	}
	return nil
}
