// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
)

// ChatMessage is one message as the wire client reports it.
type ChatMessage struct {
	ID       int64
	PostedAt time.Time
	Author   string
	Caption  string
	Media    []ChatMedia
}

// ChatMedia is one media object on a chat message.
type ChatMedia struct {
	Kind     string // document | photo | video
	Filename string
	MIME     string
	Size     int64
	// FetchRef is the client's download handle for this media.
	FetchRef string
}

// ChatClient is the MTProto wire client, injected at construction. Its
// protocol is out of scope here; History must return messages in ascending
// id order starting strictly after fromID.
type ChatClient interface {
	// History pulls up to limit messages of the channel with ids > fromID.
	History(ctx context.Context, upstreamChannelID, fromID int64, limit int) ([]ChatMessage, error)
	// Download opens the byte stream of a media object.
	Download(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error)
	// Ping verifies the session is alive.
	Ping(ctx context.Context) error
}

// ChatAdapter drives a chat-platform feed. Scans are two-phase: the whole
// batch is pulled into memory before any item is emitted, so the wire
// client's I/O never interleaves with the caller's database transactions.
type ChatAdapter struct {
	client ChatClient
	log    *zap.Logger
}

// NewChatAdapter builds the chat-feed adapter around a wire client.
func NewChatAdapter(client ChatClient, logger *zap.Logger) *ChatAdapter {
	return &ChatAdapter{client: client, log: logger.Named("chat")}
}

// Name implements Adapter.
func (a *ChatAdapter) Name() string { return "chat" }

// imageExts are media treated as previews rather than design candidates.
var imageExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "webp": true, "gif": true, "bmp": true,
}

// Scan pulls messages newer than the channel cursor, honouring the backfill
// mode on a fresh channel, and emits them oldest first. Phase 1 collects
// the complete batch; phase 2 emits from memory.
func (a *ChatAdapter) Scan(ctx context.Context, req ScanRequest, emit EmitFunc) (int64, error) {
	ch := req.Channel
	if ch == nil || ch.UpstreamID == nil {
		return 0, cerrors.E(cerrors.KindValidation, "chat scan needs a channel with an upstream id")
	}
	batch := req.BatchSize
	if batch <= 0 {
		batch = 200
	}

	fromID := int64(0)
	if ch.LastMessageID != nil {
		fromID = *ch.LastMessageID
	}

	// phase 1: network only
	var collected []ChatMessage
	cursor := fromID
	for {
		msgs, err := a.client.History(ctx, *ch.UpstreamID, cursor, batch)
		if err != nil {
			return fromID, cerrors.Wrap(cerrors.KindTransient, "chat history pull failed", err)
		}
		if len(msgs) == 0 {
			break
		}
		collected = append(collected, msgs...)
		cursor = msgs[len(msgs)-1].ID
		if len(msgs) < batch {
			break
		}
	}
	collected = applyBackfill(collected, ch, fromID)
	a.log.Debug("chat batch collected",
		zap.String("channel", ch.ID), zap.Int("messages", len(collected)))

	// phase 2: emit from memory
	next := fromID
	for _, m := range collected {
		if err := emit(a.toRawItem(m)); err != nil {
			return next, err
		}
		if m.ID > next {
			next = m.ID
		}
	}
	return next, nil
}

// applyBackfill trims a first-ever pull to the channel's backfill window.
// Incremental pulls (fromID > 0) always take everything.
func applyBackfill(msgs []ChatMessage, ch *catalog.Channel, fromID int64) []ChatMessage {
	if fromID > 0 || len(msgs) == 0 {
		return msgs
	}
	switch ch.BackfillMode {
	case catalog.BackfillLastNMessages:
		if n := ch.BackfillValue; n > 0 && len(msgs) > n {
			return msgs[len(msgs)-n:]
		}
	case catalog.BackfillLastNDays:
		if n := ch.BackfillValue; n > 0 {
			cut := time.Now().UTC().AddDate(0, 0, -n)
			for i, m := range msgs {
				if !m.PostedAt.Before(cut) {
					return msgs[i:]
				}
			}
			return nil
		}
	}
	return msgs
}

func (a *ChatAdapter) toRawItem(m ChatMessage) RawItem {
	item := RawItem{
		UpstreamID: m.ID,
		Caption:    m.Caption,
		Author:     m.Author,
		PostedAt:   m.PostedAt,
	}
	for _, md := range m.Media {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(md.Filename), "."))
		if md.Kind == "photo" || imageExts[ext] {
			item.Previews = append(item.Previews, PreviewDesc{
				Filename: md.Filename,
				FetchRef: md.FetchRef,
			})
			continue
		}
		item.Files = append(item.Files, FileDesc{
			Filename:  md.Filename,
			Size:      md.Size,
			MIME:      md.MIME,
			MediaKind: md.Kind,
			FetchRef:  md.FetchRef,
		})
	}
	return item
}

// FetchBytes implements Adapter.
func (a *ChatAdapter) FetchBytes(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error) {
	rc, size, err := a.client.Download(ctx, fetchRef)
	if err != nil {
		return nil, 0, cerrors.Wrap(cerrors.KindTransient, "chat media download failed", err)
	}
	return rc, size, nil
}

// Probe implements Adapter.
func (a *ChatAdapter) Probe(ctx context.Context) error {
	return a.client.Ping(ctx)
}
