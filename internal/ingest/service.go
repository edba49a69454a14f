// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package ingest normalises raw source items into catalog rows: messages,
// attachments and deduplicated designs, with automatic tags and the
// multicolor heuristic applied on the way in.
package ingest

import (
	"context"
	"path"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/dedupe"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/sources"
)

// candidateExtensions mark an attachment as a possible design file.
var candidateExtensions = map[string]bool{
	"stl": true, "3mf": true, "obj": true, "step": true, "stp": true,
	"zip": true, "rar": true, "7z": true,
}

// Service turns raw items into catalog state.
type Service struct {
	store   *catalog.Store
	queue   *queue.Service
	dedupe  *dedupe.Service
	bus     *events.Broadcaster
	metrics *metrics.Set
	log     *zap.Logger
}

// New builds the ingest service.
func New(store *catalog.Store, q *queue.Service, dd *dedupe.Service, bus *events.Broadcaster, m *metrics.Set, logger *zap.Logger) *Service {
	return &Service{store: store, queue: q, dedupe: dd, bus: bus, metrics: m, log: logger.Named("ingest")}
}

// Result reports what one item produced.
type Result struct {
	MessageCreated bool
	DesignID       string
	DesignCreated  bool
	DownloadQueued bool
}

// IngestItem processes one raw item against a channel: message upsert,
// attachments, design creation or attachment, tagging, pre-download
// deduplication, then the channel's download-mode policy. Re-ingesting an
// already-seen item is a no-op.
func (s *Service) IngestItem(ctx context.Context, ch *catalog.Channel, item sources.RawItem) (*Result, error) {
	res := &Result{}
	var design *catalog.Design

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		msg := &catalog.Message{
			ChannelID:         ch.ID,
			UpstreamMessageID: item.UpstreamID,
			PostedAt:          item.PostedAt,
			Author:            item.Author,
			Caption:           item.Caption,
			HasMedia:          len(item.Files)+len(item.Previews) > 0,
		}
		created, err := s.store.UpsertMessage(ctx, tx, msg)
		if err != nil {
			return err
		}
		if !created {
			// replayed item; report the design it already belongs to
			res.DesignID, err = s.store.DesignIDForMessage(ctx, tx, ch.ID, msg.ID)
			return err
		}
		res.MessageCreated = true

		attachments, hints, filenames, err := s.insertAttachments(ctx, tx, msg, item)
		if err != nil {
			return err
		}
		hasCandidate := false
		for _, a := range attachments {
			if a.IsCandidate {
				hasCandidate = true
				break
			}
		}
		if !hasCandidate && !CaptionIndicatesDesign(item.Caption) {
			return nil
		}

		design, err = s.resolveDesign(ctx, tx, ch, item, filenames)
		if err != nil {
			return err
		}
		res.DesignID = design.ID

		if err := s.store.AddDesignSource(ctx, tx, &catalog.DesignSource{
			DesignID:  design.ID,
			ChannelID: ch.ID,
			MessageID: msg.ID,
		}); err != nil {
			return err
		}

		if design.CreatedAt.Equal(design.UpdatedAt) && design.Status == catalog.StatusDiscovered {
			res.DesignCreated = true
		}
		if res.DesignCreated {
			if LooksMulticolor(item.Caption, filenames) {
				if _, err := s.store.SetMulticolor(ctx, tx, design.ID,
					catalog.MulticolorMulti, catalog.MulticolorFromHeuristic); err != nil {
					return err
				}
			}
			if err := s.applyTags(ctx, tx, design.ID, item, filenames); err != nil {
				return err
			}
			if err := s.dedupe.PreDownload(ctx, tx, design, hints); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.MessageCreated {
		s.metrics.MessagesIngested.Inc()
	}
	if res.DesignCreated {
		s.metrics.DesignsCreated.Inc()
		s.bus.Publish(events.TypeDesignCreated, map[string]string{
			"id":    design.ID,
			"title": design.Title(),
		})
	}
	if res.DesignID != "" && res.MessageCreated {
		queued, err := s.applyDownloadMode(ctx, ch, res.DesignID)
		if err != nil {
			return nil, err
		}
		res.DownloadQueued = queued
	}
	return res, nil
}

// insertAttachments writes the attachment rows of a new message and
// returns them with the dedupe hints and candidate filenames.
func (s *Service) insertAttachments(ctx context.Context, tx *sqlx.Tx, msg *catalog.Message, item sources.RawItem) ([]catalog.Attachment, []dedupe.FileHint, []string, error) {
	var (
		out       []catalog.Attachment
		hints     []dedupe.FileHint
		filenames []string
	)
	for _, f := range item.Files {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(f.Filename), "."))
		a := catalog.Attachment{
			MessageID:   msg.ID,
			MediaKind:   f.MediaKind,
			Filename:    f.Filename,
			MIME:        f.MIME,
			SizeBytes:   f.Size,
			Extension:   ext,
			IsCandidate: candidateExtensions[ext],
			FetchRef:    f.FetchRef,
		}
		if a.MediaKind == "" {
			a.MediaKind = "document"
		}
		if err := s.store.InsertAttachment(ctx, tx, &a); err != nil {
			return nil, nil, nil, err
		}
		out = append(out, a)
		if a.IsCandidate {
			hints = append(hints, dedupe.FileHint{Filename: f.Filename, Size: f.Size})
			filenames = append(filenames, f.Filename)
		}
	}
	for _, p := range item.Previews {
		a := catalog.Attachment{
			MessageID: msg.ID,
			MediaKind: "photo",
			Filename:  p.Filename,
			FetchRef:  p.FetchRef,
		}
		if err := s.store.InsertAttachment(ctx, tx, &a); err != nil {
			return nil, nil, nil, err
		}
		out = append(out, a)
	}
	return out, hints, filenames, nil
}

// resolveDesign attaches the item to the design owning its external id, or
// creates a new one from the item's metadata.
func (s *Service) resolveDesign(ctx context.Context, tx *sqlx.Tx, ch *catalog.Channel, item sources.RawItem, filenames []string) (*catalog.Design, error) {
	if item.ExternalID != "" {
		existing, err := s.store.FindDesignByExternalRef(ctx, tx, item.ExternalProvider, item.ExternalID)
		if err == nil {
			return existing, nil
		}
		if !cerrors.IsKind(err, cerrors.KindNotFound) {
			return nil, err
		}
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = TitleFromCaption(item.Caption, filenames)
	}
	designer := strings.TrimSpace(item.Designer)
	if designer == "" {
		designer = DesignerFromCaption(item.Caption)
	}
	d := &catalog.Design{
		CanonicalTitle:    title,
		CanonicalDesigner: designer,
		ImportSourceID:    ch.ImportSourceID,
	}
	if item.ExternalID != "" {
		d.ExternalProvider = catalog.StrPtr(item.ExternalProvider)
		d.ExternalID = catalog.StrPtr(item.ExternalID)
	}
	if err := s.store.CreateDesign(ctx, tx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// applyTags assigns automatic tags from the caption, the candidate
// filenames and the source-provided defaults.
func (s *Service) applyTags(ctx context.Context, tx *sqlx.Tx, designID string, item sources.RawItem, filenames []string) error {
	assign := func(names []string, src catalog.TagSource) error {
		for _, name := range names {
			tag, err := s.store.EnsureTag(ctx, tx, name)
			if err != nil {
				if cerrors.IsKind(err, cerrors.KindValidation) {
					continue
				}
				return err
			}
			if err := s.store.AssignTag(ctx, tx, designID, tag.ID, src); err != nil {
				return err
			}
		}
		return nil
	}
	if err := assign(CaptionTags(item.Caption), catalog.TagFromCaption); err != nil {
		return err
	}
	if err := assign(FilenameTags(filenames), catalog.TagFromFilename); err != nil {
		return err
	}
	return assign(item.Tags, catalog.TagFromExternal)
}

// applyDownloadMode enqueues the design's download when the channel policy
// asks for it. Auto-queued downloads run at the background priority and
// the enqueue is idempotent per design.
func (s *Service) applyDownloadMode(ctx context.Context, ch *catalog.Channel, designID string) (bool, error) {
	switch ch.DownloadMode {
	case catalog.DownloadAll:
		// unconditional
	case catalog.DownloadAllNew:
		d, err := s.store.GetDesign(ctx, s.store.DB(), designID)
		if err != nil {
			return false, err
		}
		if ch.DownloadModeEnabledAt == nil || d.CreatedAt.Before(*ch.DownloadModeEnabledAt) {
			return false, nil
		}
	default:
		return false, nil
	}
	return s.EnqueueDownload(ctx, designID, queue.PriorityAuto)
}

// EnqueueDownload queues DOWNLOAD_DESIGN for a design and marks it WANTED.
// Safe to call repeatedly; an already-pending job short-circuits.
func (s *Service) EnqueueDownload(ctx context.Context, designID string, priority int) (bool, error) {
	d, err := s.store.GetDesign(ctx, s.store.DB(), designID)
	if err != nil {
		return false, err
	}
	if d.Status == catalog.StatusDeleted {
		return false, cerrors.E(cerrors.KindConflict, "design is deleted")
	}
	_, created, err := s.queue.Enqueue(ctx, catalog.JobDownloadDesign, queue.Options{
		Priority:    priority,
		DesignID:    designID,
		DisplayName: "Download " + d.Title(),
	})
	if err != nil {
		return false, err
	}
	if created && d.Status == catalog.StatusDiscovered {
		if _, err := s.store.AdvanceDesignStatus(ctx, s.store.DB(), designID, catalog.StatusWanted); err != nil {
			return false, err
		}
		s.bus.Publish(events.TypeDesignStatusChanged, map[string]string{
			"id":     designID,
			"status": string(catalog.StatusWanted),
		})
	}
	return created, nil
}

// EnqueueChannelBacklog queues downloads for every design of a channel
// that has not been downloaded yet. One-shot when DOWNLOAD_ALL is first
// selected.
func (s *Service) EnqueueChannelBacklog(ctx context.Context, channelID string) (int, error) {
	filter := catalog.DesignFilter{ChannelID: channelID, PerPage: 200}
	queued := 0
	for pageNum := 1; ; pageNum++ {
		filter.Page = pageNum
		designs, total, err := s.store.ListDesigns(ctx, s.store.DB(), filter)
		if err != nil {
			return queued, err
		}
		if len(designs) == 0 {
			break
		}
		for _, d := range designs {
			if d.Status != catalog.StatusDiscovered && d.Status != catalog.StatusWanted {
				continue
			}
			created, err := s.EnqueueDownload(ctx, d.ID, queue.PriorityAuto)
			if err != nil {
				s.log.Warn("backlog enqueue failed", zap.String("design_id", d.ID), zap.Error(err))
				continue
			}
			if created {
				queued++
			}
		}
		if int64(pageNum)*int64(filter.PerPage) >= total {
			break
		}
	}
	return queued, nil
}
