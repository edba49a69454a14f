// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/archive"
	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/config"
	"github.com/printarr/printarr/internal/dedupe"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/family"
	"github.com/printarr/printarr/internal/ingest"
	"github.com/printarr/printarr/internal/library"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/preview"
	"github.com/printarr/printarr/internal/profiles"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
	"github.com/printarr/printarr/internal/sources"
)

// Tagger is the pluggable AI analysis backend. A nil tagger disables the
// AI_ANALYZE_DESIGN stage.
type Tagger interface {
	// AnalyzeDesign inspects a design's metadata and preview paths and
	// returns suggested tags plus an optional primary-preview pick.
	AnalyzeDesign(ctx context.Context, d *catalog.Design, previews []catalog.PreviewAsset) (Analysis, error)
}

// Analysis is a tagger's verdict for one design.
type Analysis struct {
	Tags []string
	// PrimaryPreviewID selects a preview as primary when non-empty.
	PrimaryPreviewID string
}

// Handlers wires the stage implementations to their services.
type Handlers struct {
	store    *catalog.Store
	cfg      config.Config
	queue    *queue.Service
	registry *sources.Registry
	ingest   *ingest.Service
	dedupe   *dedupe.Service
	family   *family.Detector
	archive  *archive.Service
	library  *library.Service
	preview  *preview.Service
	settings *settings.Service
	bus      *events.Broadcaster
	metrics  *metrics.Set
	tagger   Tagger
	log      *zap.Logger
}

// NewHandlers builds the stage handler set. tagger may be nil.
func NewHandlers(
	store *catalog.Store,
	cfg config.Config,
	q *queue.Service,
	reg *sources.Registry,
	ing *ingest.Service,
	dd *dedupe.Service,
	fam *family.Detector,
	arc *archive.Service,
	lib *library.Service,
	prev *preview.Service,
	st *settings.Service,
	bus *events.Broadcaster,
	m *metrics.Set,
	tagger Tagger,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		store: store, cfg: cfg, queue: q, registry: reg, ingest: ing,
		dedupe: dd, family: fam, archive: arc, library: lib, preview: prev,
		settings: st, bus: bus, metrics: m, tagger: tagger,
		log: logger.Named("pipeline"),
	}
}

// Map returns the kind-to-handler table the workers dispatch on.
func (h *Handlers) Map() map[catalog.JobKind]HandlerFunc {
	return map[catalog.JobKind]HandlerFunc{
		catalog.JobBackfillChannel:      h.handleSyncChannel,
		catalog.JobSyncChannelLive:      h.handleSyncChannel,
		catalog.JobDownloadDesign:       h.handleDownloadDesign,
		catalog.JobExtractArchive:       h.handleExtractArchive,
		catalog.JobImportToLibrary:      h.handleImportToLibrary,
		catalog.JobAnalyze3MF:           h.handleAnalyze3MF,
		catalog.JobGenerateRender:       h.handleGenerateRender,
		catalog.JobDedupeReconcile:      h.handleDedupeReconcile,
		catalog.JobDownloadImportRecord: h.handleDownloadImportRecord,
		catalog.JobAIAnalyzeDesign:      h.handleAIAnalyze,
		catalog.JobDetectFamilyOverlap:  h.handleDetectFamily,
	}
}

// adapterFor resolves the source adapter serving a channel: the import
// source's kind for virtual channels, the chat driver otherwise.
func (h *Handlers) adapterFor(ctx context.Context, ch *catalog.Channel) (*sources.Guarded, error) {
	if ch.ImportSourceID == nil {
		return h.registry.Get("chat")
	}
	src, err := h.store.GetImportSource(ctx, h.store.DB(), *ch.ImportSourceID)
	if err != nil {
		return nil, err
	}
	return h.registry.Get(strings.ToLower(string(src.Kind)))
}

// profileFor resolves the detection profile of a folder: folder override,
// then source default, then the builtin default.
func (h *Handlers) profileFor(ctx context.Context, src *catalog.ImportSource, folder *catalog.ImportSourceFolder) (*profiles.Config, error) {
	profileID := folder.ProfileID
	if profileID == nil {
		profileID = src.ProfileID
	}
	if profileID == nil {
		def := profiles.Default()
		return &def, nil
	}
	row, err := h.store.GetImportProfile(ctx, h.store.DB(), *profileID)
	if err != nil {
		return nil, err
	}
	return profiles.Parse(row.Config)
}

// syncResult is the result blob of a channel sync.
type syncResult struct {
	Items      int   `json:"items"`
	Designs    int   `json:"designs"`
	Queued     int   `json:"queued"`
	NextCursor int64 `json:"next_cursor,omitempty"`
}

// handleSyncChannel serves both BACKFILL_CHANNEL and SYNC_CHANNEL_LIVE;
// the adapter decides how much history to pull from the channel's cursor
// and backfill mode.
func (h *Handlers) handleSyncChannel(jc *JobContext) (interface{}, error) {
	if jc.Job.ChannelID == nil {
		return nil, cerrors.E(cerrors.KindValidation, "sync job has no channel")
	}
	ch, err := h.store.GetChannel(jc, h.store.DB(), *jc.Job.ChannelID)
	if err != nil {
		return nil, err
	}
	if !ch.Enabled {
		return syncResult{}, nil
	}
	adapter, err := h.adapterFor(jc, ch)
	if err != nil {
		return nil, err
	}
	h.bus.Publish(events.TypeSyncStatus, map[string]string{
		"channel_id": ch.ID, "state": "running",
	})

	res := syncResult{}
	emit := func(tags []string) sources.EmitFunc {
		return func(item sources.RawItem) error {
			if jc.Canceled() {
				return ErrCanceled
			}
			item.Tags = append(item.Tags, tags...)
			r, err := h.ingest.IngestItem(jc, ch, item)
			if err != nil {
				return err
			}
			res.Items++
			if r.DesignCreated {
				res.Designs++
			}
			if r.DownloadQueued {
				res.Queued++
			}
			jc.Progress(int64(res.Items), 0)
			return nil
		}
	}

	if ch.ImportSourceID == nil {
		cursor, err := adapter.Scan(jc, sources.ScanRequest{
			Channel:   ch,
			BatchSize: h.settings.Int(jc, settings.KeyScanBatchSize),
		}, emit(nil))
		if err != nil {
			h.publishSyncDone(ch.ID, err)
			return nil, err
		}
		res.NextCursor = cursor
		if err := h.store.AdvanceChannelCursor(jc, h.store.DB(), ch.ID, cursor); err != nil {
			return nil, err
		}
	} else {
		src, err := h.store.GetImportSource(jc, h.store.DB(), *ch.ImportSourceID)
		if err != nil {
			return nil, err
		}
		folders, err := h.store.FoldersForSource(jc, h.store.DB(), src.ID)
		if err != nil {
			return nil, err
		}
		for _, folder := range folders {
			if !folder.Enabled {
				continue
			}
			profile, err := h.profileFor(jc, src, &folder)
			if err != nil {
				return nil, err
			}
			designer := ""
			if src.DesignerDefault != nil {
				designer = *src.DesignerDefault
			}
			if folder.DesignerOverride != nil {
				designer = *folder.DesignerOverride
			}
			if _, err := adapter.Scan(jc, sources.ScanRequest{
				Channel:  ch,
				Folder:   &folder,
				Profile:  profile,
				Designer: designer,
			}, emit(folderTagDefaults(folder))); err != nil {
				h.publishSyncDone(ch.ID, err)
				return nil, err
			}
		}
		if err := h.store.AdvanceChannelCursor(jc, h.store.DB(), ch.ID, 0); err != nil {
			return nil, err
		}
	}
	h.publishSyncDone(ch.ID, nil)
	h.log.Info("channel synced",
		zap.String("channel_id", ch.ID), zap.Int("items", res.Items),
		zap.Int("designs", res.Designs), zap.Int("queued", res.Queued))
	return res, nil
}

func (h *Handlers) publishSyncDone(channelID string, err error) {
	state := "idle"
	data := map[string]string{"channel_id": channelID, "state": state}
	if err != nil {
		data["state"] = "error"
		data["error"] = err.Error()
	}
	h.bus.Publish(events.TypeSyncStatus, data)
}

// folderTagDefaults decodes a folder's JSON tag defaults.
func folderTagDefaults(f catalog.ImportSourceFolder) []string {
	if len(f.TagDefaults) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(f.TagDefaults, &tags); err != nil {
		return nil
	}
	return tags
}

// recordPayload addresses one import record.
type recordPayload struct {
	RecordID string `json:"record_id"`
}

// handleDownloadImportRecord ingests and queues a single import record,
// typically registered by the upload watcher.
func (h *Handlers) handleDownloadImportRecord(jc *JobContext) (interface{}, error) {
	var p recordPayload
	if err := json.Unmarshal(jc.Job.Payload, &p); err != nil || p.RecordID == "" {
		return nil, cerrors.E(cerrors.KindValidation, "job payload has no record id")
	}
	rec, err := h.store.GetImportRecord(jc, h.store.DB(), p.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != catalog.RecordPending {
		return map[string]string{"status": string(rec.Status)}, nil
	}
	folder, err := h.store.GetImportFolder(jc, h.store.DB(), rec.FolderID)
	if err != nil {
		return nil, err
	}
	src, err := h.store.GetImportSource(jc, h.store.DB(), folder.SourceID)
	if err != nil {
		return nil, err
	}
	ch, err := h.store.GetChannelByImportSource(jc, h.store.DB(), src.ID)
	if err != nil {
		return nil, err
	}
	adapter, err := h.adapterFor(jc, ch)
	if err != nil {
		return nil, err
	}
	profile, err := h.profileFor(jc, src, folder)
	if err != nil {
		return nil, err
	}
	designer := ""
	if src.DesignerDefault != nil {
		designer = *src.DesignerDefault
	}
	if folder.DesignerOverride != nil {
		designer = *folder.DesignerOverride
	}

	// the scan covers the whole folder; only the record's path is ingested
	var designID string
	_, err = adapter.Scan(jc, sources.ScanRequest{
		Channel:  ch,
		Folder:   folder,
		Profile:  profile,
		Designer: designer,
	}, func(item sources.RawItem) error {
		if item.FolderPath != rec.SourcePath {
			return nil
		}
		item.Tags = append(item.Tags, folderTagDefaults(*folder)...)
		r, err := h.ingest.IngestItem(jc, ch, item)
		if err != nil {
			return err
		}
		designID = r.DesignID
		return nil
	})
	if err != nil {
		msg := err.Error()
		_ = h.store.MarkImportRecord(jc, h.store.DB(), rec.ID, catalog.RecordFailed, nil, &msg)
		return nil, err
	}
	if designID == "" {
		_ = h.store.MarkImportRecord(jc, h.store.DB(), rec.ID, catalog.RecordSkipped, nil, nil)
		return map[string]string{"status": string(catalog.RecordSkipped)}, nil
	}
	if _, err := h.ingest.EnqueueDownload(jc, designID, queue.PriorityAuto); err != nil {
		return nil, err
	}
	if err := h.store.MarkImportRecord(jc, h.store.DB(), rec.ID, catalog.RecordImported, &designID, nil); err != nil {
		return nil, err
	}
	return map[string]string{"design_id": designID}, nil
}
