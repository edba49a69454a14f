// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/archive"
	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/hashutil"
	"github.com/printarr/printarr/internal/library"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
	"github.com/printarr/printarr/internal/sources"
)

// jobDesign loads the design a design-scoped job refers to.
func (h *Handlers) jobDesign(jc *JobContext) (*catalog.Design, error) {
	if jc.Job.DesignID == nil {
		return nil, cerrors.E(cerrors.KindValidation, "job has no design")
	}
	d, err := h.store.GetDesign(jc, h.store.DB(), *jc.Job.DesignID)
	if err != nil {
		return nil, err
	}
	if d.Status == catalog.StatusDeleted {
		return nil, cerrors.E(cerrors.KindPermanent, "design has been deleted")
	}
	return d, nil
}

func (h *Handlers) publishStatus(designID string, status catalog.DesignStatus) {
	h.bus.Publish(events.TypeDesignStatusChanged, map[string]string{
		"id":     designID,
		"status": string(status),
	})
}

// downloadResult is the result blob of DOWNLOAD_DESIGN.
type downloadResult struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// handleDownloadDesign streams every pending attachment of the design into
// staging, hashing on the way. Already-downloaded attachments are skipped,
// so a retried or resumed job never refetches. Cancellation removes the
// partial file and reverts the design to WANTED.
func (h *Handlers) handleDownloadDesign(jc *JobContext) (interface{}, error) {
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.AdvanceDesignStatus(jc, h.store.DB(), d.ID, catalog.StatusDownloading); err != nil {
		return nil, err
	}
	h.publishStatus(d.ID, catalog.StatusDownloading)

	stagingDir := h.cfg.StagingDir(d.ID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, err
	}

	srcs, err := h.store.SourcesForDesign(jc, h.store.DB(), d.ID)
	if err != nil {
		return nil, err
	}
	type fetchItem struct {
		att     catalog.Attachment
		channel *catalog.Channel
	}
	var (
		items []fetchItem
		total int64
	)
	for _, src := range srcs {
		ch, err := h.store.GetChannel(jc, h.store.DB(), src.ChannelID)
		if err != nil {
			return nil, err
		}
		atts, err := h.store.AttachmentsForMessage(jc, h.store.DB(), src.MessageID)
		if err != nil {
			return nil, err
		}
		for _, a := range atts {
			if a.DownloadState == catalog.DownloadStateDownloaded {
				continue
			}
			items = append(items, fetchItem{att: a, channel: ch})
			total += a.SizeBytes
		}
	}

	res := downloadResult{}
	hadArchive := false
	for _, it := range items {
		if jc.Canceled() {
			return h.revertOnCancel(jc, d.ID)
		}
		adapter, err := h.adapterFor(jc, it.channel)
		if err != nil {
			return nil, err
		}
		if it.att.MediaKind == "photo" && !it.att.IsCandidate {
			if err := h.fetchPreview(jc, d.ID, it.att, adapter); err != nil {
				h.log.Warn("preview fetch failed",
					zap.String("design_id", d.ID), zap.String("attachment_id", it.att.ID),
					zap.Error(err))
			}
			continue
		}
		n, sum, storedName, err := h.fetchAttachment(jc, stagingDir, it.att, adapter, res.Bytes, total)
		if err != nil {
			if jc.Canceled() {
				return h.revertOnCancel(jc, d.ID)
			}
			failState := catalog.DownloadStateFailed
			_ = h.store.SetAttachmentState(jc, h.store.DB(), it.att.ID, failState, nil, nil)
			return nil, err
		}
		res.Files++
		res.Bytes += n
		h.metrics.BytesDownloaded.Add(float64(n))

		f := &catalog.DesignFile{
			DesignID:     d.ID,
			RelativePath: storedName,
			Filename:     storedName,
			SizeBytes:    n,
			SHA256:       &sum,
		}
		if err := h.store.InsertDesignFile(jc, h.store.DB(), f); err != nil {
			return nil, err
		}
		if f.FileKind == catalog.FileArchive {
			hadArchive = true
		}
	}

	if _, err := h.store.AdvanceDesignStatus(jc, h.store.DB(), d.ID, catalog.StatusDownloaded); err != nil {
		return nil, err
	}
	h.publishStatus(d.ID, catalog.StatusDownloaded)
	if err := h.store.RecomputeDesignTotals(jc, h.store.DB(), d.ID); err != nil {
		return nil, err
	}

	if _, _, err := h.queue.Enqueue(jc, catalog.JobDedupeReconcile, queue.Options{
		Priority: queue.PriorityAuto, DesignID: d.ID,
	}); err != nil {
		return nil, err
	}
	next := catalog.JobImportToLibrary
	if hadArchive {
		next = catalog.JobExtractArchive
	}
	if _, _, err := h.queue.Enqueue(jc, next, queue.Options{
		Priority: queue.PriorityAuto, DesignID: d.ID,
		DisplayName: jc.Job.DisplayName,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// revertOnCancel returns the design to WANTED after a canceled download.
func (h *Handlers) revertOnCancel(jc *JobContext, designID string) (interface{}, error) {
	if err := h.store.RevertDesignStatus(jc, h.store.DB(), designID, catalog.StatusWanted); err != nil {
		h.log.Warn("status revert after cancel failed",
			zap.String("design_id", designID), zap.Error(err))
	}
	h.publishStatus(designID, catalog.StatusWanted)
	return nil, ErrCanceled
}

// fetchAttachment streams one attachment to staging and returns its size,
// hash and the name it was stored under, which differs from the attachment
// filename when a sibling already claimed it. Partial files are removed on
// failure.
func (h *Handlers) fetchAttachment(jc *JobContext, stagingDir string, att catalog.Attachment, adapter *sources.Guarded, doneBytes, totalBytes int64) (int64, string, string, error) {
	rc, _, err := adapter.FetchBytes(jc, att.FetchRef)
	if err != nil {
		return 0, "", "", err
	}
	defer rc.Close()

	name := filepath.Base(att.Filename)
	if name == "" || name == "." {
		name = att.ID
	}
	target := filepath.Join(stagingDir, name)
	if _, err := os.Stat(target); err == nil {
		// sibling message attached a file with the same name
		name = att.ID[:8] + "_" + name
		target = filepath.Join(stagingDir, name)
	}
	w, err := os.Create(target)
	if err != nil {
		return 0, "", "", err
	}
	hash := sha256.New()
	pw := &progressWriter{jc: jc, done: doneBytes, total: totalBytes}
	n, err := io.Copy(io.MultiWriter(w, hash, pw), rc)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return 0, "", "", err
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	localPath := &target
	if err := h.store.SetAttachmentState(jc, h.store.DB(), att.ID,
		catalog.DownloadStateDownloaded, localPath, &sum); err != nil {
		return 0, "", "", err
	}
	return n, sum, name, nil
}

// progressWriter feeds byte counts into the job's throttled progress.
type progressWriter struct {
	jc    *JobContext
	done  int64
	total int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.jc.Err(); err != nil {
		return 0, err
	}
	p.done += int64(len(b))
	p.jc.Progress(p.done, p.total)
	return len(b), nil
}

// fetchPreview pulls a photo attachment straight into the preview cache.
func (h *Handlers) fetchPreview(jc *JobContext, designID string, att catalog.Attachment, adapter *sources.Guarded) error {
	rc, _, err := adapter.FetchBytes(jc, att.FetchRef)
	if err != nil {
		return err
	}
	defer rc.Close()
	name := filepath.Base(att.Filename)
	if name == "" || name == "." {
		name = att.ID + ".jpg"
	}
	if _, err := h.preview.Add(jc, designID, catalog.PreviewIngested, name, rc); err != nil {
		return err
	}
	return h.store.SetAttachmentState(jc, h.store.DB(), att.ID,
		catalog.DownloadStateDownloaded, nil, nil)
}

// extractResult is the result blob of EXTRACT_ARCHIVE.
type extractResult struct {
	Extracted int  `json:"extracted"`
	Archives  int  `json:"archives"`
	Deleted   bool `json:"originals_deleted"`
}

// handleExtractArchive extracts every archive in the design's staging
// directory, records the produced files and optionally deletes the
// originals.
func (h *Handlers) handleExtractArchive(jc *JobContext) (interface{}, error) {
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	stagingDir := h.cfg.StagingDir(d.ID)

	extracted, consumed, err := h.archive.ExtractAll(jc, stagingDir)
	if err != nil {
		if jc.Canceled() {
			return nil, ErrCanceled
		}
		return nil, err
	}

	existing, err := h.store.FilesForDesign(jc, h.store.DB(), d.ID)
	if err != nil {
		return nil, err
	}
	byRel := make(map[string]catalog.DesignFile, len(existing))
	for _, f := range existing {
		byRel[f.RelativePath] = f
	}

	for i, e := range extracted {
		if jc.Canceled() {
			return nil, ErrCanceled
		}
		sum, err := hashutil.SHA256File(filepath.Join(stagingDir, filepath.FromSlash(e.RelPath)))
		if err != nil {
			return nil, err
		}
		f := &catalog.DesignFile{
			DesignID:      d.ID,
			RelativePath:  e.RelPath,
			Filename:      filepath.Base(e.RelPath),
			SizeBytes:     e.Size,
			SHA256:        &sum,
			IsFromArchive: true,
		}
		if parent, ok := byRel[e.FromArchive]; ok {
			f.ParentArchiveID = &parent.ID
		}
		if err := h.store.InsertDesignFile(jc, h.store.DB(), f); err != nil {
			return nil, err
		}
		jc.Progress(int64(i+1), int64(len(extracted)))
	}

	res := extractResult{Extracted: len(extracted), Archives: len(consumed)}
	if h.settings.Bool(jc, settings.KeyDeleteArchives) {
		res.Deleted = true
		for _, rel := range consumed {
			os.Remove(filepath.Join(stagingDir, filepath.FromSlash(rel)))
			if f, ok := byRel[rel]; ok {
				if err := h.store.DeleteDesignFile(jc, h.store.DB(), f.ID); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := h.store.RecomputeDesignTotals(jc, h.store.DB(), d.ID); err != nil {
		return nil, err
	}

	if len(extracted) > 0 || hasStagedFiles(stagingDir) {
		if _, _, err := h.queue.Enqueue(jc, catalog.JobImportToLibrary, queue.Options{
			Priority: queue.PriorityAuto, DesignID: d.ID,
			DisplayName: jc.Job.DisplayName,
		}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func hasStagedFiles(dir string) bool {
	found := false
	filepath.WalkDir(dir, func(path string, de os.DirEntry, err error) error {
		if err == nil && !de.IsDir() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// importResult is the result blob of IMPORT_TO_LIBRARY.
type importResult struct {
	LibraryPath string `json:"library_path"`
	Files       int    `json:"files"`
}

// handleImportToLibrary moves staged files into the templated library
// location, rewrites file paths and advances the design to ORGANIZED.
// Post-processing stages queue from here.
func (h *Handlers) handleImportToLibrary(jc *JobContext) (interface{}, error) {
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	channelTitle := "Unknown"
	if srcs, err := h.store.SourcesForDesign(jc, h.store.DB(), d.ID); err == nil && len(srcs) > 0 {
		if ch, err := h.store.GetChannel(jc, h.store.DB(), srcs[0].ChannelID); err == nil {
			channelTitle = ch.Title
		}
	}

	tmpl := h.settings.String(jc, settings.KeyLibraryPathTemplate)
	res, err := h.library.Import(jc, h.cfg.StagingDir(d.ID), tmpl, library.Vars{
		Designer: d.Designer(),
		Channel:  channelTitle,
		Title:    d.Title(),
		Date:     d.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	if len(res.Moved) > 0 {
		files, err := h.store.FilesForDesign(jc, h.store.DB(), d.ID)
		if err != nil {
			return nil, err
		}
		paths := map[string]string{}
		for _, f := range files {
			if newRel, ok := res.Moved[f.RelativePath]; ok {
				paths[f.ID] = newRel
			}
		}
		if err := h.store.UpdateFilePaths(jc, h.store.DB(), paths); err != nil {
			return nil, err
		}
	}
	if _, err := h.store.AdvanceDesignStatus(jc, h.store.DB(), d.ID, catalog.StatusOrganized); err != nil {
		return nil, err
	}
	h.publishStatus(d.ID, catalog.StatusOrganized)
	if err := h.store.RecomputeDesignTotals(jc, h.store.DB(), d.ID); err != nil {
		return nil, err
	}

	if _, _, err := h.queue.Enqueue(jc, catalog.JobDetectFamilyOverlap, queue.Options{
		Priority: queue.PriorityAuto, DesignID: d.ID,
	}); err != nil {
		return nil, err
	}
	if h.tagger != nil && h.settings.Bool(jc, settings.KeyAIAnalysisEnabled) {
		if _, _, err := h.queue.Enqueue(jc, catalog.JobAIAnalyzeDesign, queue.Options{
			Priority: queue.PriorityAuto, DesignID: d.ID,
		}); err != nil {
			return nil, err
		}
	}
	if err := h.queue3MFAnalysis(jc, d.ID); err != nil {
		return nil, err
	}
	if _, err := h.preview.MaybeQueueRender(jc, d.ID); err != nil {
		h.log.Warn("render auto-queue failed", zap.String("design_id", d.ID), zap.Error(err))
	}
	return importResult{LibraryPath: res.LibraryRel, Files: len(res.Moved)}, nil
}

// filePayload addresses one design file.
type filePayload struct {
	FileID string `json:"file_id"`
}

// queue3MFAnalysis enqueues the structural multicolor scan for the
// design's first 3MF file, if it has one.
func (h *Handlers) queue3MFAnalysis(jc *JobContext, designID string) error {
	files, err := h.store.FilesForDesign(jc, h.store.DB(), designID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Extension != "3mf" {
			continue
		}
		_, _, err := h.queue.Enqueue(jc, catalog.JobAnalyze3MF, queue.Options{
			Priority: queue.PriorityAuto,
			DesignID: designID,
			Payload:  filePayload{FileID: f.ID},
		})
		return err
	}
	return nil
}

// handleAnalyze3MF sets the multicolor flag from the 3MF container's
// material table. Authoritative over the caption heuristic.
func (h *Handlers) handleAnalyze3MF(jc *JobContext) (interface{}, error) {
	var p filePayload
	if err := json.Unmarshal(jc.Job.Payload, &p); err != nil || p.FileID == "" {
		return nil, cerrors.E(cerrors.KindValidation, "job payload has no file id")
	}
	f, err := h.store.GetDesignFile(jc, h.store.DB(), p.FileID)
	if err != nil {
		return nil, err
	}
	abs := filepath.Join(h.library.Root(), filepath.FromSlash(f.RelativePath))
	if _, err := os.Stat(abs); err != nil {
		abs = filepath.Join(h.cfg.StagingDir(f.DesignID), filepath.FromSlash(f.RelativePath))
	}
	multi, err := archive.Analyze3MF(abs)
	if err != nil {
		return nil, err
	}
	value := catalog.MulticolorSingle
	if multi {
		value = catalog.MulticolorMulti
	}
	applied, err := h.store.SetMulticolor(jc, h.store.DB(), f.DesignID, value, catalog.MulticolorFrom3MF)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"multicolor": string(value), "applied": applied}, nil
}

// handleGenerateRender rasterises a preview for the design.
func (h *Handlers) handleGenerateRender(jc *JobContext) (interface{}, error) {
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	if err := h.preview.Render(jc, d.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleDedupeReconcile runs the post-download hash pass.
func (h *Handlers) handleDedupeReconcile(jc *JobContext) (interface{}, error) {
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	n, err := h.dedupe.Reconcile(jc, d.ID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		h.bus.Publish(events.TypeDuplicateFound, map[string]interface{}{
			"design_id": d.ID,
			"matches":   n,
		})
	}
	return map[string]int{"matches": n}, nil
}

// handleAIAnalyze runs the pluggable tagger over the design.
func (h *Handlers) handleAIAnalyze(jc *JobContext) (interface{}, error) {
	if h.tagger == nil {
		return nil, cerrors.E(cerrors.KindPermanent, "no AI tagger is configured")
	}
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	previews, err := h.store.PreviewsForDesign(jc, h.store.DB(), d.ID)
	if err != nil {
		return nil, err
	}
	analysis, err := h.tagger.AnalyzeDesign(jc, d, previews)
	if err != nil {
		return nil, err
	}
	for _, name := range analysis.Tags {
		tag, err := h.store.EnsureTag(jc, h.store.DB(), name)
		if err != nil {
			continue
		}
		if err := h.store.AssignTag(jc, h.store.DB(), d.ID, tag.ID, catalog.TagFromAI); err != nil {
			return nil, err
		}
	}
	if analysis.PrimaryPreviewID != "" {
		if err := h.preview.SelectPrimary(jc, d.ID, analysis.PrimaryPreviewID, true); err != nil {
			h.log.Warn("AI preview selection failed",
				zap.String("design_id", d.ID), zap.Error(err))
		}
	}
	if d.FamilyID != nil {
		if err := h.family.ReplaceAITags(jc, *d.FamilyID, analysis.Tags); err != nil {
			return nil, err
		}
	}
	return map[string]int{"tags": len(analysis.Tags)}, nil
}

// handleDetectFamily runs family detection for the design.
func (h *Handlers) handleDetectFamily(jc *JobContext) (interface{}, error) {
	d, err := h.jobDesign(jc)
	if err != nil {
		return nil, err
	}
	res, err := h.family.Detect(jc, d.ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}
