// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package preview manages a design's image assets and the choice of its
// primary image.
package preview

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
)

// sourceRank orders preview sources for the primary pick. AI selection is
// handled separately and beats everything here.
var sourceRank = map[catalog.PreviewSource]int{
	catalog.PreviewExtracted: 4,
	catalog.PreviewRendered:  3,
	catalog.PreviewIngested:  2,
	catalog.PreviewUploaded:  1,
}

// Renderer rasterises a model file into a preview image. The rendering
// backend is pluggable; a nil renderer fails RENDER_PREVIEW jobs.
type Renderer interface {
	Render(ctx context.Context, modelPath, outPath string) error
}

// Service owns the preview cache directory and the primary-selection
// rules.
type Service struct {
	store    *catalog.Store
	queue    *queue.Service
	settings *settings.Service
	bus      *events.Broadcaster
	cacheDir string
	renderer Renderer
	log      *zap.Logger
}

// New builds the preview service. renderer may be nil.
func New(store *catalog.Store, q *queue.Service, st *settings.Service, bus *events.Broadcaster, cacheDir string, renderer Renderer, logger *zap.Logger) *Service {
	return &Service{
		store: store, queue: q, settings: st, bus: bus,
		cacheDir: cacheDir, renderer: renderer, log: logger.Named("preview"),
	}
}

// Dir returns the cache directory of one design, created on demand.
func (s *Service) Dir(designID string) (string, error) {
	dir := filepath.Join(s.cacheDir, designID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create preview dir: %w", err)
	}
	return dir, nil
}

// Add stores an image stream as a preview asset and re-picks the primary.
func (s *Service) Add(ctx context.Context, designID string, src catalog.PreviewSource, filename string, r io.Reader) (*catalog.PreviewAsset, error) {
	dir, err := s.Dir(designID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create preview file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("flush preview: %w", err)
	}
	return s.AddFile(ctx, designID, src, path)
}

// AddFile registers an image already on disk as a preview asset.
func (s *Service) AddFile(ctx context.Context, designID string, src catalog.PreviewSource, path string) (*catalog.PreviewAsset, error) {
	w, h := imageDims(path)
	p := &catalog.PreviewAsset{
		DesignID: designID,
		Source:   src,
		FilePath: path,
		Width:    w,
		Height:   h,
	}
	if err := s.store.InsertPreview(ctx, s.store.DB(), p); err != nil {
		return nil, err
	}
	if err := s.RepickPrimary(ctx, designID); err != nil {
		return nil, err
	}
	return p, nil
}

// RepickPrimary enforces the primary priority: an AI-selected asset wins,
// then extracted, rendered, ingested, uploaded. Keeps a manual pick only
// when it already matches the best rank.
func (s *Service) RepickPrimary(ctx context.Context, designID string) error {
	previews, err := s.store.PreviewsForDesign(ctx, s.store.DB(), designID)
	if err != nil {
		return err
	}
	if len(previews) == 0 {
		return nil
	}
	best := previews[0]
	for _, p := range previews[1:] {
		if rank(p) > rank(best) {
			best = p
		}
	}
	if best.IsPrimary {
		return nil
	}
	return s.store.SetPrimaryPreview(ctx, s.store.DB(), designID, best.ID, best.AISelected)
}

func rank(p catalog.PreviewAsset) int {
	if p.AISelected {
		return 100
	}
	return sourceRank[p.Source]
}

// SelectPrimary is the manual or AI override: the asset becomes primary
// regardless of source rank.
func (s *Service) SelectPrimary(ctx context.Context, designID, previewID string, aiSelected bool) error {
	return s.store.SetPrimaryPreview(ctx, s.store.DB(), designID, previewID, aiSelected)
}

// MaybeQueueRender enqueues RENDER_PREVIEW after a library import when the
// design has no previews at all and auto-rendering is enabled.
func (s *Service) MaybeQueueRender(ctx context.Context, designID string) (bool, error) {
	if !s.settings.Bool(ctx, settings.KeyAutoQueueRender) {
		return false, nil
	}
	n, err := s.store.CountPreviews(ctx, s.store.DB(), designID)
	if err != nil || n > 0 {
		return false, err
	}
	_, created, err := s.queue.Enqueue(ctx, catalog.JobGenerateRender, queue.Options{
		Priority: queue.PriorityAuto,
		DesignID: designID,
	})
	return created, err
}

// Render rasterises the design's primary model file into the cache and
// registers the result.
func (s *Service) Render(ctx context.Context, designID string) error {
	if s.renderer == nil {
		return cerrors.E(cerrors.KindPermanent, "no preview renderer is configured")
	}
	files, err := s.store.FilesForDesign(ctx, s.store.DB(), designID)
	if err != nil {
		return err
	}
	var model *catalog.DesignFile
	for i := range files {
		if files[i].FileKind == catalog.FileModel {
			if model == nil || files[i].IsPrimary {
				model = &files[i]
			}
		}
	}
	if model == nil {
		return cerrors.E(cerrors.KindPermanent, "design has no model file to render")
	}
	dir, err := s.Dir(designID)
	if err != nil {
		return err
	}
	out := filepath.Join(dir, "render.png")
	if err := s.renderer.Render(ctx, model.RelativePath, out); err != nil {
		return err
	}
	if _, err := s.AddFile(ctx, designID, catalog.PreviewRendered, out); err != nil {
		return err
	}
	s.bus.Publish(events.TypeDesignStatusChanged, map[string]string{
		"id":     designID,
		"change": "preview_rendered",
	})
	return nil
}

// imageDims decodes just the header; zero dimensions on failure.
func imageDims(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
