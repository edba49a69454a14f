// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server is the REST surface over the catalogue and the pipeline:
// thin chi handlers over the services, an SSE event stream and the
// Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/config"
	"github.com/printarr/printarr/internal/credentials"
	"github.com/printarr/printarr/internal/dedupe"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/family"
	"github.com/printarr/printarr/internal/ingest"
	"github.com/printarr/printarr/internal/library"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/preview"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
	"github.com/printarr/printarr/internal/sources"
)

// MetadataProvider looks a design up on an external catalogue. The concrete
// client is injected; a nil provider disables the metadata endpoints.
type MetadataProvider interface {
	Name() string
	Search(ctx context.Context, query string) ([]MetadataResult, error)
	Fetch(ctx context.Context, externalID string) (*MetadataResult, error)
}

// MetadataResult is one external catalogue hit.
type MetadataResult struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Designer   string `json:"designer"`
	URL        string `json:"url,omitempty"`
	Raw        []byte `json:"-"`
}

// Server holds the handler dependencies.
type Server struct {
	cfg      config.Config
	store    *catalog.Store
	queue    *queue.Service
	ingest   *ingest.Service
	dedupe   *dedupe.Service
	family   *family.Detector
	preview  *preview.Service
	library  *library.Service
	settings *settings.Service
	registry *sources.Registry
	creds    *credentials.Store
	bus      *events.Broadcaster
	metrics  *metrics.Set
	metadata MetadataProvider
	uploads  *sources.UploadAdapter
	log      *zap.Logger

	startedAt time.Time
}

// Deps bundles the service graph the server fronts.
type Deps struct {
	Config   config.Config
	Store    *catalog.Store
	Queue    *queue.Service
	Ingest   *ingest.Service
	Dedupe   *dedupe.Service
	Family   *family.Detector
	Preview  *preview.Service
	Library  *library.Service
	Settings *settings.Service
	Registry *sources.Registry
	Creds    *credentials.Store
	Bus      *events.Broadcaster
	Metrics  *metrics.Set
	Metadata MetadataProvider
	Uploads  *sources.UploadAdapter
	Logger   *zap.Logger
}

// New builds the server.
func New(d Deps) *Server {
	return &Server{
		cfg: d.Config, store: d.Store, queue: d.Queue, ingest: d.Ingest,
		dedupe: d.Dedupe, family: d.Family, preview: d.Preview,
		library: d.Library, settings: d.Settings, registry: d.Registry,
		creds: d.Creds, bus: d.Bus, metrics: d.Metrics,
		metadata: d.Metadata, uploads: d.Uploads,
		log:       d.Logger.Named("server"),
		startedAt: time.Now(),
	}
}

// Run serves HTTP until the context ends, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
		// SSE connections stay open; only reads are bounded
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("http server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
