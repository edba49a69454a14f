// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/printarr/printarr/internal/archive"
	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/config"
	"github.com/printarr/printarr/internal/credentials"
	"github.com/printarr/printarr/internal/dedupe"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/family"
	"github.com/printarr/printarr/internal/ingest"
	"github.com/printarr/printarr/internal/library"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/pipeline"
	"github.com/printarr/printarr/internal/preview"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/scheduler"
	"github.com/printarr/printarr/internal/server"
	"github.com/printarr/printarr/internal/settings"
	"github.com/printarr/printarr/internal/sources"
)

// Clients carries the injected wire-protocol clients and optional
// extension backends. A nil client leaves its adapter unregistered;
// channels bound to a missing adapter fail their sync jobs with a clear
// error instead of panicking.
type Clients struct {
	Chat     sources.ChatClient
	Drive    sources.DriveClient
	Forum    sources.ForumClient
	Renderer preview.Renderer
	Tagger   pipeline.Tagger
	Metadata server.MetadataProvider
}

var injected Clients

// Inject installs the wire clients. Embedding builds call this before
// Execute.
func Inject(c Clients) { injected = c }

func newServeCmd(ro *rootOpts) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion service: workers, scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.ConfigFile)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Host = host
			}
			if port != 0 {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := catalog.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	bus := events.NewBroadcaster(logger)
	st := settings.New(store, logger)
	q := queue.New(store, bus, m, logger)

	creds, err := credentials.Open(filepath.Join(cfg.ConfigPath, "credentials"))
	if err != nil {
		return err
	}

	uploadAdapter := sources.NewUploadAdapter(cfg.UploadDir(), logger)
	registry := sources.NewRegistry(logger)
	registry.Register(sources.NewLocalAdapter(logger), m)
	registry.Register(uploadAdapter, m)
	if injected.Chat != nil {
		registry.Register(sources.NewChatAdapter(injected.Chat, logger), m)
	}
	if injected.Drive != nil {
		registry.Register(sources.NewDriveAdapter(injected.Drive, creds, logger), m)
	}
	if injected.Forum != nil {
		registry.Register(sources.NewForumAdapter(injected.Forum, creds, logger), m)
	}
	if rate := st.Float(ctx, settings.KeyAdapterRatePerSecond); rate > 0 {
		registry.SetRate(rate)
	}

	dd := dedupe.New(store, bus, logger)
	fam := family.New(store, bus, logger)
	arc := archive.New(logger)
	lib := library.New(cfg.LibraryPath, logger)
	prev := preview.New(store, q, st, bus, filepath.Join(cfg.CachePath, "previews"), injected.Renderer, logger)
	ing := ingest.New(store, q, dd, bus, m, logger)

	handlers := pipeline.NewHandlers(store, cfg, q, registry, ing, dd, fam, arc, lib, prev, st, bus, m, injected.Tagger, logger)
	manager := pipeline.NewManager(q, handlers, st, logger)

	uploadFolder, err := bootstrap(ctx, store, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	sched := scheduler.New(store, q, st, uploadAdapter, logger)
	watcher := sources.NewWatcher(cfg.UploadDir(), uploadFolder.ID, store, logger)

	srv := server.New(server.Deps{
		Config:   cfg,
		Store:    store,
		Queue:    q,
		Ingest:   ing,
		Dedupe:   dd,
		Family:   fam,
		Preview:  prev,
		Library:  lib,
		Settings: st,
		Registry: registry,
		Creds:    creds,
		Bus:      bus,
		Metrics:  m,
		Metadata: injected.Metadata,
		Uploads:  uploadAdapter,
		Logger:   logger,
	})

	logger.Info("printarr starting",
		zap.String("library", cfg.LibraryPath),
		zap.String("data", cfg.DataPath))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { bus.Run(ctx); return nil })
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("printarr stopped")
	return nil
}
