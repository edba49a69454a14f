// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

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
	"github.com/printarr/printarr/internal/pipeline"
	"github.com/printarr/printarr/internal/preview"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
	"github.com/printarr/printarr/internal/sources"
)

// cliImportSourceName is the persistent LOCAL source the import command
// runs through, so one-shot imports show up in history like any other.
const cliImportSourceName = "Local imports"

func newImportCmd(ro *rootOpts) *cobra.Command {
	var (
		designer string
		maxDepth int
	)
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "One-shot import of a local folder tree into the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.ConfigFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, path, designer, maxDepth)
		},
	}
	cmd.Flags().StringVar(&designer, "designer", "", "Designer to attribute imported designs to")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 3, "Directory depth to scan for designs")
	return cmd
}

func runImport(ctx context.Context, cfg config.Config, path, designer string, maxDepth int) error {
	// quiet logs; the progress bar is the UX here
	cfg.LogLevel = "warn"
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

	registry := sources.NewRegistry(logger)
	registry.Register(sources.NewLocalAdapter(logger), m)

	dd := dedupe.New(store, bus, logger)
	fam := family.New(store, bus, logger)
	arc := archive.New(logger)
	lib := library.New(cfg.LibraryPath, logger)
	prev := preview.New(store, q, st, bus, filepath.Join(cfg.CachePath, "previews"), nil, logger)
	ing := ingest.New(store, q, dd, bus, m, logger)
	handlers := pipeline.NewHandlers(store, cfg, q, registry, ing, dd, fam, arc, lib, prev, st, bus, m, nil, logger)
	manager := pipeline.NewManager(q, handlers, st, logger)

	ch, err := ensureCLIImportFolder(ctx, store, path, designer, maxDepth)
	if err != nil {
		return err
	}

	if _, _, err := q.Enqueue(ctx, catalog.JobSyncChannelLive, queue.Options{
		Priority:    queue.PriorityMax,
		ChannelID:   ch.ID,
		DisplayName: "Import " + path,
	}); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return manager.Run(runCtx) })

	bar := pb.ProgressBarTemplate(`{{counters .}} jobs {{bar .}} {{percent .}}`).Start(1)
	var peak int64 = 1
	for {
		select {
		case <-ctx.Done():
			stop()
			_ = g.Wait()
			bar.Finish()
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		queued, running, err := q.Depth(ctx)
		if err != nil {
			stop()
			_ = g.Wait()
			bar.Finish()
			return err
		}
		active := queued + running
		if active > peak {
			peak = active
		}
		bar.SetTotal(peak)
		bar.SetCurrent(peak - active)
		if active == 0 {
			break
		}
	}
	bar.Finish()
	stop()
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	counts, err := store.CountDesignsByStatus(ctx, store.DB())
	if err != nil {
		return err
	}
	fmt.Printf("import finished: %d designs organised\n", counts[catalog.StatusOrganized])
	return nil
}

// ensureCLIImportFolder finds or creates the CLI's LOCAL source, adds a
// folder row for path if one is missing, and returns the virtual channel.
func ensureCLIImportFolder(ctx context.Context, store *catalog.Store, path, designer string, maxDepth int) (*catalog.Channel, error) {
	db := store.DB()
	var src *catalog.ImportSource
	srcs, err := store.ListImportSources(ctx, db, false)
	if err != nil {
		return nil, err
	}
	for i := range srcs {
		if srcs[i].Kind == catalog.ImportLocal && srcs[i].Name == cliImportSourceName {
			src = &srcs[i]
			break
		}
	}
	if src == nil {
		src = &catalog.ImportSource{Name: cliImportSourceName, Kind: catalog.ImportLocal, Enabled: true}
		err := store.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := store.CreateImportSource(ctx, tx, src); err != nil {
				return err
			}
			ch := &catalog.Channel{
				Kind:           catalog.ChannelVirtual,
				Title:          cliImportSourceName,
				Enabled:        true,
				BackfillMode:   catalog.BackfillAllHistory,
				DownloadMode:   catalog.DownloadAll,
				ImportSourceID: &src.ID,
			}
			return store.CreateChannel(ctx, tx, ch)
		})
		if err != nil {
			return nil, err
		}
	}

	folders, err := store.FoldersForSource(ctx, db, src.ID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, f := range folders {
		if f.Location == path {
			found = true
			break
		}
	}
	if !found {
		folder := &catalog.ImportSourceFolder{
			SourceID: src.ID,
			Location: path,
			MaxDepth: maxDepth,
			Enabled:  true,
		}
		if designer != "" {
			folder.DesignerOverride = &designer
		}
		if err := store.AddImportFolder(ctx, db, folder); err != nil {
			return nil, err
		}
	}
	ch, err := store.GetChannelByImportSource(ctx, db, src.ID)
	if err != nil {
		if cerrors.IsKind(err, cerrors.KindNotFound) {
			return nil, cerrors.E(cerrors.KindInternal, "import source has no channel", err)
		}
		return nil, err
	}
	return ch, nil
}
