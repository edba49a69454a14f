// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
)

// orphanStaleAfter is how long a RUNNING job may miss heartbeats before the
// reaper returns it to the queue.
const orphanStaleAfter = 2 * time.Minute

// syncKinds are handled by the sync pool, one worker: upstream scans are
// serialised so a single channel never syncs twice concurrently.
var syncKinds = []catalog.JobKind{
	catalog.JobBackfillChannel,
	catalog.JobSyncChannelLive,
}

// downloadKinds compete for the download pool, sized by the
// max_concurrent_downloads setting.
var downloadKinds = []catalog.JobKind{
	catalog.JobDownloadDesign,
	catalog.JobDownloadImportRecord,
}

// processKinds are local CPU/disk stages served by the processing pool.
var processKinds = []catalog.JobKind{
	catalog.JobExtractArchive,
	catalog.JobImportToLibrary,
	catalog.JobAnalyze3MF,
	catalog.JobGenerateRender,
	catalog.JobDedupeReconcile,
	catalog.JobAIAnalyzeDesign,
	catalog.JobDetectFamilyOverlap,
}

// processWorkers is the fixed size of the processing pool.
const processWorkers = 2

// Manager owns the worker pools.
type Manager struct {
	queue    *queue.Service
	handlers *Handlers
	settings *settings.Service
	log      *zap.Logger
}

// NewManager builds the pipeline manager.
func NewManager(q *queue.Service, h *Handlers, st *settings.Service, logger *zap.Logger) *Manager {
	return &Manager{queue: q, handlers: h, settings: st, log: logger.Named("pipeline")}
}

// Run requeues orphans left by a previous crash, then runs every worker
// pool until the context ends.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.queue.RequeueOrphans(ctx, orphanStaleAfter); err != nil {
		return fmt.Errorf("requeue orphans: %w", err)
	}

	table := m.handlers.Map()
	poll := func() time.Duration {
		ms := m.settings.Int(ctx, settings.KeyWorkerPollIntervalMS)
		if ms < 100 {
			ms = 100
		}
		return time.Duration(ms) * time.Millisecond
	}

	downloads := m.settings.Int(ctx, settings.KeyMaxConcurrentDownloads)
	if downloads < 1 {
		downloads = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	spawn := func(id string, kinds []catalog.JobKind) {
		w := NewWorker(id, kinds, m.queue, table, poll, m.log)
		g.Go(func() error { return w.Run(ctx) })
	}
	spawn("sync-1", syncKinds)
	for i := 1; i <= downloads; i++ {
		spawn(fmt.Sprintf("download-%d", i), downloadKinds)
	}
	for i := 1; i <= processWorkers; i++ {
		spawn(fmt.Sprintf("process-%d", i), processKinds)
	}
	m.log.Info("pipeline workers started",
		zap.Int("download_workers", downloads),
		zap.Int("process_workers", processWorkers))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
