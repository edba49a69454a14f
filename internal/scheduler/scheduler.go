// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs the periodic maintenance work: channel sync
// sweeps, pending-record pickup, stale-upload cleanup, finished-job
// pruning and the orphaned-job reaper.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
	"github.com/printarr/printarr/internal/sources"
)

// orphanStaleAfter mirrors the pipeline's heartbeat staleness bound.
const orphanStaleAfter = 2 * time.Minute

// Scheduler drives the cron jobs.
type Scheduler struct {
	store    *catalog.Store
	queue    *queue.Service
	settings *settings.Service
	uploads  *sources.UploadAdapter
	log      *zap.Logger

	cron *cron.Cron

	mu       sync.Mutex
	lastSync time.Time
}

// New builds the scheduler. uploads may be nil when no upload source is
// configured.
func New(store *catalog.Store, q *queue.Service, st *settings.Service, uploads *sources.UploadAdapter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store: store, queue: q, settings: st, uploads: uploads,
		log: logger.Named("scheduler"),
	}
}

// Run installs the cron entries and blocks until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New()
	add := func(spec string, name string, fn func(context.Context)) error {
		_, err := s.cron.AddFunc(spec, func() { fn(ctx) })
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		return nil
	}
	if err := add("@every 1m", "sync sweep", s.syncTick); err != nil {
		return err
	}
	if err := add("@every 1m", "pending records", s.pendingRecordsTick); err != nil {
		return err
	}
	if err := add("@every 5m", "orphan reaper", s.orphanTick); err != nil {
		return err
	}
	if err := add("@hourly", "upload cleanup", s.uploadCleanupTick); err != nil {
		return err
	}
	if err := add("@daily", "job pruning", s.pruneTick); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("scheduler started")
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return nil
}

// syncTick enqueues SYNC_CHANNEL_LIVE for every enabled channel once per
// configured interval. The enqueue is idempotent per channel, so an
// overrunning sync is never doubled.
func (s *Scheduler) syncTick(ctx context.Context) {
	interval := time.Duration(s.settings.Int(ctx, settings.KeySyncIntervalMinutes)) * time.Minute
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	due := time.Since(s.lastSync) >= interval
	if due {
		s.lastSync = time.Now()
	}
	s.mu.Unlock()
	if !due {
		return
	}

	enabled := true
	channels, _, err := s.store.ListChannels(ctx, s.store.DB(), catalog.ChannelFilter{Enabled: &enabled})
	if err != nil {
		s.log.Error("channel listing for sync sweep failed", zap.Error(err))
		return
	}
	queued := 0
	for _, ch := range channels {
		_, created, err := s.queue.Enqueue(ctx, catalog.JobSyncChannelLive, queue.Options{
			Priority:    queue.PriorityAuto,
			ChannelID:   ch.ID,
			DisplayName: "Sync " + ch.Title,
		})
		if err != nil {
			s.log.Warn("sync enqueue failed", zap.String("channel_id", ch.ID), zap.Error(err))
			continue
		}
		if created {
			queued++
		}
	}
	if queued > 0 {
		s.log.Info("sync sweep queued channels", zap.Int("count", queued))
	}
}

// pendingRecordsTick picks up PENDING import records (registered by the
// upload watcher) and queues their download.
func (s *Scheduler) pendingRecordsTick(ctx context.Context) {
	records, _, err := s.store.ListImportRecords(ctx, s.store.DB(), catalog.ImportRecordFilter{
		Status:  catalog.RecordPending,
		PerPage: 100,
	})
	if err != nil {
		s.log.Error("pending record listing failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		if _, _, err := s.queue.Enqueue(ctx, catalog.JobDownloadImportRecord, queue.Options{
			Priority:    queue.PriorityAuto,
			Payload:     map[string]string{"record_id": rec.ID},
			DisplayName: "Import " + rec.SourcePath,
		}); err != nil {
			s.log.Warn("record enqueue failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
}

// orphanTick returns stale RUNNING jobs to the queue.
func (s *Scheduler) orphanTick(ctx context.Context) {
	if _, err := s.queue.RequeueOrphans(ctx, orphanStaleAfter); err != nil {
		s.log.Error("orphan requeue failed", zap.Error(err))
	}
}

// uploadCleanupTick removes stale files from the upload inbox.
func (s *Scheduler) uploadCleanupTick(ctx context.Context) {
	if s.uploads == nil {
		return
	}
	maxAge := time.Duration(s.settings.Int(ctx, settings.KeyUploadCleanupHours)) * time.Hour
	if maxAge <= 0 {
		return
	}
	n, err := s.uploads.CleanupStale(maxAge)
	if err != nil {
		s.log.Error("upload cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("stale uploads removed", zap.Int("count", n))
	}
}

// pruneTick deletes finished jobs past the retention window.
func (s *Scheduler) pruneTick(ctx context.Context) {
	days := s.settings.Int(ctx, settings.KeyJobRetentionDays)
	if days <= 0 {
		return
	}
	n, err := s.store.PruneFinishedJobs(ctx, s.store.DB(), time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		s.log.Error("job pruning failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("finished jobs pruned", zap.Int64("count", n))
	}
}
