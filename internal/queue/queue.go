// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package queue is the durable job queue: enqueue with idempotence for
// pipeline kinds, claim with row-level locking, heartbeat, completion,
// classified failure and cancellation. Rows live in the catalog; this
// package owns the semantics and the event emission.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/events"
	"github.com/printarr/printarr/internal/metrics"
	"github.com/printarr/printarr/internal/retryclass"
)

// PriorityAuto is the priority of work the pipeline queues for itself.
// User-triggered work defaults to PriorityManual and may be raised to
// PriorityMax.
const (
	PriorityManual = 0
	PriorityAuto   = 5
	PriorityMax    = 100
)

// DefaultMaxAttempts is the attempt budget when the caller does not set one.
const DefaultMaxAttempts = 4

// Service coordinates job state changes.
type Service struct {
	store   *catalog.Store
	events  *events.Broadcaster
	metrics *metrics.Set
	log     *zap.Logger
}

// New builds the queue service.
func New(store *catalog.Store, bus *events.Broadcaster, m *metrics.Set, logger *zap.Logger) *Service {
	return &Service{store: store, events: bus, metrics: m, log: logger.Named("queue")}
}

// Options shape a new job.
type Options struct {
	Priority    int
	DesignID    string
	ChannelID   string
	Payload     interface{}
	DisplayName string
	MaxAttempts int
	Delay       time.Duration
}

// jobEvent is the payload published for job_* events.
type jobEvent struct {
	ID       string          `json:"id"`
	Kind     catalog.JobKind `json:"kind"`
	Status   catalog.JobStatus `json:"status"`
	DesignID *string         `json:"design_id,omitempty"`
	Name     string          `json:"display_name,omitempty"`
	Error    string          `json:"error,omitempty"`
	Retrying bool            `json:"retrying,omitempty"`
}

func toEvent(j *catalog.Job) jobEvent {
	return jobEvent{ID: j.ID, Kind: j.Kind, Status: j.Status, DesignID: j.DesignID, Name: j.DisplayName}
}

// Enqueue creates a QUEUED job. For pipeline kinds scoped to a design (and
// for channel-scoped sync kinds) enqueue is idempotent: when an equivalent
// job is already QUEUED or RUNNING the existing job comes back with
// created=false.
func (s *Service) Enqueue(ctx context.Context, kind catalog.JobKind, opts Options) (job *catalog.Job, created bool, err error) {
	if opts.Priority < PriorityManual || opts.Priority > PriorityMax {
		return nil, false, cerrors.Ef(cerrors.KindValidation, "priority must be between %d and %d", PriorityManual, PriorityMax)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var payload json.RawMessage
	if opts.Payload != nil {
		payload, err = json.Marshal(opts.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("encode job payload: %w", err)
		}
	}

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if existing, ferr := s.findEquivalent(ctx, tx, kind, opts); ferr != nil {
			return ferr
		} else if existing != nil {
			job = existing
			return nil
		}
		j := &catalog.Job{
			Kind:        kind,
			Status:      catalog.JobQueued,
			Priority:    opts.Priority,
			DesignID:    catalog.StrPtr(opts.DesignID),
			ChannelID:   catalog.StrPtr(opts.ChannelID),
			Payload:     payload,
			MaxAttempts: maxAttempts,
			DisplayName: opts.DisplayName,
		}
		if opts.Delay > 0 {
			at := time.Now().UTC().Add(opts.Delay)
			j.NextRetryAt = &at
		}
		if ierr := s.store.InsertJob(ctx, tx, j); ierr != nil {
			// a concurrent enqueue won the race; surface its job
			if cerrors.IsKind(ierr, cerrors.KindConflict) {
				existing, ferr := s.findEquivalent(ctx, tx, kind, opts)
				if ferr == nil && existing != nil {
					job = existing
					return nil
				}
			}
			return ierr
		}
		job = j
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.JobsEnqueued.WithLabelValues(string(kind)).Inc()
		s.events.Publish(events.TypeJobCreated, toEvent(job))
		s.publishQueueDepth(ctx)
		s.log.Info("job enqueued",
			zap.String("job_id", job.ID), zap.String("kind", string(kind)),
			zap.Int("priority", job.Priority))
	}
	return job, created, nil
}

// findEquivalent looks up the active job covering the same scope.
func (s *Service) findEquivalent(ctx context.Context, q catalog.Querier, kind catalog.JobKind, opts Options) (*catalog.Job, error) {
	switch {
	case catalog.PipelineKinds[kind] && opts.DesignID != "":
		return s.store.FindActiveJob(ctx, q, kind, opts.DesignID, "")
	case opts.ChannelID != "":
		return s.store.FindActiveJob(ctx, q, kind, "", opts.ChannelID)
	case kind == catalog.JobDownloadImportRecord:
		if id := payloadRecordID(opts.Payload); id != "" {
			return s.store.FindActiveJobByRecord(ctx, q, kind, id)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// payloadRecordID extracts the record id an import-record job targets.
// Record jobs have no design or channel scope, so their idempotence keys
// on the payload.
func payloadRecordID(payload interface{}) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	var p struct {
		RecordID string `json:"record_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.RecordID
}

// Claim hands the next due job of the given kinds to a worker, or nil.
func (s *Service) Claim(ctx context.Context, workerID string, kinds []catalog.JobKind) (*catalog.Job, error) {
	j, err := s.store.ClaimNextJob(ctx, s.store.DB(), workerID, kinds)
	if err != nil || j == nil {
		return j, err
	}
	s.events.Publish(events.TypeJobStarted, toEvent(j))
	s.publishQueueDepth(ctx)
	return j, nil
}

// Heartbeat stamps worker liveness and reports a pending cancel request.
func (s *Service) Heartbeat(ctx context.Context, jobID string) (cancelRequested bool, err error) {
	return s.store.TouchJob(ctx, s.store.DB(), jobID)
}

// Progress records job progress and emits a job_progress event. Callers
// throttle; every call here is published.
func (s *Service) Progress(ctx context.Context, j *catalog.Job, current, total int64) error {
	if err := s.store.UpdateJobProgress(ctx, s.store.DB(), j.ID, current, total); err != nil {
		return err
	}
	s.events.Publish(events.TypeJobProgress, map[string]interface{}{
		"id":      j.ID,
		"kind":    j.Kind,
		"current": current,
		"total":   total,
	})
	return nil
}

// Complete finishes a job successfully.
func (s *Service) Complete(ctx context.Context, j *catalog.Job, result interface{}) error {
	var blob []byte
	if result != nil {
		var err error
		blob, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
	}
	if err := s.store.CompleteJob(ctx, s.store.DB(), j.ID, blob); err != nil {
		return err
	}
	s.metrics.JobsFinished.WithLabelValues(string(j.Kind), "success").Inc()
	s.observeDuration(j)
	ev := toEvent(j)
	ev.Status = catalog.JobSuccess
	s.events.Publish(events.TypeJobCompleted, ev)
	s.publishQueueDepth(ctx)
	return nil
}

// Fail records a failure and lets the retry classifier decide between a
// scheduled retry and a terminal FAILED.
func (s *Service) Fail(ctx context.Context, j *catalog.Job, jobErr error) error {
	msg := jobErr.Error()
	retryAt := retryclass.NextRetry(jobErr, j.Attempts, j.MaxAttempts, time.Now().UTC())
	if err := s.store.FailJob(ctx, s.store.DB(), j.ID, msg, retryAt); err != nil {
		return err
	}
	ev := toEvent(j)
	ev.Error = msg
	ev.Retrying = retryAt != nil
	if retryAt != nil {
		ev.Status = catalog.JobQueued
		s.metrics.JobsFinished.WithLabelValues(string(j.Kind), "retry").Inc()
		s.log.Warn("job failed, retry scheduled",
			zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)),
			zap.Int("attempts", j.Attempts), zap.Time("next_retry_at", *retryAt),
			zap.String("class", retryclass.Classify(jobErr).String()),
			zap.Error(jobErr))
	} else {
		ev.Status = catalog.JobFailed
		s.metrics.JobsFinished.WithLabelValues(string(j.Kind), "failed").Inc()
		s.observeDuration(j)
		s.log.Error("job failed terminally",
			zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)),
			zap.Int("attempts", j.Attempts), zap.Error(jobErr))
	}
	s.events.Publish(events.TypeJobFailed, ev)
	s.publishQueueDepth(ctx)
	return nil
}

// Cancel cancels a queued job outright or flags a running one; the worker
// confirms at its next heartbeat via FinalizeCancel.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	immediate, err := s.store.CancelJob(ctx, s.store.DB(), jobID)
	if err != nil {
		return err
	}
	if immediate {
		j, gerr := s.store.GetJob(ctx, s.store.DB(), jobID)
		if gerr == nil {
			s.metrics.JobsFinished.WithLabelValues(string(j.Kind), "canceled").Inc()
			s.events.Publish(events.TypeJobCanceled, toEvent(j))
		}
		s.publishQueueDepth(ctx)
	}
	return nil
}

// FinalizeCancel is invoked by a worker that stopped on a cancel request.
func (s *Service) FinalizeCancel(ctx context.Context, j *catalog.Job) error {
	if err := s.store.FinalizeCancel(ctx, s.store.DB(), j.ID); err != nil {
		return err
	}
	s.metrics.JobsFinished.WithLabelValues(string(j.Kind), "canceled").Inc()
	ev := toEvent(j)
	ev.Status = catalog.JobCanceled
	s.events.Publish(events.TypeJobCanceled, ev)
	s.publishQueueDepth(ctx)
	return nil
}

// Retry requeues a failed or canceled job immediately with a reset attempt
// budget. Operator action; classification does not apply.
func (s *Service) Retry(ctx context.Context, jobID string) error {
	if err := s.store.RetryJob(ctx, s.store.DB(), jobID); err != nil {
		return err
	}
	j, err := s.store.GetJob(ctx, s.store.DB(), jobID)
	if err == nil {
		s.events.Publish(events.TypeJobCreated, toEvent(j))
	}
	s.publishQueueDepth(ctx)
	return nil
}

// SetPriority changes a queued job's position.
func (s *Service) SetPriority(ctx context.Context, jobID string, priority int) error {
	if priority < PriorityManual || priority > PriorityMax {
		return cerrors.Ef(cerrors.KindValidation, "priority must be between %d and %d", PriorityManual, PriorityMax)
	}
	if err := s.store.SetJobPriority(ctx, s.store.DB(), jobID, priority); err != nil {
		return err
	}
	s.publishQueueDepth(ctx)
	return nil
}

// RequeueOrphans returns stale RUNNING jobs to QUEUED. Called at startup
// and periodically; staleAfter should comfortably exceed the heartbeat
// interval.
func (s *Service) RequeueOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	n, err := s.store.RequeueOrphans(ctx, s.store.DB(), staleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("requeued orphaned jobs", zap.Int64("count", n))
		s.publishQueueDepth(ctx)
	}
	return n, nil
}

// Depth returns the number of QUEUED and RUNNING jobs.
func (s *Service) Depth(ctx context.Context) (queued, running int64, err error) {
	counts, err := s.store.CountJobsByStatus(ctx, s.store.DB())
	if err != nil {
		return 0, 0, err
	}
	return counts[catalog.JobQueued], counts[catalog.JobRunning], nil
}

func (s *Service) publishQueueDepth(ctx context.Context) {
	queued, running, err := s.Depth(ctx)
	if err != nil {
		return
	}
	s.metrics.QueueDepth.WithLabelValues("queued").Set(float64(queued))
	s.metrics.QueueDepth.WithLabelValues("running").Set(float64(running))
	s.events.Publish(events.TypeQueueUpdated, map[string]int64{
		"queued":  queued,
		"running": running,
	})
}

func (s *Service) observeDuration(j *catalog.Job) {
	if j.StartedAt == nil {
		return
	}
	s.metrics.JobDuration.WithLabelValues(string(j.Kind)).
		Observe(time.Since(*j.StartedAt).Seconds())
}
