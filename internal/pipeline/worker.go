// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs the job workers: claim, heartbeat, progress,
// cancellation and the per-kind stage handlers that drive a design from
// DISCOVERED to ORGANIZED.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/queue"
)

// heartbeatInterval is how often a running worker stamps liveness and
// checks for a cancel request.
const heartbeatInterval = 10 * time.Second

// progressThrottle bounds how often a handler's progress calls reach the
// store and the event stream.
const progressThrottle = time.Second

// ErrCanceled is returned by handlers that stopped on a cancel request.
var ErrCanceled = errors.New("job canceled")

// HandlerFunc processes one claimed job. The returned value is stored as
// the job's result blob.
type HandlerFunc func(jc *JobContext) (result interface{}, err error)

// JobContext carries one job through its handler. It embeds a context that
// is canceled when the operator requests cancellation, plus throttled
// progress reporting.
type JobContext struct {
	context.Context
	Job *catalog.Job

	queue        *queue.Service
	cancel       context.CancelFunc
	cancelFlag   atomic.Bool
	lastProgress atomic.Int64 // unix nanos
}

// Progress reports handler progress, dropped when the last report was less
// than a second ago. A total of 0 means indeterminate. Only the final
// report of a determinate run bypasses the throttle.
func (jc *JobContext) Progress(current, total int64) {
	now := time.Now().UnixNano()
	last := jc.lastProgress.Load()
	if now-last < int64(progressThrottle) && (total == 0 || current < total) {
		return
	}
	if !jc.lastProgress.CompareAndSwap(last, now) {
		return
	}
	_ = jc.queue.Progress(jc.Context, jc.Job, current, total)
}

// Canceled reports whether the operator asked this job to stop.
func (jc *JobContext) Canceled() bool { return jc.cancelFlag.Load() }

// Worker polls for jobs of its kinds and runs them to completion.
type Worker struct {
	id       string
	kinds    []catalog.JobKind
	queue    *queue.Service
	handlers map[catalog.JobKind]HandlerFunc
	poll     func() time.Duration
	log      *zap.Logger
}

// NewWorker builds one worker. poll returns the idle sleep between claim
// attempts, re-read every cycle so the setting applies live.
func NewWorker(id string, kinds []catalog.JobKind, q *queue.Service, handlers map[catalog.JobKind]HandlerFunc, poll func() time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		id: id, kinds: kinds, queue: q, handlers: handlers,
		poll: poll, log: logger.Named("worker").With(zap.String("worker_id", id)),
	}
}

// Run claims and processes jobs until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Claim(ctx, w.id, w.kinds)
		if err != nil {
			w.log.Error("claim failed", zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.poll()):
			}
			continue
		}
		w.process(ctx, job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// process runs one job under heartbeat supervision.
func (w *Worker) process(ctx context.Context, job *catalog.Job) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		_ = w.queue.Fail(ctx, job, fmt.Errorf("no handler for job kind %s", job.Kind))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	jc := &JobContext{Context: jobCtx, Job: job, queue: w.queue, cancel: cancel}
	defer cancel()

	hbDone := make(chan struct{})
	go w.heartbeat(jobCtx, jc, hbDone)

	start := time.Now()
	result, err := handler(jc)
	cancel()
	<-hbDone

	// completion bookkeeping runs on the parent context so a canceled job
	// context cannot block the final state write
	switch {
	case jc.Canceled() || errors.Is(err, ErrCanceled):
		if ferr := w.queue.FinalizeCancel(ctx, job); ferr != nil {
			w.log.Error("finalize cancel failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		w.log.Info("job canceled",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	case err != nil:
		if ferr := w.queue.Fail(ctx, job, err); ferr != nil {
			w.log.Error("record failure failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
	default:
		if cerr := w.queue.Complete(ctx, job, result); cerr != nil {
			w.log.Error("complete failed", zap.String("job_id", job.ID), zap.Error(cerr))
		}
		w.log.Info("job finished",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)),
			zap.Duration("took", time.Since(start)))
	}
}

// heartbeat stamps liveness until the job context ends; a reported cancel
// request flips the flag and cancels the handler's context.
func (w *Worker) heartbeat(ctx context.Context, jc *JobContext, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := w.queue.Heartbeat(ctx, jc.Job.ID)
			if err != nil {
				w.log.Warn("heartbeat failed", zap.String("job_id", jc.Job.ID), zap.Error(err))
				continue
			}
			if cancelRequested {
				jc.cancelFlag.Store(true)
				jc.cancel()
				return
			}
		}
	}
}
