// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/printarr/printarr/internal/cerrors"
)

const jobColumns = `id, kind, status, priority, design_id, channel_id, payload, result,
	progress_current, progress_total, attempts, max_attempts, next_retry_at, last_error,
	worker_id, heartbeat_at, cancel_requested, display_name, created_at, started_at, finished_at`

// InsertJob persists a new QUEUED job. Callers enforce the one-active-job
// rule before inserting; the partial unique indexes are the backstop under
// races, surfacing as a conflict error here.
func (s *Store) InsertJob(ctx context.Context, q Querier, j *Job) error {
	if j.ID == "" {
		j.ID = newID()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 4
	}
	j.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO jobs (id, kind, status, priority, design_id, channel_id, payload, result,
			progress_current, progress_total, attempts, max_attempts, next_retry_at,
			last_error, worker_id, heartbeat_at, cancel_requested, display_name,
			created_at, started_at, finished_at)
		VALUES (:id, :kind, :status, :priority, :design_id, :channel_id, :payload, :result,
			:progress_current, :progress_total, :attempts, :max_attempts, :next_retry_at,
			:last_error, :worker_id, :heartbeat_at, :cancel_requested, :display_name,
			:created_at, :started_at, :finished_at)`, j)
	if err != nil {
		if isUniqueViolation(err, "") {
			return cerrors.E(cerrors.KindConflict, "an equivalent job is already queued or running", err)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	s.markDirty("jobs")
	return nil
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, q Querier, id string) (*Job, error) {
	var j Job
	err := sqlx.GetContext(ctx, q, &j,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "job")
	}
	return &j, nil
}

// FindActiveJob returns the QUEUED or RUNNING job for a design or channel
// scope and kind, or nil. Exactly one of designID/channelID is set.
func (s *Store) FindActiveJob(ctx context.Context, q Querier, kind JobKind, designID, channelID string) (*Job, error) {
	var (
		j     Job
		query string
		arg   string
	)
	switch {
	case designID != "":
		query = `SELECT ` + jobColumns + ` FROM jobs
			WHERE design_id = $1 AND kind = $2 AND status IN ('QUEUED','RUNNING')`
		arg = designID
	case channelID != "":
		query = `SELECT ` + jobColumns + ` FROM jobs
			WHERE channel_id = $1 AND kind = $2 AND status IN ('QUEUED','RUNNING')`
		arg = channelID
	default:
		return nil, nil
	}
	err := sqlx.GetContext(ctx, q, &j, query, arg, kind)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return &j, nil
}

// FindActiveJobByRecord returns the QUEUED or RUNNING job whose payload
// targets the given import record, or nil. Import-record jobs carry no
// design or channel scope; the payload's record_id is their identity.
func (s *Store) FindActiveJobByRecord(ctx context.Context, q Querier, kind JobKind, recordID string) (*Job, error) {
	var j Job
	err := sqlx.GetContext(ctx, q, &j, `SELECT `+jobColumns+` FROM jobs
		WHERE kind = $1 AND payload->>'record_id' = $2 AND status IN ('QUEUED','RUNNING')`,
		kind, recordID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active record job: %w", err)
	}
	return &j, nil
}

// ClaimNextJob atomically claims the highest-priority due job of the given
// kinds for a worker: QUEUED -> RUNNING, attempts+1, heartbeat stamped.
// Returns nil when nothing is due. Concurrent claimers skip each other's
// locked rows instead of blocking.
func (s *Store) ClaimNextJob(ctx context.Context, q Querier, workerID string, kinds []JobKind) (*Job, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	ks := make([]string, len(kinds))
	for i, k := range kinds {
		ks[i] = string(k)
	}
	query, args, err := sqlx.In(`
		UPDATE jobs SET status = 'RUNNING', worker_id = ?, attempts = attempts + 1,
			started_at = now(), heartbeat_at = now(), next_retry_at = NULL
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'QUEUED' AND kind IN (?)
				AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns, workerID, ks)
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}
	var j Job
	err = sqlx.GetContext(ctx, q, &j, q.Rebind(query), args...)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	s.markDirty("jobs")
	return &j, nil
}

// TouchJob stamps the worker liveness heartbeat and reports whether a
// cancel has been requested.
func (s *Store) TouchJob(ctx context.Context, q Querier, id string) (cancelRequested bool, err error) {
	err = sqlx.GetContext(ctx, q, &cancelRequested, `
		UPDATE jobs SET heartbeat_at = now() WHERE id = $1 RETURNING cancel_requested`, id)
	if err != nil {
		return false, notFound(err, "job")
	}
	return cancelRequested, nil
}

// UpdateJobProgress writes the current/total progress counters.
func (s *Store) UpdateJobProgress(ctx context.Context, q Querier, id string, current, total int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs SET progress_current = $2, progress_total = $3, heartbeat_at = now()
		WHERE id = $1`, id, current, total)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// CompleteJob finishes a RUNNING job with SUCCESS and an optional result
// document.
func (s *Store) CompleteJob(ctx context.Context, q Querier, id string, result []byte) error {
	res, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = 'SUCCESS', result = $2, finished_at = now(),
			progress_current = GREATEST(progress_current, progress_total)
		WHERE id = $1 AND status = 'RUNNING'`, id, result)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindConflict, "job is not running")
	}
	s.markDirty("jobs")
	return nil
}

// FailJob records a failure. With retryAt set the job goes back to QUEUED
// for a delayed attempt; otherwise it lands in FAILED.
func (s *Store) FailJob(ctx context.Context, q Querier, id, errMsg string, retryAt *time.Time) error {
	var (
		res interface{ RowsAffected() (int64, error) }
		err error
	)
	if retryAt != nil {
		res, err = q.ExecContext(ctx, `
			UPDATE jobs SET status = 'QUEUED', last_error = $2, next_retry_at = $3,
				worker_id = NULL, heartbeat_at = NULL, started_at = NULL, finished_at = NULL
			WHERE id = $1 AND status = 'RUNNING'`, id, errMsg, *retryAt)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE jobs SET status = 'FAILED', last_error = $2, finished_at = now(),
				worker_id = NULL
			WHERE id = $1 AND status = 'RUNNING'`, id, errMsg)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindConflict, "job is not running")
	}
	s.markDirty("jobs")
	return nil
}

// CancelJob cancels a QUEUED job immediately, or flags a RUNNING job so its
// worker stops at the next heartbeat. Finished jobs reject the cancel.
func (s *Store) CancelJob(ctx context.Context, q Querier, id string) (immediate bool, err error) {
	j, err := s.GetJob(ctx, q, id)
	if err != nil {
		return false, err
	}
	switch j.Status {
	case JobQueued:
		_, err := q.ExecContext(ctx, `
			UPDATE jobs SET status = 'CANCELED', finished_at = now()
			WHERE id = $1 AND status = 'QUEUED'`, id)
		if err != nil {
			return false, fmt.Errorf("cancel job: %w", err)
		}
		s.markDirty("jobs")
		return true, nil
	case JobRunning:
		_, err := q.ExecContext(ctx,
			`UPDATE jobs SET cancel_requested = TRUE WHERE id = $1 AND status = 'RUNNING'`, id)
		if err != nil {
			return false, fmt.Errorf("request job cancel: %w", err)
		}
		return false, nil
	default:
		return false, cerrors.Ef(cerrors.KindConflict, "job is already %s", j.Status)
	}
}

// FinalizeCancel is called by a worker that observed the cancel flag and
// stopped.
func (s *Store) FinalizeCancel(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = 'CANCELED', finished_at = now(), worker_id = NULL
		WHERE id = $1 AND status = 'RUNNING'`, id)
	if err != nil {
		return fmt.Errorf("finalize cancel: %w", err)
	}
	s.markDirty("jobs")
	return nil
}

// RetryJob requeues a FAILED or CANCELED job with a fresh attempt budget.
func (s *Store) RetryJob(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = 'QUEUED', attempts = 0, next_retry_at = NULL,
			cancel_requested = FALSE, worker_id = NULL, heartbeat_at = NULL,
			started_at = NULL, finished_at = NULL
		WHERE id = $1 AND status IN ('FAILED','CANCELED')`, id)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindConflict, "only failed or canceled jobs can be retried")
	}
	s.markDirty("jobs")
	return nil
}

// SetJobPriority changes a QUEUED job's priority.
func (s *Store) SetJobPriority(ctx context.Context, q Querier, id string, priority int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE jobs SET priority = $2 WHERE id = $1 AND status = 'QUEUED'`, id, priority)
	if err != nil {
		return fmt.Errorf("set job priority: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindConflict, "only queued jobs can be reprioritised")
	}
	return nil
}

// RequeueOrphans returns RUNNING jobs whose worker heartbeat went stale back
// to QUEUED. Crash recovery at startup and a periodic sweep both use it.
// The consumed attempt is not refunded.
func (s *Store) RequeueOrphans(ctx context.Context, q Querier, staleAfter time.Duration) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = 'QUEUED', worker_id = NULL, heartbeat_at = NULL
		WHERE status = 'RUNNING'
			AND (heartbeat_at IS NULL OR heartbeat_at < now() - $1::interval)`,
		fmt.Sprintf("%d milliseconds", staleAfter.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("requeue orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.markDirty("jobs")
	}
	return n, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status    JobStatus
	Kind      JobKind
	DesignID  string
	ChannelID string
	Active    bool // QUEUED or RUNNING
	Page      int
	PerPage   int
}

// ListJobs returns a page of jobs. Active jobs order by priority then age;
// finished ones newest first.
func (s *Store) ListJobs(ctx context.Context, q Querier, f JobFilter) ([]Job, int64, error) {
	where, args := "", []interface{}{}
	n := 0
	add := func(cond string, vals ...interface{}) {
		where = appendCond(where, cond)
		args = append(args, vals...)
	}
	if f.Active {
		add("status IN ('QUEUED','RUNNING')")
	} else if f.Status != "" {
		n++
		add("status = $"+strconv.Itoa(n), f.Status)
	}
	if f.Kind != "" {
		n++
		add("kind = $"+strconv.Itoa(n), f.Kind)
	}
	if f.DesignID != "" {
		n++
		add("design_id = $"+strconv.Itoa(n), f.DesignID)
	}
	if f.ChannelID != "" {
		n++
		add("channel_id = $"+strconv.Itoa(n), f.ChannelID)
	}

	total, _, err := s.countRows(ctx, q, "jobs", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	order := ` ORDER BY finished_at DESC NULLS FIRST, created_at DESC`
	if f.Active {
		order = ` ORDER BY status DESC, priority DESC, created_at ASC`
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += order + pageClause(f.Page, f.PerPage, &args, &n)

	var out []Job
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return out, total, nil
}

// RecentJobActivity lists the most recently finished jobs.
func (s *Store) RecentJobActivity(ctx context.Context, q Querier, limit int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Job
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('SUCCESS','FAILED','CANCELED')
		ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job activity: %w", err)
	}
	return out, nil
}

// CountJobsByStatus returns queue totals per status.
func (s *Store) CountJobsByStatus(ctx context.Context, q Querier) (map[JobStatus]int64, error) {
	type row struct {
		Status JobStatus `db:"status"`
		Count  int64     `db:"count"`
	}
	var rows []row
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT status, count(*) AS count FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	out := make(map[JobStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// PruneFinishedJobs deletes terminal jobs that finished before the cutoff.
func (s *Store) PruneFinishedJobs(ctx context.Context, q Querier, before time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('SUCCESS','FAILED','CANCELED') AND finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.markDirty("jobs")
	}
	return n, nil
}
