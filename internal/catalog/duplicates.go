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

// RecordDuplicateCandidate stores a detected pair. The same pair with the
// same match type collapses onto the existing row, so repeated reconcile
// runs never open duplicate reviews.
func (s *Store) RecordDuplicateCandidate(ctx context.Context, q Querier, c *DuplicateCandidate) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = CandidatePending
	}
	if c.Confidence == 0 {
		c.Confidence = ConfidenceFor(c.MatchType)
	}
	c.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO duplicate_candidates (id, design_id, candidate_id, match_type,
			confidence, status, created_at)
		VALUES (:id, :design_id, :candidate_id, :match_type,
			:confidence, :status, :created_at)
		ON CONFLICT (design_id, candidate_id, match_type) DO NOTHING`, c)
	if err != nil {
		return fmt.Errorf("insert duplicate candidate: %w", err)
	}
	s.markDirty("duplicate_candidates")
	return nil
}

// GetDuplicateCandidate loads one pair.
func (s *Store) GetDuplicateCandidate(ctx context.Context, q Querier, id string) (*DuplicateCandidate, error) {
	var c DuplicateCandidate
	err := sqlx.GetContext(ctx, q, &c, `
		SELECT id, design_id, candidate_id, match_type, confidence, status, created_at
		FROM duplicate_candidates WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "duplicate candidate")
	}
	return &c, nil
}

// ListDuplicateCandidates returns a page of pairs, highest confidence first.
func (s *Store) ListDuplicateCandidates(ctx context.Context, q Querier, status CandidateStatus, page, perPage int) ([]DuplicateCandidate, int64, error) {
	where, args := "", []interface{}{}
	n := 0
	if status != "" {
		n++
		where = "status = $" + strconv.Itoa(n)
		args = append(args, status)
	}
	total, _, err := s.countRows(ctx, q, "duplicate_candidates", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count duplicate candidates: %w", err)
	}
	query := `SELECT id, design_id, candidate_id, match_type, confidence, status, created_at
		FROM duplicate_candidates`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY confidence DESC, created_at ASC` + pageClause(page, perPage, &args, &n)
	var out []DuplicateCandidate
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list duplicate candidates: %w", err)
	}
	return out, total, nil
}

// CandidatesForDesign lists pending pairs involving a design on either side.
func (s *Store) CandidatesForDesign(ctx context.Context, q Querier, designID string) ([]DuplicateCandidate, error) {
	var out []DuplicateCandidate
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, design_id, candidate_id, match_type, confidence, status, created_at
		FROM duplicate_candidates
		WHERE (design_id = $1 OR candidate_id = $1) AND status = 'PENDING'
		ORDER BY confidence DESC`, designID)
	if err != nil {
		return nil, fmt.Errorf("list candidates for design: %w", err)
	}
	return out, nil
}

// SetCandidateStatus resolves a pair. Only PENDING pairs can move.
func (s *Store) SetCandidateStatus(ctx context.Context, q Querier, id string, status CandidateStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE duplicate_candidates SET status = $2 WHERE id = $1 AND status = 'PENDING'`,
		id, status)
	if err != nil {
		return fmt.Errorf("set candidate status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cerrors.E(cerrors.KindConflict, "duplicate candidate is not pending")
	}
	s.markDirty("duplicate_candidates")
	return nil
}

// ResolveCandidatesInvolving closes every pending pair touching a merged
// design so stale reviews disappear after the merge.
func (s *Store) ResolveCandidatesInvolving(ctx context.Context, q Querier, designID string, status CandidateStatus) error {
	_, err := q.ExecContext(ctx, `
		UPDATE duplicate_candidates SET status = $2
		WHERE (design_id = $1 OR candidate_id = $1) AND status = 'PENDING'`,
		designID, status)
	if err != nil {
		return fmt.Errorf("resolve candidates: %w", err)
	}
	s.markDirty("duplicate_candidates")
	return nil
}
