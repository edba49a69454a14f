// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package dedupe is the two-stage duplicate engine. Before a download it
// matches on normalised title+designer and on filename+size; after a
// download it matches on SHA-256. Matches become duplicate-candidate rows
// for operator review; confirming one merges the pair.
package dedupe

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/events"
)

// decorativePrefixes are leading marketing tokens stripped before the
// title+designer comparison, so "NEW Dragon v2" still matches "Dragon v2".
var decorativePrefixes = []string{
	"new", "free", "updated", "update", "exclusive", "hot", "sale", "promo",
}

// NormalizeTitle strips decorative prefixes and reduces the title to the
// shared normalised match key.
func NormalizeTitle(title string) string {
	norm := catalog.NormalizeKey(title)
	for changed := true; changed; {
		changed = false
		for _, p := range decorativePrefixes {
			if strings.HasPrefix(norm, p+" ") {
				norm = strings.TrimPrefix(norm, p+" ")
				changed = true
			}
		}
	}
	return norm
}

// Service runs duplicate detection and merge.
type Service struct {
	store *catalog.Store
	bus   *events.Broadcaster
	log   *zap.Logger
}

// New builds the dedupe service.
func New(store *catalog.Store, bus *events.Broadcaster, logger *zap.Logger) *Service {
	return &Service{store: store, bus: bus, log: logger.Named("dedupe")}
}

// FileHint is a filename+size pair announced by an incoming item, matched
// against existing design files before anything is downloaded.
type FileHint struct {
	Filename string
	Size     int64
}

// PreDownload records heuristic candidates for a freshly created design:
// title+designer matches at 0.7 and filename+size matches at 0.5.
// Candidates are advisory; the design stays. Re-running over the same
// state is idempotent through the pair uniqueness in the store.
func (s *Service) PreDownload(ctx context.Context, q catalog.Querier, d *catalog.Design, hints []FileHint) error {
	matches, err := s.store.FindDesignsByNormPair(ctx, q,
		NormalizeTitle(d.Title()), catalog.NormalizeKey(d.Designer()), d.ID)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := s.record(ctx, q, d.ID, m.ID, catalog.MatchTitleDesigner); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for _, h := range hints {
		if h.Filename == "" || h.Size <= 0 {
			continue
		}
		ids, err := s.store.DesignIDsByNameSize(ctx, q, h.Filename, h.Size, d.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := s.record(ctx, q, d.ID, id, catalog.MatchFilenameSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordExternalID stores an exact external-id candidate, used when an
// incoming item carries a catalogue id already linked to another design.
func (s *Service) RecordExternalID(ctx context.Context, q catalog.Querier, designID, otherID string) error {
	return s.record(ctx, q, designID, otherID, catalog.MatchExternalID)
}

// Reconcile runs the post-download cryptographic pass for one design:
// every SHA-256 shared with another design yields a HASH candidate at 1.0.
func (s *Service) Reconcile(ctx context.Context, designID string) (int, error) {
	files, err := s.store.FilesForDesign(ctx, s.store.DB(), designID)
	if err != nil {
		return 0, err
	}
	var hashes []string
	for _, f := range files {
		if f.SHA256 != nil {
			hashes = append(hashes, *f.SHA256)
		}
	}
	if len(hashes) == 0 {
		return 0, nil
	}
	others, err := s.store.DesignIDsBySHA256(ctx, s.store.DB(), hashes, designID)
	if err != nil {
		return 0, err
	}
	for _, other := range others {
		if err := s.record(ctx, s.store.DB(), designID, other, catalog.MatchHash); err != nil {
			return 0, err
		}
	}
	if len(others) > 0 {
		s.log.Info("hash duplicates detected",
			zap.String("design_id", designID), zap.Int("matches", len(others)))
	}
	return len(others), nil
}

// record stores one candidate with the pair ordered canonically, so (A,B)
// and (B,A) collapse onto a single row.
func (s *Service) record(ctx context.Context, q catalog.Querier, designID, otherID string, mt catalog.MatchType) error {
	a, b := designID, otherID
	if b < a {
		a, b = b, a
	}
	return s.store.RecordDuplicateCandidate(ctx, q, &catalog.DuplicateCandidate{
		DesignID:    a,
		CandidateID: b,
		MatchType:   mt,
	})
}

// Merge confirms a pending candidate: survivorID absorbs the other
// design's sources, files, tags, previews and import records; the loser is
// soft-deleted and every other pending pair touching it is rejected.
func (s *Service) Merge(ctx context.Context, candidateID, survivorID string) error {
	cand, err := s.store.GetDuplicateCandidate(ctx, s.store.DB(), candidateID)
	if err != nil {
		return err
	}
	if cand.Status != catalog.CandidatePending {
		return cerrors.E(cerrors.KindConflict, "duplicate candidate is already resolved")
	}
	var loserID string
	switch survivorID {
	case cand.DesignID:
		loserID = cand.CandidateID
	case cand.CandidateID:
		loserID = cand.DesignID
	case "":
		// default: the older design survives
		survivorID, loserID = cand.CandidateID, cand.DesignID
	default:
		return cerrors.E(cerrors.KindValidation, "survivor must be one of the candidate pair")
	}

	survivor, err := s.store.GetDesign(ctx, s.store.DB(), survivorID)
	if err != nil {
		return err
	}
	loser, err := s.store.GetDesign(ctx, s.store.DB(), loserID)
	if err != nil {
		return err
	}
	if survivor.Status == catalog.StatusDeleted || loser.Status == catalog.StatusDeleted {
		return cerrors.E(cerrors.KindConflict, "cannot merge a deleted design")
	}

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.ReassignDesignRefs(ctx, tx, loserID, survivorID); err != nil {
			return err
		}
		// external metadata moves when the survivor has none
		if survivor.ExternalID == nil && loser.ExternalID != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE designs SET external_provider = NULL, external_id = NULL WHERE id = $1`,
				loserID); err != nil {
				return err
			}
			if err := s.store.SetDesignExternalRef(ctx, tx, survivorID,
				*loser.ExternalProvider, *loser.ExternalID, loser.ExternalMeta); err != nil {
				return err
			}
		}
		if _, err := s.store.AdvanceDesignStatus(ctx, tx, loserID, catalog.StatusDeleted); err != nil {
			return err
		}
		if err := s.store.DetachDesignFromFamily(ctx, tx, loserID); err != nil {
			return err
		}
		if err := s.store.SetCandidateStatus(ctx, tx, candidateID, catalog.CandidateMerged); err != nil {
			return err
		}
		if err := s.store.ResolveCandidatesInvolving(ctx, tx, loserID, catalog.CandidateRejected); err != nil {
			return err
		}
		return s.store.RecomputeDesignTotals(ctx, tx, survivorID)
	})
	if err != nil {
		return err
	}

	s.bus.Publish(events.TypeDesignStatusChanged, map[string]string{
		"id":     loserID,
		"status": string(catalog.StatusDeleted),
		"reason": "merged",
	})
	s.log.Info("designs merged",
		zap.String("survivor", survivorID), zap.String("merged", loserID))
	return nil
}

// Reject dismisses a pending candidate without merging.
func (s *Service) Reject(ctx context.Context, candidateID string) error {
	return s.store.SetCandidateStatus(ctx, s.store.DB(), candidateID, catalog.CandidateRejected)
}
