// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/queue"
)

func (s *Server) handleListDesigns(w http.ResponseWriter, r *http.Request) {
	pageNum, perPage := pagination(r)
	q := r.URL.Query()
	f := catalog.DesignFilter{
		Status:     catalog.DesignStatus(q.Get("status")),
		ChannelID:  q.Get("channel_id"),
		TagName:    q.Get("tag"),
		FamilyID:   q.Get("family_id"),
		Multicolor: catalog.Multicolor(q.Get("multicolor")),
		Designer:   q.Get("designer"),
		Query:      q.Get("q"),
		Sort:       q.Get("sort"),
		Page:       pageNum,
		PerPage:    perPage,
	}
	designs, total, err := s.store.ListDesigns(r.Context(), s.store.DB(), f)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(designs, total, pageNum, perPage))
}

// designDetail is a design with its relations expanded.
type designDetail struct {
	*catalog.Design
	Sources    []catalog.DesignSource      `json:"sources"`
	Files      []catalog.DesignFile        `json:"files"`
	Tags       []catalog.TagAssignment     `json:"tags"`
	Previews   []catalog.PreviewAsset      `json:"previews"`
	Candidates []catalog.DuplicateCandidate `json:"duplicate_candidates"`
}

func (s *Server) handleGetDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db := s.store.DB()
	d, err := s.store.GetDesign(ctx, db, chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	detail := designDetail{Design: d}
	if detail.Sources, err = s.store.SourcesForDesign(ctx, db, d.ID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if detail.Files, err = s.store.FilesForDesign(ctx, db, d.ID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if detail.Tags, err = s.store.TagsForDesign(ctx, db, d.ID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if detail.Previews, err = s.store.PreviewsForDesign(ctx, db, d.ID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if detail.Candidates, err = s.store.CandidatesForDesign(ctx, db, d.ID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

// handleUpdateDesign overrides the title/designer. User edits take
// metadata authority; later source syncs no longer overwrite them.
func (s *Server) handleUpdateDesign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Title    *string `json:"title"`
		Designer *string `json:"designer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if req.Title == nil && req.Designer == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "nothing to update"))
		return
	}
	if req.Title != nil && *req.Title == "" {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "title cannot be empty"))
		return
	}
	if err := s.store.UpdateDesignMetadata(r.Context(), s.store.DB(), id, req.Title, req.Designer, catalog.AuthorityUser); err != nil {
		s.respondErr(w, r, err)
		return
	}
	d, err := s.store.GetDesign(r.Context(), s.store.DB(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleDownloadDesign queues a user-triggered download at top priority.
func (s *Server) handleDownloadDesign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDesign(r.Context(), s.store.DB(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	created, err := s.ingest.EnqueueDownload(r.Context(), id, queue.PriorityMax)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	s.respondJSON(w, status, map[string]bool{"queued": created})
}

// handleSetMulticolor applies a user override of the multicolor flag.
func (s *Server) handleSetMulticolor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Multicolor string `json:"multicolor" validate:"required,oneof=UNKNOWN SINGLE MULTI"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid multicolor value", err))
		return
	}
	applied, err := s.store.SetMulticolor(r.Context(), s.store.DB(), id,
		catalog.Multicolor(req.Multicolor), catalog.MulticolorFromUser)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *Server) handleListDuplicates(w http.ResponseWriter, r *http.Request) {
	pageNum, perPage := pagination(r)
	status := catalog.CandidateStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = catalog.CandidatePending
	}
	candidates, total, err := s.store.ListDuplicateCandidates(r.Context(), s.store.DB(), status, pageNum, perPage)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(candidates, total, pageNum, perPage))
}

// handleMergeDuplicate merges a candidate pair into the chosen survivor.
func (s *Server) handleMergeDuplicate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		SurvivorID string `json:"survivor_id" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "survivor_id is required", err))
		return
	}
	if err := s.dedupe.Merge(r.Context(), id, req.SurvivorID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"survivor_id": req.SurvivorID})
}

// handleRejectDuplicate marks a candidate pair as not-a-duplicate, which
// suppresses it from future reconciliation.
func (s *Server) handleRejectDuplicate(w http.ResponseWriter, r *http.Request) {
	if err := s.dedupe.Reject(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
