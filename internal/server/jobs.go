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

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	pageNum, perPage := pagination(r)
	q := r.URL.Query()
	f := catalog.JobFilter{
		Status:    catalog.JobStatus(q.Get("status")),
		Kind:      catalog.JobKind(q.Get("kind")),
		DesignID:  q.Get("design_id"),
		ChannelID: q.Get("channel_id"),
		Active:    q.Get("active") == "true",
		Page:      pageNum,
		PerPage:   perPage,
	}
	jobs, total, err := s.store.ListJobs(r.Context(), s.store.DB(), f)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(jobs, total, pageNum, perPage))
}

// handleJobActivity returns the most recently touched jobs for the
// dashboard feed.
func (s *Server) handleJobActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	jobs, err := s.store.RecentJobActivity(r.Context(), s.store.DB(), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

// handleCancelJob requests cancellation. A queued job cancels immediately;
// a running one is flagged and finalised by its worker at the next
// heartbeat.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]bool{"cancel_requested": true})
}

func (s *Server) handleSetJobPriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority *int `json:"priority" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if req.Priority == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "priority is required"))
		return
	}
	if *req.Priority < queue.PriorityManual || *req.Priority > queue.PriorityMax {
		s.respondErr(w, r, cerrors.Ef(cerrors.KindValidation,
			"priority must be between %d and %d", queue.PriorityManual, queue.PriorityMax))
		return
	}
	if err := s.queue.SetPriority(r.Context(), chi.URLParam(r, "id"), *req.Priority); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"priority": *req.Priority})
}

// handleRetryJob returns a failed or canceled job to the queue with a
// fresh attempt budget.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}
