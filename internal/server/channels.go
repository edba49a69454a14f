// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/queue"
)

var validate = validator.New()

type channelRequest struct {
	Kind          string `json:"kind" validate:"omitempty,oneof=CHAT VIRTUAL"`
	UpstreamID    *int64 `json:"upstream_id"`
	Title         string `json:"title" validate:"required"`
	Enabled       *bool  `json:"enabled"`
	BackfillMode  string `json:"backfill_mode" validate:"omitempty,oneof=ALL_HISTORY LAST_N_MESSAGES LAST_N_DAYS"`
	BackfillValue int    `json:"backfill_value" validate:"gte=0"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	pageNum, perPage := pagination(r)
	f := catalog.ChannelFilter{
		Kind:    catalog.ChannelKind(r.URL.Query().Get("kind")),
		Enabled: queryBool(r, "enabled"),
		Page:    pageNum,
		PerPage: perPage,
	}
	channels, total, err := s.store.ListChannels(r.Context(), s.store.DB(), f)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(channels, total, pageNum, perPage))
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid channel", err))
		return
	}
	ch := &catalog.Channel{
		Kind:          catalog.ChannelChat,
		UpstreamID:    req.UpstreamID,
		Title:         req.Title,
		Enabled:       true,
		BackfillMode:  catalog.BackfillAllHistory,
		BackfillValue: req.BackfillValue,
		DownloadMode:  catalog.DownloadManual,
	}
	if req.Kind != "" {
		ch.Kind = catalog.ChannelKind(req.Kind)
	}
	if req.BackfillMode != "" {
		ch.BackfillMode = catalog.BackfillMode(req.BackfillMode)
	}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	if ch.Kind == catalog.ChannelChat && req.UpstreamID == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "chat channel requires upstream_id"))
		return
	}
	if err := s.store.CreateChannel(r.Context(), s.store.DB(), ch); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.store.GetChannel(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ch)
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.store.GetChannel(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req struct {
		Title         *string `json:"title"`
		Enabled       *bool   `json:"enabled"`
		BackfillMode  *string `json:"backfill_mode" validate:"omitempty,oneof=ALL_HISTORY LAST_N_MESSAGES LAST_N_DAYS"`
		BackfillValue *int    `json:"backfill_value" validate:"omitempty,gte=0"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid channel update", err))
		return
	}
	if req.Title != nil {
		ch.Title = *req.Title
	}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	if req.BackfillMode != nil {
		ch.BackfillMode = catalog.BackfillMode(*req.BackfillMode)
	}
	if req.BackfillValue != nil {
		ch.BackfillValue = *req.BackfillValue
	}
	if err := s.store.UpdateChannel(r.Context(), s.store.DB(), ch); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ch)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChannel(r.Context(), s.store.DB(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// handleBackfillChannel queues a history backfill. The enqueue is
// idempotent per channel; a second trigger while one is pending returns the
// existing job.
func (s *Server) handleBackfillChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.store.GetChannel(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	job, created, err := s.queue.Enqueue(r.Context(), catalog.JobBackfillChannel, queue.Options{
		Priority:    queue.PriorityManual,
		ChannelID:   ch.ID,
		DisplayName: "Backfill " + ch.Title,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	s.respondJSON(w, status, job)
}

// handleBackfillStatus reports the active backfill job, if any.
func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.FindActiveJob(r.Context(), s.store.DB(), catalog.JobBackfillChannel, "", id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if job == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"active": true, "job": job})
}

// handleSetDownloadMode switches a channel's download mode. Switching to
// DOWNLOAD_ALL queues every undownloaded design already in the channel.
func (s *Server) handleSetDownloadMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Mode string `json:"mode" validate:"required,oneof=MANUAL DOWNLOAD_ALL_NEW DOWNLOAD_ALL"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid download mode", err))
		return
	}
	mode := catalog.DownloadMode(req.Mode)
	if err := s.store.SetChannelDownloadMode(r.Context(), s.store.DB(), id, mode); err != nil {
		s.respondErr(w, r, err)
		return
	}
	queued := 0
	if mode == catalog.DownloadAll {
		n, err := s.ingest.EnqueueChannelBacklog(r.Context(), id)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		queued = n
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"mode": mode, "queued": queued})
}

// handleChannelCalendar returns per-day message counts for the calendar
// heatmap.
func (s *Server) handleChannelCalendar(w http.ResponseWriter, r *http.Request) {
	s.respondCalendar(w, r, chi.URLParam(r, "id"))
}

// respondCalendar serves the heatmap for one channel, or for all channels
// when id is empty.
func (s *Server) respondCalendar(w http.ResponseWriter, r *http.Request, id string) {
	to := time.Now().UTC()
	from := to.AddDate(0, -12, 0)
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			from = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			to = t
		}
	}
	days, err := s.store.MessageDates(r.Context(), s.store.DB(), id, from, to)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"days": days})
}
