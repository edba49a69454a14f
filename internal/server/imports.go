// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/profiles"
	"github.com/printarr/printarr/internal/queue"
)

func (s *Server) handleListImportSources(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	sources, err := s.store.ListImportSources(r.Context(), s.store.DB(), enabledOnly)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": sources})
}

type importSourceRequest struct {
	Name            string  `json:"name" validate:"required"`
	Kind            string  `json:"kind" validate:"required,oneof=DRIVE FORUM LOCAL UPLOAD"`
	DesignerDefault *string `json:"designer_default"`
	ProfileID       *string `json:"profile_id"`
}

// handleCreateImportSource creates the source and its virtual channel in
// one transaction; every import source is addressed through a channel so
// the sync pipeline has a single entry shape.
func (s *Server) handleCreateImportSource(w http.ResponseWriter, r *http.Request) {
	var req importSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid import source", err))
		return
	}
	src := &catalog.ImportSource{
		Name:            req.Name,
		Kind:            catalog.ImportSourceKind(req.Kind),
		Enabled:         true,
		DesignerDefault: req.DesignerDefault,
		ProfileID:       req.ProfileID,
	}
	err := s.store.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := s.store.CreateImportSource(r.Context(), tx, src); err != nil {
			return err
		}
		ch := &catalog.Channel{
			Kind:           catalog.ChannelVirtual,
			Title:          src.Name,
			Enabled:        true,
			BackfillMode:   catalog.BackfillAllHistory,
			DownloadMode:   catalog.DownloadManual,
			ImportSourceID: &src.ID,
		}
		return s.store.CreateChannel(r.Context(), tx, ch)
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, src)
}

func (s *Server) handleGetImportSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetImportSource(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	folders, err := s.store.FoldersForSource(r.Context(), s.store.DB(), src.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"source": src, "folders": folders,
	})
}

func (s *Server) handleUpdateImportSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetImportSource(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req struct {
		Name            *string `json:"name"`
		Enabled         *bool   `json:"enabled"`
		DesignerDefault *string `json:"designer_default"`
		ProfileID       *string `json:"profile_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "name cannot be empty"))
			return
		}
		src.Name = *req.Name
	}
	if req.Enabled != nil {
		src.Enabled = *req.Enabled
	}
	if req.DesignerDefault != nil {
		src.DesignerDefault = req.DesignerDefault
	}
	if req.ProfileID != nil {
		src.ProfileID = req.ProfileID
	}
	if err := s.store.UpdateImportSource(r.Context(), s.store.DB(), src); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, src)
}

func (s *Server) handleDeleteImportSource(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteImportSource(r.Context(), s.store.DB(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// handleSyncImportSource queues a sync of the source's virtual channel.
func (s *Server) handleSyncImportSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetImportSource(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	ch, err := s.store.GetChannelByImportSource(r.Context(), s.store.DB(), src.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	job, created, err := s.queue.Enqueue(r.Context(), catalog.JobSyncChannelLive, queue.Options{
		Priority:    queue.PriorityManual,
		ChannelID:   ch.ID,
		DisplayName: "Sync " + src.Name,
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

// handleImportHistory lists per-file import records for a source.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	pageNum, perPage := pagination(r)
	f := catalog.ImportRecordFilter{
		SourceID: chi.URLParam(r, "id"),
		FolderID: r.URL.Query().Get("folder_id"),
		Status:   catalog.ImportRecordStatus(r.URL.Query().Get("status")),
		Page:     pageNum,
		PerPage:  perPage,
	}
	records, total, err := s.store.ListImportRecords(r.Context(), s.store.DB(), f)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(records, total, pageNum, perPage))
}

func (s *Server) handleAddImportFolder(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	if _, err := s.store.GetImportSource(r.Context(), s.store.DB(), sourceID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req struct {
		Location         string          `json:"location" validate:"required"`
		MaxDepth         int             `json:"max_depth" validate:"gte=0,lte=10"`
		ProfileID        *string         `json:"profile_id"`
		DesignerOverride *string         `json:"designer_override"`
		TagDefaults      json.RawMessage `json:"tag_defaults"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid folder", err))
		return
	}
	folder := &catalog.ImportSourceFolder{
		SourceID:         sourceID,
		Location:         req.Location,
		MaxDepth:         req.MaxDepth,
		ProfileID:        req.ProfileID,
		DesignerOverride: req.DesignerOverride,
		TagDefaults:      req.TagDefaults,
		Enabled:          true,
	}
	if err := s.store.AddImportFolder(r.Context(), s.store.DB(), folder); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleDeleteImportFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteImportFolder(r.Context(), s.store.DB(), chi.URLParam(r, "folderID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListImportProfiles(r.Context(), s.store.DB())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": rows})
}

type profileRequest struct {
	Name   string          `json:"name" validate:"required"`
	Config json.RawMessage `json:"config" validate:"required"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid profile", err))
		return
	}
	if _, err := profiles.Parse(req.Config); err != nil {
		s.respondErr(w, r, err)
		return
	}
	p := &catalog.ImportProfile{Name: req.Name, Config: req.Config}
	if err := s.store.CreateImportProfile(r.Context(), s.store.DB(), p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetImportProfile(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetImportProfile(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if p.IsBuiltin {
		s.respondErr(w, r, cerrors.E(cerrors.KindConflict, "built-in profiles cannot be modified"))
		return
	}
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid profile", err))
		return
	}
	if _, err := profiles.Parse(req.Config); err != nil {
		s.respondErr(w, r, err)
		return
	}
	p.Name = req.Name
	p.Config = req.Config
	if err := s.store.UpdateImportProfile(r.Context(), s.store.DB(), p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetImportProfile(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if p.IsBuiltin {
		s.respondErr(w, r, cerrors.E(cerrors.KindConflict, "built-in profiles cannot be deleted"))
		return
	}
	if err := s.store.DeleteImportProfile(r.Context(), s.store.DB(), p.ID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
