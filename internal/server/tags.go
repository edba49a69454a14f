// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
)

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context(), s.store.DB())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": tags})
}

// handleAssignTag attaches a tag to a design by name, creating the tag row
// if it does not exist yet. User assignments outrank automatic ones in the
// family aggregation.
func (s *Server) handleAssignTag(w http.ResponseWriter, r *http.Request) {
	designID := chi.URLParam(r, "id")
	var req struct {
		Name string `json:"name" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	name := strings.TrimSpace(strings.ToLower(req.Name))
	if name == "" {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "tag name is required"))
		return
	}
	if _, err := s.store.GetDesign(r.Context(), s.store.DB(), designID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	tag, err := s.store.EnsureTag(r.Context(), s.store.DB(), name)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.store.AssignTag(r.Context(), s.store.DB(), designID, tag.ID, catalog.TagFromUser); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleUnassignTag(w http.ResponseWriter, r *http.Request) {
	designID := chi.URLParam(r, "id")
	tagID := chi.URLParam(r, "tagID")
	if err := s.store.UnassignTag(r.Context(), s.store.DB(), designID, tagID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
