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

// handleMetadataSearch queries the external catalogue for matches to a
// design, defaulting the query to the design's current title.
func (s *Server) handleMetadataSearch(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindNotFound, "no metadata provider configured"))
		return
	}
	d, err := s.store.GetDesign(r.Context(), s.store.DB(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		query = d.Title()
	}
	results, err := s.metadata.Search(r.Context(), query)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider": s.metadata.Name(), "query": query, "items": results,
	})
}

// handleMetadataLink binds a design to an external catalogue entry. The
// external title/designer become canonical unless the user has already
// overridden them; a second design linked to the same entry surfaces as a
// duplicate candidate.
func (s *Server) handleMetadataLink(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindNotFound, "no metadata provider configured"))
		return
	}
	id := chi.URLParam(r, "id")
	var req struct {
		ExternalID string `json:"external_id" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if req.ExternalID == "" {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "external_id is required"))
		return
	}
	d, err := s.store.GetDesign(r.Context(), s.store.DB(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	entry, err := s.metadata.Fetch(r.Context(), req.ExternalID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	db := s.store.DB()
	existing, err := s.store.FindDesignByExternalRef(r.Context(), db, s.metadata.Name(), req.ExternalID)
	if err != nil && !cerrors.IsKind(err, cerrors.KindNotFound) {
		s.respondErr(w, r, err)
		return
	}

	if err := s.store.SetDesignExternalRef(r.Context(), db, id, s.metadata.Name(), req.ExternalID, entry.Raw); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if d.MetadataAuthority != catalog.AuthorityUser && entry.Title != "" {
		designer := entry.Designer
		if designer == "" {
			designer = d.Designer()
		}
		if err := s.store.SetCanonicalMetadata(r.Context(), db, id, entry.Title, designer, catalog.AuthorityExternal); err != nil {
			s.respondErr(w, r, err)
			return
		}
	}
	if existing != nil && existing.ID != id {
		if err := s.dedupe.RecordExternalID(r.Context(), db, id, existing.ID); err != nil {
			s.respondErr(w, r, err)
			return
		}
	}

	d, err = s.store.GetDesign(r.Context(), db, id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}
