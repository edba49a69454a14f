// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printarr/printarr/internal/cerrors"
)

func (s *Server) handleListFamilies(w http.ResponseWriter, r *http.Request) {
	pageNum, perPage := pagination(r)
	families, total, err := s.store.ListFamilies(r.Context(), s.store.DB(), pageNum, perPage)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(families, total, pageNum, perPage))
}

func (s *Server) handleGetFamily(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fam, err := s.store.GetFamily(r.Context(), s.store.DB(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	members, err := s.store.FamilyMembers(r.Context(), s.store.DB(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	tags, err := s.store.TagsForFamily(r.Context(), s.store.DB(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"family": fam, "members": members, "tags": tags,
	})
}

func (s *Server) handleRenameFamily(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name string `json:"name" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "family name is required"))
		return
	}
	if err := s.store.RenameFamily(r.Context(), s.store.DB(), id, name); err != nil {
		s.respondErr(w, r, err)
		return
	}
	fam, err := s.store.GetFamily(r.Context(), s.store.DB(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, fam)
}

// handleAssignFamilyMember manually adds a design to a family, then
// refreshes the family tag aggregation.
func (s *Server) handleAssignFamilyMember(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "id")
	var req struct {
		DesignID string  `json:"design_id" validate:"required"`
		Variant  *string `json:"variant"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if req.DesignID == "" {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "design_id is required"))
		return
	}
	if _, err := s.store.GetFamily(r.Context(), s.store.DB(), familyID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if _, err := s.store.GetDesign(r.Context(), s.store.DB(), req.DesignID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.store.AssignDesignToFamily(r.Context(), s.store.DB(), req.DesignID, familyID, req.Variant); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.family.AggregateTags(r.Context(), familyID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"family_id": familyID, "design_id": req.DesignID})
}

// handleDetachFamilyMember removes a design from its family. Families are
// left in place even when detaching empties them; a later detection run
// may refill them.
func (s *Server) handleDetachFamilyMember(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "id")
	designID := chi.URLParam(r, "designID")
	d, err := s.store.GetDesign(r.Context(), s.store.DB(), designID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if d.FamilyID == nil || *d.FamilyID != familyID {
		s.respondErr(w, r, cerrors.E(cerrors.KindConflict, "design is not a member of this family"))
		return
	}
	if err := s.store.DetachDesignFromFamily(r.Context(), s.store.DB(), designID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.family.AggregateTags(r.Context(), familyID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
