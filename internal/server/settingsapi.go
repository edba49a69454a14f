// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/settings"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": all})
}

func (s *Server) handleSettingsSchema(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": settings.Schema()})
}

// handlePutSetting writes one setting value. The body is the raw JSON
// value; type and bounds come from the schema.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var value json.RawMessage
	// accept both a bare value and a {"value": ...} wrapper
	var wrapped struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Value != nil {
		value = wrapped.Value
	} else if json.Valid(raw) {
		value = raw
	} else {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "malformed setting value"))
		return
	}
	if err := s.settings.Put(r.Context(), key, value); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

// handleDeleteSetting reverts one setting to its default.
func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// handleResetSettings reverts every setting to its default.
func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Reset(r.Context()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
