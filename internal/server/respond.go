// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

// errorBody is the wire shape of every API error.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// page is the wire shape of every paginated listing.
type page struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int64       `json:"pages"`
}

func newPage(items interface{}, total int64, pageNum, perPage int) page {
	if perPage < 1 {
		perPage = 1
	}
	pages := (total + int64(perPage) - 1) / int64(perPage)
	return page{Items: items, Total: total, Page: pageNum, PageSize: perPage, Pages: pages}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("response encoding failed", zap.Error(err))
	}
}

// respondErr maps a classified error onto the API error shape. Internal
// causes are logged but never leaked to the client.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := cerrors.KindOf(err)
	status := cerrors.HTTPStatus(kind)

	body := errorBody{Error: string(kind)}
	var ce *cerrors.Error
	if errors.As(err, &ce) {
		body.Message = ce.Message
		if ce.RetryAfter > 0 {
			body.RetryAfter = ce.RetryAfter
			w.Header().Set("Retry-After", strconv.Itoa(ce.RetryAfter))
		}
	} else {
		body.Message = "internal error"
	}
	if status >= 500 {
		s.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Error(err))
		if body.Message == "" {
			body.Message = "internal error"
		}
	}
	s.respondJSON(w, status, body)
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return cerrors.E(cerrors.KindValidation, "malformed request body", err)
	}
	return nil
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// queryBool parses an optional tri-state boolean query parameter.
func queryBool(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// pagination extracts page/page_size with the API defaults.
func pagination(r *http.Request) (pageNum, perPage int) {
	pageNum = queryInt(r, "page", 1)
	if pageNum < 1 {
		pageNum = 1
	}
	perPage = queryInt(r, "page_size", 50)
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}
	return pageNum, perPage
}
