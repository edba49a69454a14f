// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

func TestNewPage(t *testing.T) {
	t.Run("exact fit", func(t *testing.T) {
		p := newPage(nil, 100, 1, 50)
		assert.EqualValues(t, 2, p.Pages)
	})

	t.Run("partial last page", func(t *testing.T) {
		p := newPage(nil, 101, 3, 50)
		assert.EqualValues(t, 3, p.Pages)
		assert.Equal(t, 3, p.Page)
	})

	t.Run("empty result", func(t *testing.T) {
		p := newPage(nil, 0, 1, 50)
		assert.EqualValues(t, 0, p.Pages)
	})
}

func TestPagination(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		page    int
		perPage int
	}{
		{"defaults", "", 1, 50},
		{"explicit", "page=3&page_size=25", 3, 25},
		{"zero page clamps", "page=0", 1, 50},
		{"oversize clamps", "page_size=1000", 1, 200},
		{"garbage falls back", "page=abc&page_size=xyz", 1, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/designs?"+tc.query, nil)
			page, perPage := pagination(r)
			assert.Equal(t, tc.page, page)
			assert.Equal(t, tc.perPage, perPage)
		})
	}
}

func TestQueryBool(t *testing.T) {
	r := httptest.NewRequest("GET", "/?a=true&b=false&c=maybe", nil)
	if v := queryBool(r, "a"); assert.NotNil(t, v) {
		assert.True(t, *v)
	}
	if v := queryBool(r, "b"); assert.NotNil(t, v) {
		assert.False(t, *v)
	}
	assert.Nil(t, queryBool(r, "c"))
	assert.Nil(t, queryBool(r, "missing"))
}

func TestRespondErr(t *testing.T) {
	s := &Server{log: zap.NewNop()}

	t.Run("classified error maps kind and message", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/v1/designs/9", nil)
		s.respondErr(w, r, cerrors.E(cerrors.KindNotFound, "design not found"))

		assert.Equal(t, 404, w.Code)
		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body.Error)
		assert.Equal(t, "design not found", body.Message)
	})

	t.Run("rate limit carries retry-after", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/", nil)
		s.respondErr(w, r, &cerrors.Error{
			Kind: cerrors.KindRateLimited, Message: "upstream flood wait", RetryAfter: 42,
		})

		assert.Equal(t, 429, w.Code)
		assert.Equal(t, "42", w.Header().Get("Retry-After"))
		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 42, body.RetryAfter)
	})

	t.Run("unclassified error never leaks its cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/", nil)
		s.respondErr(w, r, errors.New("pq: secret connection string"))

		assert.Equal(t, 500, w.Code)
		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "internal error", body.Message)
		assert.NotContains(t, w.Body.String(), "secret")
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"title":"Dragon"}`))
		var p payload
		require.NoError(t, decodeJSON(r, &p))
		assert.Equal(t, "Dragon", p.Title)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"title":"x","bogus":1}`))
		var p payload
		err := decodeJSON(r, &p)
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{`))
		var p payload
		err := decodeJSON(r, &p)
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}
