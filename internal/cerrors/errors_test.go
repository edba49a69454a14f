// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		assert.Equal(t, KindValidation, KindOf(E(KindValidation, "bad input")))
	})

	t.Run("through fmt wrapping", func(t *testing.T) {
		inner := E(KindNotFound, "missing design")
		outer := fmt.Errorf("load design: %w", inner)
		assert.Equal(t, KindNotFound, KindOf(outer))
	})

	t.Run("unclassified is internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil is nil", func(t *testing.T) {
		assert.Nil(t, Wrap(KindTransient, "whatever", nil))
	})

	t.Run("preserves the cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(KindTransient, "fetch failed", cause)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "fetch failed: connection reset", err.Error())
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:   http.StatusBadRequest,
		KindNotFound:     http.StatusNotFound,
		KindConflict:     http.StatusConflict,
		KindAuthRequired: http.StatusUnauthorized,
		KindAuthFailed:   http.StatusForbidden,
		KindRateLimited:  http.StatusTooManyRequests,
		KindUpstream:     http.StatusBadGateway,
		KindTransient:    http.StatusInternalServerError,
		KindPermanent:    http.StatusInternalServerError,
		KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(E(KindTransient, "timeout")))
	assert.True(t, Retryable(E(KindRateLimited, "flood wait")))
	assert.False(t, Retryable(E(KindPermanent, "corrupt archive")))
	assert.False(t, Retryable(E(KindValidation, "bad input")))
	assert.False(t, Retryable(errors.New("plain")))
}
