// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package retryclass

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printarr/printarr/internal/cerrors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"structured transient", cerrors.E(cerrors.KindTransient, "dial failed"), ClassTransient},
		{"structured rate limited", cerrors.E(cerrors.KindRateLimited, "slow down"), ClassTransient},
		{"structured permanent", cerrors.E(cerrors.KindPermanent, "archive is corrupt"), ClassPermanent},
		{"structured validation", cerrors.E(cerrors.KindValidation, "bad input"), ClassPermanent},
		{"structured not found", cerrors.E(cerrors.KindNotFound, "gone"), ClassPermanent},
		{"keyword timeout", errors.New("read tcp: i/o timeout"), ClassTransient},
		{"keyword 503", errors.New("upstream returned 503"), ClassTransient},
		{"keyword breaker", errors.New("chat: circuit breaker is open"), ClassTransient},
		{"keyword 404", errors.New("file 404"), ClassPermanent},
		{"keyword password", errors.New("archive is password protected"), ClassPermanent},
		{"permanent phrase wins over transient", errors.New("connection refused: unauthorized"), ClassPermanent},
		{"unrecognised", errors.New("something odd happened"), ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestDelayLadder(t *testing.T) {
	assert.Equal(t, time.Minute, Delay(0))
	assert.Equal(t, time.Minute, Delay(1))
	assert.Equal(t, 5*time.Minute, Delay(2))
	assert.Equal(t, 15*time.Minute, Delay(3))
	assert.Equal(t, 60*time.Minute, Delay(4))
	// saturates at the top
	assert.Equal(t, 60*time.Minute, Delay(9))
}

func TestNextRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("transient schedules on the ladder", func(t *testing.T) {
		at := NextRetry(cerrors.E(cerrors.KindTransient, "timeout"), 2, 4, now)
		require.NotNil(t, at)
		assert.Equal(t, now.Add(5*time.Minute), *at)
	})

	t.Run("permanent never retries", func(t *testing.T) {
		assert.Nil(t, NextRetry(cerrors.E(cerrors.KindPermanent, "corrupt"), 1, 4, now))
	})

	t.Run("unknown gets one bonus attempt", func(t *testing.T) {
		first := NextRetry(errors.New("weird"), 1, 4, now)
		require.NotNil(t, first)
		assert.Nil(t, NextRetry(errors.New("weird"), 2, 4, now))
	})

	t.Run("attempt budget exhausted", func(t *testing.T) {
		assert.Nil(t, NextRetry(cerrors.E(cerrors.KindTransient, "timeout"), 4, 4, now))
	})

	t.Run("retry-after overrides the ladder", func(t *testing.T) {
		err := &cerrors.Error{Kind: cerrors.KindRateLimited, Message: "429", RetryAfter: 30}
		at := NextRetry(err, 1, 4, now)
		require.NotNil(t, at)
		assert.Equal(t, now.Add(30*time.Second), *at)
	})
}
