// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package retryclass decides whether a failed job runs again and when.
// Classification prefers the structured error kind and falls back to
// scanning the message for well-known failure phrases.
package retryclass

import (
	"errors"
	"strings"
	"time"

	"github.com/printarr/printarr/internal/cerrors"
)

// Class buckets a failure for retry purposes.
type Class int

const (
	// ClassPermanent failures never retry: bad input, missing upstream
	// content, password-protected or corrupt archives.
	ClassPermanent Class = iota
	// ClassTransient failures retry on the delay ladder: network errors,
	// timeouts, upstream 5xx, rate limits.
	ClassTransient
	// ClassUnknown failures get exactly one extra attempt.
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// delays is the saturating backoff ladder. Attempt n (1-based) that fails
// waits delays[min(n, len)-1] before running again.
var delays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

var permanentPhrases = []string{
	"not found", "404", "unauthorized", "403", "duplicate", "malformed",
	"corrupt", "password protected", "permission denied", "unsupported",
	"missing part", "invalid",
}

var transientPhrases = []string{
	"timeout", "timed out", "connection", "network", "429", "502", "503",
	"504", "rate limit", "throttl", "busy", "overload", "unexpected eof",
	"broken pipe", "temporarily", "circuit breaker is open",
}

// Classify buckets an error. Structured kinds win; otherwise the message
// decides, permanent phrases first; anything unrecognised is unknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	switch cerrors.KindOf(err) {
	case cerrors.KindTransient, cerrors.KindRateLimited:
		return ClassTransient
	case cerrors.KindPermanent, cerrors.KindValidation, cerrors.KindNotFound,
		cerrors.KindConflict, cerrors.KindAuthFailed, cerrors.KindUpstream:
		// upstream means the remote failed in a classified-permanent way
		return ClassPermanent
	}
	msg := strings.ToLower(err.Error())
	for _, p := range permanentPhrases {
		if strings.Contains(msg, p) {
			return ClassPermanent
		}
	}
	for _, p := range transientPhrases {
		if strings.Contains(msg, p) {
			return ClassTransient
		}
	}
	return ClassUnknown
}

// Delay returns the wait before the next run after `attempts` completed
// attempts, saturating at the top of the ladder.
func Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(delays) {
		attempts = len(delays)
	}
	return delays[attempts-1]
}

// NextRetry decides the follow-up for a failed attempt. It returns the time
// of the next run, or nil when the job must fail for good. attempts counts
// runs already consumed, including the failing one. A rate-limited error
// carrying its own retry-after overrides the ladder.
func NextRetry(err error, attempts, maxAttempts int, now time.Time) *time.Time {
	if attempts >= maxAttempts {
		return nil
	}
	switch Classify(err) {
	case ClassPermanent:
		return nil
	case ClassUnknown:
		// one bonus attempt, then give up
		if attempts >= 2 {
			return nil
		}
	}
	d := Delay(attempts)
	var ce *cerrors.Error
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		d = time.Duration(ce.RetryAfter) * time.Second
	}
	t := now.Add(d)
	return &t
}
