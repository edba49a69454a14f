// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cerrors defines the error taxonomy shared by the pipeline, the
// adapters, and the HTTP layer. Workers classify errors by Kind to decide
// between retry and terminal failure; HTTP handlers map Kind to a status
// code.
package cerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and HTTP mapping decisions.
type Kind string

const (
	// KindValidation is bad input. Never retried. HTTP 400.
	KindValidation Kind = "validation"
	// KindNotFound is a missing entity. HTTP 404.
	KindNotFound Kind = "not_found"
	// KindConflict is a duplicate-key or state conflict. HTTP 409.
	KindConflict Kind = "conflict"
	// KindAuthRequired means credentials are missing. HTTP 401.
	KindAuthRequired Kind = "auth_required"
	// KindAuthFailed means credentials were rejected. HTTP 403.
	KindAuthFailed Kind = "auth_failed"
	// KindRateLimited means an upstream asked us to back off. HTTP 429.
	KindRateLimited Kind = "rate_limited"
	// KindUpstream is a permanent failure of an upstream source. HTTP 502.
	KindUpstream Kind = "upstream"
	// KindTransient is a network/timeout class failure, retried by workers.
	KindTransient Kind = "transient"
	// KindPermanent is a terminal job failure (corrupt archive, missing
	// file, malformed input).
	KindPermanent Kind = "permanent"
	// KindInternal is everything else. HTTP 500.
	KindInternal Kind = "internal"
)

// Error is a classified error with an operator-facing message.
type Error struct {
	Kind Kind
	// Message is safe to surface to API clients.
	Message string
	// RetryAfter carries the upstream's requested delay in seconds, when
	// known (rate limiting only).
	RetryAfter int
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error. The final argument may be an error to wrap.
func E(kind Kind, msg string, cause ...error) *Error {
	e := &Error{Kind: kind, Message: msg}
	if len(cause) > 0 {
		e.Err = cause[0]
	}
	return e
}

// Ef builds a classified error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it as the cause. A nil err
// yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain. Unclassified
// errors report KindInternal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the response status code used by the API layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindAuthFailed:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a job failing with err should be eligible for
// retry scheduling. Transient and rate-limited errors retry; validation,
// permanent, auth and not-found errors do not. Unclassified errors return
// false here — the keyword fallback in the retry service still gets a say.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// Common sentinels shared across subsystems.
var (
	// ErrNotFound is returned by store lookups that match no row.
	ErrNotFound = E(KindNotFound, "not found")

	// ErrCanceled is returned by workers that observed job cancellation.
	ErrCanceled = errors.New("job canceled")
)
