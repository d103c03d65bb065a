package model

import (
	"context"
	"errors"
)

// Sentinel errors for the domain error taxonomy. Callers classify failures
// with errors.Is; wrapping sites add context with fmt.Errorf("...: %w", err).
var (
	// ErrNotFound — the referenced record or trace does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — the requested transition is illegal for the record's
	// current status (e.g. resolving an already-resolved escalation).
	// The record is left unchanged.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation — malformed caller input. Surfaced immediately, no retry.
	ErrValidation = errors.New("invalid input")

	// ErrStorageUnavailable — the persistence collaborator failed. The chat
	// pipeline degrades (empty history, skipped persistence) instead of
	// failing the user-facing response.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUpstreamTimeout — a model-capability call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamFailure — a model-capability call failed outright.
	ErrUpstreamFailure = errors.New("upstream failure")
)

// ErrorKind maps an error to a stable label used as a metrics key and as the
// failure kind on trace spans. Unrecognized errors are "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUpstreamFailure):
		return "upstream"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "internal"
	}
}
