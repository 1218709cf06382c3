package domain

import "errors"

// Error kinds carried as tagged values across component boundaries.
// Callers match with errors.Is.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means a cross-institution access was attempted.
	// It is surfaced to the caller, never silenced.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable means the store or cache backend is unreachable.
	ErrUnavailable = errors.New("unavailable")

	// ErrInvalidExpression is raised only at construct registration and
	// prevents the scale from becoming usable.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrInsufficientCohort means the resolved cohort is empty after filters.
	ErrInsufficientCohort = errors.New("insufficient cohort")

	// ErrNoAnchor means the patient lacks the requested anchor date.
	ErrNoAnchor = errors.New("no anchor")
)
