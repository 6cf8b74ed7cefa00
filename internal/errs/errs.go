// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller does not own the entity.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput indicates a malformed request (bad scope, empty or
	// unknown problem IDs). Hard reject, no retry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLimitReached indicates the metering balance cannot cover the
	// requested reservation.
	ErrLimitReached = errors.New("usage limit reached")

	// ErrTooManyJobs indicates the per-user concurrent job ceiling.
	ErrTooManyJobs = errors.New("too many active jobs")

	// ErrContentPolicy indicates a moderation rejection. Terminal, and
	// records a strike against the account.
	ErrContentPolicy = errors.New("content policy violation")

	// ErrTransient indicates a retryable infrastructure failure
	// (AI rate limiting, storage hiccups).
	ErrTransient = errors.New("transient failure")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")
)
