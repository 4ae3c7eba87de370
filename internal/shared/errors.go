package shared

import "errors"

var (
	// ErrNotFound indicates an unknown document, account or transaction id.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller lacks the capability or ownership required.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates an optimistic-concurrency mismatch. The caller is
	// expected to re-fetch current state and, if still desired, retry the whole
	// operation; the core never retries on its own.
	ErrConflict = errors.New("conflict")
	// ErrBadRequest indicates a validation failure before any state changed.
	ErrBadRequest = errors.New("bad request")
)
