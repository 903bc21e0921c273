package space

import "errors"

var (
	// ErrNotFound is returned when a space is absent from the registry or
	// owned by a different (tenant, user) pair. The two cases are
	// deliberately indistinguishable so existence never leaks across
	// tenants.
	ErrNotFound = errors.New("composition space not found")

	// ErrConflict is returned when an update supplies a stale
	// last-modified stamp. The caller must re-fetch and retry.
	ErrConflict = errors.New("composition space was concurrently modified")

	// ErrShuttingDown is returned for mutating operations attempted
	// after Stop has been called.
	ErrShuttingDown = errors.New("draft service is shutting down")
)
