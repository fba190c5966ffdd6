package store

import "errors"

var (
	// ErrConflict is returned when creating a request while an active one
	// already exists for the conversation or requester.
	ErrConflict = errors.New("active handoff request already exists")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("handoff record not found")

	// ErrStaleWrite is returned when an optimistic update finds the record in
	// a different status than the caller expected, e.g. two admins racing to
	// accept the same request.
	ErrStaleWrite = errors.New("handoff request status changed concurrently")
)
