package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist within the
// caller's tenancy scope. Cross-tenant existence is never revealed.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a delete is blocked by existing relationships.
var ErrConflict = errors.New("storage: conflict")
