package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidProfile is returned when a profile payload fails validation
// before a write. Invalid payloads never reach the database.
var ErrInvalidProfile = errors.New("storage: invalid profile payload")

// ErrVersionDrift is returned when the engine's compiled-in results-schema
// version does not match the version stored in settings. Writes must stop:
// the mismatch means stored data and code have diverged.
var ErrVersionDrift = errors.New("storage: results version drift")
