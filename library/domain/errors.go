package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors, match with errors.Is
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("stale record")
	ErrValidation = errors.New("validation failed")
)

// ConflictError is returned when a folder was changed by another writer
// between the caller's load and save.
type ConflictError struct {
	FolderID        string
	ExpectedVersion int64
	StoredVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("folder %s was modified concurrently (have version %d, stored version %d)",
		e.FolderID, e.ExpectedVersion, e.StoredVersion)
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageWriteError means the document could not be persisted. The in-memory
// copy the caller holds is still valid and the write may be retried.
type StorageWriteError struct {
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("changes not saved: %v", e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// StorageCorruptionError describes a persisted document that could not be
// parsed. It is logged and treated as an empty store, never returned as fatal.
type StorageCorruptionError struct {
	Err error
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("stored document is corrupt: %v", e.Err)
}

func (e *StorageCorruptionError) Unwrap() error { return e.Err }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
