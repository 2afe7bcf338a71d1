package db

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable means the local store cannot be read or written
	// (disk full, read-only medium, missing file, lock contention).
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotPurgeable is returned when purging a report that is not a synced tombstone.
	ErrNotPurgeable = errors.New("report is not a synced tombstone")

	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
)

var storageFailures = []string{
	"database or disk is full",
	"disk is full",
	"readonly database",
	"read-only",
	"unable to open database",
	"disk i/o error",
	"permission denied",
	"database is locked",
	"no such file or directory",
	"database is closed",
}

// classify tags low-level storage failures with ErrStorageUnavailable so
// callers can tell them apart from logic errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, s := range storageFailures {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	return err
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func (db *DB) validateStruct(v any) error {
	if err := db.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
