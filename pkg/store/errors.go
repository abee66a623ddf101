package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when inserting a duplicate key.
	ErrAlreadyExists = errors.New("entity already exists")
)

// DBError wraps a backend failure with the operation that hit it. Transient:
// callers log and surface an internal error to their own caller.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db %s: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error {
	return e.Err
}

// BrokenError marks an irrecoverable storage failure at startup. Fatal.
type BrokenError struct {
	Err error
}

func (e *BrokenError) Error() string {
	return fmt.Sprintf("storage broken: %v", e.Err)
}

func (e *BrokenError) Unwrap() error {
	return e.Err
}
