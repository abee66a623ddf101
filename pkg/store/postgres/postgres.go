// Package postgres implements store.Store on PostgreSQL via database/sql.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vendkit/kioskd/pkg/store"
)

// Store is the Postgres-backed repository.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// dbErr wraps a backend error with the operation name. sql.ErrNoRows maps to
// store.ErrNotFound so callers match on one sentinel.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return &store.DBError{Op: op, Err: err}
}

// mustJSON marshals v for a JSONB column. The models only contain
// marshalable types, so a failure is a programming error.
func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal for jsonb: %v", err))
	}
	return data
}

func fromJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

// affectedOrNotFound turns a zero-row UPDATE/DELETE into ErrNotFound.
func affectedOrNotFound(op string, res sql.Result, err error) error {
	if err != nil {
		return dbErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
