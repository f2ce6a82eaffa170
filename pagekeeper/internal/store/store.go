// CLAUDE:SUMMARY SQLite persistence for pages, elements, scraped values and run logs; conflicts are checked before writes.
// Package store provides the SQLite persistence layer for pagekeeper.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by mutations that matched no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalid is wrapped by validation failures.
	ErrInvalid = errors.New("store: invalid")
)

// ConflictError describes a unique-constraint violation on a single field.
type ConflictError struct {
	Field  string
	Value  string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: conflict on %s %q: %s", e.Field, e.Value, e.Detail)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Store is the pagekeeper database handle.
type Store struct {
	DB *sql.DB
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
