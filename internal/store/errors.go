package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entry does not exist.
var ErrNotFound = errors.New("not found")

// StorageError is an underlying persistence failure. It is surfaced unchanged
// to callers; no retry is attempted above the transaction begin.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapDBError wraps a database error with operation context.
// sql.ErrNoRows becomes ErrNotFound, everything else a *StorageError.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
