package visitors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidIdentity  = errors.New("ip address and project name are required")
	ErrNotFound         = errors.New("visitor not found")
	ErrStoreUnavailable = errors.New("visitor store unavailable")
)

// StoreError carries the underlying persistence failure for logging while
// matching ErrStoreUnavailable for callers.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("visitor store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// VisitorNotFoundError names the lookup that came back empty.
type VisitorNotFoundError struct {
	Field string
	Value string
}

func (e *VisitorNotFoundError) Error() string {
	return fmt.Sprintf("no visitor with %s %q", e.Field, e.Value)
}

func (e *VisitorNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Unavailable reports whether err means the database could not serve the
// query at all. A malformed statement is not an availability problem.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen,
			sqlite3.ErrCorrupt, sqlite3.ErrFull, sqlite3.ErrNotADB, sqlite3.ErrReadonly,
			sqlite3.ErrPerm, sqlite3.ErrNomem, sqlite3.ErrProtocol:
			return true
		case sqlite3.ErrError:
			// An unmigrated schema
			return strings.Contains(sqliteErr.Error(), "no such table")
		}
		return false
	}
	return strings.Contains(err.Error(), "database is closed")
}
