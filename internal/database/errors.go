package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrEmptyDataset is matched by every *EmptyDatasetError.
var ErrEmptyDataset = errors.New("empty dataset")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ConnectionError means a session could not be acquired or released.
type ConnectionError struct {
	Op        string // "connect" or "release"
	Err       error
	Transient bool
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransactionError means begin, commit or rollback itself failed. Store state
// is ambiguous afterwards, so it is never retried.
type TransactionError struct {
	Op    string // "begin", "commit" or "rollback"
	Err   error
	Cause error // failure that triggered a rollback, if any
}

func (e *TransactionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transaction %s failed: %v (rolling back after: %v)", e.Op, e.Err, e.Cause)
	}
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// TransientOperationError wraps a failure that may succeed if retried
// unchanged, such as a lock timeout.
type TransientOperationError struct {
	Err error
}

func (e *TransientOperationError) Error() string {
	return "transient failure: " + e.Err.Error()
}

func (e *TransientOperationError) Unwrap() error { return e.Err }

// PermanentOperationError wraps a failure that retrying will not change,
// such as a constraint violation or malformed query.
type PermanentOperationError struct {
	Err error
}

func (e *PermanentOperationError) Error() string {
	return "permanent failure: " + e.Err.Error()
}

func (e *PermanentOperationError) Unwrap() error { return e.Err }

// EmptyDatasetError is returned when an aggregate is computed over zero rows.
type EmptyDatasetError struct {
	Query string
}

func (e *EmptyDatasetError) Error() string {
	return fmt.Sprintf("no rows to aggregate for query %q", e.Query)
}

func (e *EmptyDatasetError) Is(target error) bool { return target == ErrEmptyDataset }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientOperationError{Err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentOperationError{Err: err}
}

// Classify tags a raw store error as transient or permanent. Errors that are
// already tagged, and context errors, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var transient *TransientOperationError
	var permanent *PermanentOperationError
	var connErr *ConnectionError
	var txErr *TransactionError
	if errors.As(err, &transient) || errors.As(err, &permanent) ||
		errors.As(err, &connErr) || errors.As(err, &txErr) {
		return err
	}

	if isTransientCause(err) {
		return &TransientOperationError{Err: err}
	}
	return &PermanentOperationError{Err: err}
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return false
	}
	var permanent *PermanentOperationError
	if errors.As(err, &permanent) {
		return false
	}
	var transient *TransientOperationError
	if errors.As(err, &transient) {
		return true
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Transient
	}
	return false
}

func isTransientCause(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY,
			sqlite3.SQLITE_LOCKED,
			sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_PROTOCOL:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
