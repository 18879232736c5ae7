// ABOUTME: Storage error taxonomy and driver error classification
// ABOUTME: Maps SQLite and MySQL driver errors onto one set of codes

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Code classifies a storage failure.
type Code string

// Storage error codes
const (
	CodeConnectionFailed    Code = "connection_failed"
	CodeQueryFailed         Code = "query_failed"
	CodeTimeout             Code = "timeout"
	CodeConstraintViolation Code = "constraint_violation"
	CodeCanceled            Code = "canceled"
)

// Sentinels matched by errors.Is against any *Error of the same code.
var (
	ErrConnectionFailed    = errors.New("storage connection failed")
	ErrQueryFailed         = errors.New("storage query failed")
	ErrTimeout             = errors.New("storage operation timed out")
	ErrConstraintViolation = errors.New("storage constraint violated")
	ErrCanceled            = errors.New("storage operation canceled")
)

// errNotConnected is the cause used when an operation hits a closed backend.
var errNotConnected = errors.New("backend is not connected")

var sentinels = map[Code]error{
	CodeConnectionFailed:    ErrConnectionFailed,
	CodeQueryFailed:         ErrQueryFailed,
	CodeTimeout:             ErrTimeout,
	CodeConstraintViolation: ErrConstraintViolation,
	CodeCanceled:            ErrCanceled,
}

// Error is returned by every Backend and Tx operation.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + sentinels[e.Code].Error()
	}
	return e.Op + ": " + sentinels[e.Code].Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Code.
func (e *Error) Is(target error) bool {
	return target == sentinels[e.Code]
}

// CodeOf returns the storage code carried by err, or "" if err is not a storage error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// classify maps a driver or context error to a code. Connection-level errors
// are only candidates; the engine confirms them with a ping.
func classify(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case isConstraintError(err):
		return CodeConstraintViolation
	case isBusyError(err):
		return CodeTimeout
	case isConnectionError(err):
		return CodeConnectionFailed
	default:
		return CodeQueryFailed
	}
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1048, // column cannot be null
			1062, // duplicate entry
			1451, // row is referenced
			1452, // referenced row missing
			3819: // check constraint
			return true
		}
	}
	return false
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isConnectionError(err error) bool {
	if errors.Is(err, errNotConnected) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
