package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"wrapped deadline", fmt.Errorf("querying: %w", context.DeadlineExceeded), CodeTimeout},
		{"canceled", context.Canceled, CodeCanceled},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, CodeConstraintViolation},
		{"mysql foreign key", &mysql.MySQLError{Number: 1452}, CodeConstraintViolation},
		{"mysql not null", &mysql.MySQLError{Number: 1048}, CodeConstraintViolation},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, CodeQueryFailed},
		{"bad conn", driver.ErrBadConn, CodeConnectionFailed},
		{"conn done", sql.ErrConnDone, CodeConnectionFailed},
		{"invalid conn", mysql.ErrInvalidConn, CodeConnectionFailed},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, CodeConnectionFailed},
		{"not connected", errNotConnected, CodeConnectionFailed},
		{"anything else", errors.New("no such table: foo"), CodeQueryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestError_IsMatchesCodeSentinel(t *testing.T) {
	err := fmt.Errorf("storing entry: %w", newError(CodeConstraintViolation, "exec", errors.New("UNIQUE constraint failed")))

	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.NotErrorIs(t, err, ErrQueryFailed)
	assert.Equal(t, CodeConstraintViolation, CodeOf(err))
	assert.Contains(t, err.Error(), "exec: storage constraint violated: UNIQUE constraint failed")
}

func TestError_UnwrapsCause(t *testing.T) {
	err := newError(CodeTimeout, "query", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCodeOf_NonStorageError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
