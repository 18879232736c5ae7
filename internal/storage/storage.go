// ABOUTME: Backend interface and data types for moneypilot persistence
// ABOUTME: Defines the uniform contract both the file and the network backend implement

package storage

import (
	"context"
	"fmt"

	"github.com/haushaltbuch/moneypilot/internal/config"
)

// Statement is one SQL statement with its parameters.
// Named parameters (:name) are bound from Params; positional ? from Args.
type Statement struct {
	SQL    string
	Params map[string]any
	Args   []any
}

// RowSet is the result of a read. Values are int64, float64, string, bool,
// time.Time or nil; raw bytes are returned as strings.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Maps returns the rows keyed by column name.
func (r *RowSet) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			m[col] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// Backend is the persistence contract the rest of the application uses.
// Callers never need to know which concrete backend is active.
type Backend interface {
	// Kind reports which variant this backend is.
	Kind() config.BackendKind
	// Dialect holds the engine-specific SQL used by higher layers.
	Dialect() Dialect

	// Connect opens the backend. It is a no-op when already connected.
	Connect(ctx context.Context) error
	// Disconnect releases all resources. Safe to call multiple times.
	Disconnect() error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Query runs a read statement.
	Query(ctx context.Context, stmt Statement) (*RowSet, error)
	// Exec runs a write statement and returns the affected row count.
	Exec(ctx context.Context, stmt Statement) (int64, error)
	// Begin starts a transaction. The caller must Commit or Rollback it;
	// WithTx does that on every exit path.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is an open transaction. Rollback after Commit (or a second Rollback) is a no-op.
type Tx interface {
	Query(ctx context.Context, stmt Statement) (*RowSet, error)
	Exec(ctx context.Context, stmt Statement) (int64, error)
	Commit() error
	Rollback() error
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back when fn returns an error or panics.
func WithTx(ctx context.Context, b Backend, fn func(tx Tx) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
