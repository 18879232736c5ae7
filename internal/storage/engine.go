// ABOUTME: database/sql engine shared by the file and network backends
// ABOUTME: Runs reads, writes and transactions and classifies their errors

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haushaltbuch/moneypilot/internal/config"
	"github.com/haushaltbuch/moneypilot/internal/metrics"
)

var errNotRead = newError(CodeQueryFailed, "query", errors.New("not a single read statement"))

// confirmPingTimeout bounds the ping that decides whether a connection-level
// error means the backend is gone.
const confirmPingTimeout = 2 * time.Second

// readGuard selects how Query keeps a statement from writing.
type readGuard int

const (
	// guardQueryOnly runs reads on a connection with PRAGMA query_only set.
	guardQueryOnly readGuard = iota
	// guardReadOnlyTx runs reads in a READ ONLY transaction.
	guardReadOnlyTx
)

// engine implements the query side of Backend over a *sql.DB.
// writeLock, when non-nil, admits one writer at a time.
type engine struct {
	kind      config.BackendKind
	dialect   Dialect
	logger    *slog.Logger
	writeLock chan struct{}
	guard     readGuard

	mu sync.RWMutex
	db *sql.DB
}

func (e *engine) init(kind config.BackendKind, dialect Dialect, logger *slog.Logger, singleWriter bool, guard readGuard) {
	e.kind = kind
	e.dialect = dialect
	e.logger = logger
	e.guard = guard
	if singleWriter {
		e.writeLock = make(chan struct{}, 1)
	}
}

// Kind reports which variant this backend is.
func (e *engine) Kind() config.BackendKind {
	return e.kind
}

// Dialect returns the engine-specific SQL.
func (e *engine) Dialect() Dialect {
	return e.dialect
}

func (e *engine) handle() (*sql.DB, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, errNotConnected
	}
	return e.db, nil
}

func (e *engine) attach(db *sql.DB) {
	e.mu.Lock()
	e.db = db
	e.mu.Unlock()
}

func (e *engine) detach() *sql.DB {
	e.mu.Lock()
	defer e.mu.Unlock()
	db := e.db
	e.db = nil
	return db
}

func (e *engine) connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.db != nil
}

// acquireWrite waits for the write lock, honouring ctx.
func (e *engine) acquireWrite(ctx context.Context) (func(), error) {
	if e.writeLock == nil {
		return func() {}, nil
	}
	select {
	case e.writeLock <- struct{}{}:
		return sync.OnceFunc(func() { <-e.writeLock }), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wrap turns err into an *Error. A connection-level error is only reported as
// ConnectionFailed when the backend also fails a ping; otherwise the pool has
// recovered and the failure is scoped to this operation.
func (e *engine) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(classify(ctxErr), op, err)
	}

	code := classify(err)
	if code == CodeConnectionFailed && !errors.Is(err, errNotConnected) {
		pingCtx, cancel := context.WithTimeout(context.Background(), confirmPingTimeout)
		defer cancel()
		if pingErr := e.ping(pingCtx); pingErr == nil {
			code = CodeQueryFailed
		} else {
			e.logger.Error("backend unreachable", "op", op, "error", err, "ping_error", pingErr)
		}
	}
	return newError(code, op, err)
}

func (e *engine) observe(op string, start time.Time, err error) {
	metrics.Record().StorageOperation(string(e.kind), op, time.Since(start), err)
}

func (e *engine) ping(ctx context.Context) error {
	db, err := e.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Ping verifies the backend is reachable.
func (e *engine) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { e.observe("ping", start, err) }()

	if pingErr := e.ping(ctx); pingErr != nil {
		if ctx.Err() != nil {
			return newError(classify(ctx.Err()), "ping", pingErr)
		}
		return newError(CodeConnectionFailed, "ping", pingErr)
	}
	return nil
}

// Query runs a read statement.
func (e *engine) Query(ctx context.Context, stmt Statement) (rs *RowSet, err error) {
	start := time.Now()
	defer func() { e.observe("query", start, err) }()

	if !isReadStatement(stmt.SQL) {
		return nil, errNotRead
	}

	db, err := e.handle()
	if err != nil {
		return nil, e.wrap(ctx, "query", err)
	}
	if e.guard == guardQueryOnly {
		return e.queryOnly(ctx, db, stmt)
	}
	return e.readOnlyTx(ctx, db, stmt)
}

// queryOnly runs stmt on a pooled connection that refuses writes for the
// duration of the call. A connection that cannot be reset is discarded.
func (e *engine) queryOnly(ctx context.Context, db *sql.DB, stmt Statement) (*RowSet, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, e.wrap(ctx, "query", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = 1"); err != nil {
		return nil, e.wrap(ctx, "query", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = 0"); err != nil {
			e.logger.Warn("discarding connection left in query_only mode", "error", err)
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	return runQuery(ctx, conn, stmt, e.wrap)
}

// readOnlyTx runs stmt inside a READ ONLY transaction that is always rolled back.
func (e *engine) readOnlyTx(ctx context.Context, db *sql.DB, stmt Statement) (*RowSet, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, e.wrap(ctx, "query", err)
	}
	defer func() { _ = tx.Rollback() }()

	return runQuery(ctx, tx, stmt, e.wrap)
}

// Exec runs a write statement under the write lock.
func (e *engine) Exec(ctx context.Context, stmt Statement) (n int64, err error) {
	start := time.Now()
	defer func() { e.observe("exec", start, err) }()

	db, err := e.handle()
	if err != nil {
		return 0, e.wrap(ctx, "exec", err)
	}

	release, err := e.acquireWrite(ctx)
	if err != nil {
		return 0, e.wrap(ctx, "exec", err)
	}
	defer release()

	return runExec(ctx, db, stmt, e.wrap)
}

// Begin starts a transaction. On the file backend the transaction holds the
// write lock until it is committed or rolled back.
func (e *engine) Begin(ctx context.Context) (_ Tx, err error) {
	start := time.Now()
	defer func() { e.observe("begin", start, err) }()

	db, err := e.handle()
	if err != nil {
		return nil, e.wrap(ctx, "begin", err)
	}

	release, err := e.acquireWrite(ctx)
	if err != nil {
		return nil, e.wrap(ctx, "begin", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		release()
		return nil, e.wrap(ctx, "begin", err)
	}

	return &sqlTx{engine: e, tx: tx, release: release}, nil
}

// sqlTx is the Tx of both backends.
type sqlTx struct {
	engine  *engine
	tx      *sql.Tx
	release func()

	mu   sync.Mutex
	done bool
}

func (t *sqlTx) Query(ctx context.Context, stmt Statement) (*RowSet, error) {
	return runQuery(ctx, t.tx, stmt, t.engine.wrap)
}

func (t *sqlTx) Exec(ctx context.Context, stmt Statement) (int64, error) {
	return runExec(ctx, t.tx, stmt, t.engine.wrap)
}

func (t *sqlTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return newError(CodeQueryFailed, "commit", sql.ErrTxDone)
	}
	t.done = true
	defer t.release()

	if err := t.tx.Commit(); err != nil {
		return t.engine.wrap(context.Background(), "commit", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.engine.wrap(context.Background(), "rollback", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type wrapFunc func(ctx context.Context, op string, err error) error

func runQuery(ctx context.Context, q querier, stmt Statement, wrap wrapFunc) (*RowSet, error) {
	if !isReadStatement(stmt.SQL) {
		return nil, errNotRead
	}
	query, args, err := stmt.bind()
	if err != nil {
		return nil, newError(CodeQueryFailed, "query", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(ctx, "query", err)
	}
	defer rows.Close()

	rs, err := collectRows(rows)
	if err != nil {
		return nil, wrap(ctx, "query", err)
	}
	return rs, nil
}

func runExec(ctx context.Context, q querier, stmt Statement, wrap wrapFunc) (int64, error) {
	query, args, err := stmt.bind()
	if err != nil {
		return 0, newError(CodeQueryFailed, "exec", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap(ctx, "exec", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(ctx, "exec", fmt.Errorf("reading affected rows: %w", err))
	}
	return n, nil
}

func collectRows(rows *sql.Rows) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &RowSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}
