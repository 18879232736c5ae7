// ABOUTME: Mock Backend implementation for testing
// ABOUTME: Lets tests script query, exec and ping results without a database

package storage

import (
	"context"
	"sync"

	"github.com/haushaltbuch/moneypilot/internal/config"
)

// MockBackend is a scriptable Backend for tests. Unset hooks return empty
// results. Calls fail with ConnectionFailed while disconnected, like the real
// backends.
type MockBackend struct {
	KindValue    config.BackendKind
	DialectValue Dialect

	QueryFunc func(ctx context.Context, stmt Statement) (*RowSet, error)
	ExecFunc  func(ctx context.Context, stmt Statement) (int64, error)
	PingFunc  func(ctx context.Context) error

	mu           sync.Mutex
	connected    bool
	executed     []Statement
	commits      int
	rollbacks    int
	disconnected int
}

// NewMockBackend creates a connected MockBackend reporting the file kind.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		KindValue:    config.KindFile,
		DialectValue: SQLiteDialect,
		connected:    true,
	}
}

func (m *MockBackend) Kind() config.BackendKind {
	return m.KindValue
}

func (m *MockBackend) Dialect() Dialect {
	return m.DialectValue
}

func (m *MockBackend) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockBackend) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.disconnected++
	}
	m.connected = false
	return nil
}

func (m *MockBackend) Ping(ctx context.Context) error {
	if err := m.check("ping"); err != nil {
		return err
	}
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockBackend) Query(ctx context.Context, stmt Statement) (*RowSet, error) {
	if err := m.check("query"); err != nil {
		return nil, err
	}
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, stmt)
	}
	return &RowSet{Columns: []string{}, Rows: [][]any{}}, nil
}

func (m *MockBackend) Exec(ctx context.Context, stmt Statement) (int64, error) {
	if err := m.check("exec"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.executed = append(m.executed, stmt)
	m.mu.Unlock()
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, stmt)
	}
	return 0, nil
}

func (m *MockBackend) Begin(ctx context.Context) (Tx, error) {
	if err := m.check("begin"); err != nil {
		return nil, err
	}
	return &mockTx{backend: m}, nil
}

// Executed returns the statements passed to Exec, in order.
func (m *MockBackend) Executed() []Statement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Statement(nil), m.executed...)
}

// Commits returns how many transactions were committed.
func (m *MockBackend) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns how many transactions were rolled back.
func (m *MockBackend) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// Disconnects returns how many times an open backend was disconnected.
func (m *MockBackend) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func (m *MockBackend) check(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return newError(CodeConnectionFailed, op, errNotConnected)
	}
	return nil
}

type mockTx struct {
	backend *MockBackend
	done    bool
}

func (t *mockTx) Query(ctx context.Context, stmt Statement) (*RowSet, error) {
	return t.backend.Query(ctx, stmt)
}

func (t *mockTx) Exec(ctx context.Context, stmt Statement) (int64, error) {
	return t.backend.Exec(ctx, stmt)
}

func (t *mockTx) Commit() error {
	t.done = true
	t.backend.mu.Lock()
	t.backend.commits++
	t.backend.mu.Unlock()
	return nil
}

func (t *mockTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.backend.mu.Lock()
	t.backend.rollbacks++
	t.backend.mu.Unlock()
	return nil
}
