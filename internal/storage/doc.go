// Package storage provides the persistence backends for moneypilot.
//
// # Architecture
//
// Callers depend only on the Backend interface:
//
//   - FileBackend: embedded SQLite database in a single file
//   - NetworkBackend: MySQL-compatible server reached over TCP
//
// New selects the variant from config.DBConfig and connects it before
// returning, so a misconfigured or unreachable store fails at startup.
// Engine-specific SQL needed above this package is carried by Dialect.
//
// # Statements
//
// A Statement uses either named parameters or positional ones:
//
//	storage.Statement{SQL: "SELECT * FROM entries WHERE entry_key = :key", Params: map[string]any{"key": "balance"}}
//	storage.Statement{SQL: "DELETE FROM entries WHERE entry_key = ?", Args: []any{"balance"}}
//
// Named parameters are rewritten to ? for both engines. Map and slice values
// are stored as JSON text.
//
// # SQLite Configuration
//
// Every file backend connection is opened with:
//
//	PRAGMA busy_timeout=5000;
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Reads run concurrently. Exec calls and whole transactions take a write lock
// that honours the caller's context. An advisory lock on <file>.lock keeps a
// second process away from the same database. The path :memory: gives a
// private in-memory database (one connection, no file lock).
//
// # Error Handling
//
// Every operation returns *Error, whose Code matches one of:
//
//   - ErrConnectionFailed: backend unreachable or disconnected
//   - ErrQueryFailed: malformed or rejected statement
//   - ErrTimeout: deadline exceeded or database busy
//   - ErrConstraintViolation: unique, foreign key, not null or check
//   - ErrCanceled: caller cancelled
//
// Connection-level driver errors are confirmed with a ping before they are
// reported as ErrConnectionFailed.
//
// # Testing
//
// Use NewMockBackend() to script results in unit tests, or a FileBackend on
// :memory: for integration tests with real SQLite.
package storage
