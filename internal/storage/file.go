// ABOUTME: File backend on an embedded SQLite database using modernc.org/sqlite
// ABOUTME: One process owns the file via an advisory lock; writes are serialized

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/haushaltbuch/moneypilot/internal/config"

	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every pooled connection.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// errFileLocked means another process holds the database file.
var errFileLocked = errors.New("database file is in use by another process")

// FileBackend stores data in a single SQLite file.
type FileBackend struct {
	engine
	path string

	connMu sync.Mutex
	lock   *flock.Flock
}

// NewFileBackend returns an unconnected file backend for cfg.
func NewFileBackend(cfg config.FileBackendConfig, logger *slog.Logger) *FileBackend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &FileBackend{path: cfg.FilePath}
	b.init(config.KindFile, SQLiteDialect, logger.With("component", "storage", "backend", "file"), true, guardQueryOnly)
	return b
}

// Path returns the database file path.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) inMemory() bool {
	return b.path == config.MemoryPath
}

// Connect opens the database file, creating it and its parent directories if
// needed. It is a no-op when already connected.
func (b *FileBackend) Connect(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.connected() {
		return nil
	}

	dsn := "file::memory:?" + sqlitePragmas
	if !b.inMemory() {
		if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
			return newError(CodeConnectionFailed, "connect", fmt.Errorf("creating database directory: %w", err))
		}

		lock := flock.New(b.path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return newError(CodeConnectionFailed, "connect", fmt.Errorf("locking database file: %w", err))
		}
		if !locked {
			return newError(CodeConnectionFailed, "connect", fmt.Errorf("%s: %w", b.path, errFileLocked))
		}
		b.lock = lock
		dsn = b.path + "?" + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		b.unlock()
		return newError(CodeConnectionFailed, "connect", fmt.Errorf("opening database: %w", err))
	}
	if b.inMemory() {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		b.unlock()
		return newError(CodeConnectionFailed, "connect", fmt.Errorf("opening database: %w", err))
	}

	b.attach(db)
	b.logger.Info("file backend connected", "path", b.path)
	return nil
}

// Disconnect closes the database and releases the file lock.
// Safe to call multiple times.
func (b *FileBackend) Disconnect() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	db := b.detach()
	if db == nil {
		return nil
	}

	err := db.Close()
	b.unlock()
	if err != nil {
		return newError(CodeConnectionFailed, "disconnect", err)
	}
	b.logger.Info("file backend disconnected", "path", b.path)
	return nil
}

func (b *FileBackend) unlock() {
	if b.lock == nil {
		return
	}
	if err := b.lock.Unlock(); err != nil {
		b.logger.Warn("releasing database file lock", "error", err)
	}
	b.lock = nil
}
