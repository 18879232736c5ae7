// ABOUTME: Network backend on a MySQL-compatible server via go-sql-driver/mysql
// ABOUTME: Uses a bounded connection pool; the server handles write concurrency

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/haushaltbuch/moneypilot/internal/config"
)

// Pool settings for the network backend.
const (
	networkMaxOpenConns    = 10
	networkMaxIdleConns    = 5
	networkConnMaxLifetime = 5 * time.Minute
	networkDialTimeout     = 5 * time.Second
)

// NetworkBackend stores data on a remote SQL server.
type NetworkBackend struct {
	engine
	driver string
	dsn    string
	target string

	connMu sync.Mutex
}

// NewNetworkBackend returns an unconnected network backend for cfg.
func NewNetworkBackend(cfg config.NetworkBackendConfig, logger *slog.Logger) *NetworkBackend {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	mc.DBName = cfg.Database
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.ParseTime = true
	mc.Timeout = networkDialTimeout

	return newNetworkBackend("mysql", mc.FormatDSN(), cfg.String(), MySQLDialect, logger)
}

// newNetworkBackend lets tests run the pooled code path over another driver.
func newNetworkBackend(driver, dsn, target string, dialect Dialect, logger *slog.Logger) *NetworkBackend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &NetworkBackend{
		driver: driver,
		dsn:    dsn,
		target: target,
	}
	b.init(config.KindNetwork, dialect, logger.With("component", "storage", "backend", "network"), false, guardReadOnlyTx)
	return b
}

// Connect opens the pool and verifies the server answers.
// It is a no-op when already connected.
func (b *NetworkBackend) Connect(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.connected() {
		return nil
	}

	db, err := sql.Open(b.driver, b.dsn)
	if err != nil {
		return newError(CodeConnectionFailed, "connect", fmt.Errorf("opening %s: %w", b.target, err))
	}
	db.SetMaxOpenConns(networkMaxOpenConns)
	db.SetMaxIdleConns(networkMaxIdleConns)
	db.SetConnMaxLifetime(networkConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return newError(CodeConnectionFailed, "connect", fmt.Errorf("reaching %s: %w", b.target, err))
	}

	b.attach(db)
	b.logger.Info("network backend connected", "target", b.target)
	return nil
}

// Disconnect closes the pool. Safe to call multiple times.
func (b *NetworkBackend) Disconnect() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	db := b.detach()
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return newError(CodeConnectionFailed, "disconnect", err)
	}
	b.logger.Info("network backend disconnected", "target", b.target)
	return nil
}
