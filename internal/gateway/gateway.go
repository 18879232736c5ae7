// ABOUTME: Main gateway orchestrator for the moneypilot backend
// ABOUTME: Wires the storage backend, entry store and WebSocket server and runs their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/haushaltbuch/moneypilot/internal/config"
	"github.com/haushaltbuch/moneypilot/internal/entries"
	"github.com/haushaltbuch/moneypilot/internal/server"
	"github.com/haushaltbuch/moneypilot/internal/storage"
)

// ErrStoreUnavailable is returned by Run when the backend became unreachable
// while serving.
var ErrStoreUnavailable = errors.New("data store unavailable")

// startupTimeout bounds connecting the backend and creating the schema.
const startupTimeout = 15 * time.Second

// shutdownTimeout bounds the whole orderly shutdown.
const shutdownTimeout = 5 * time.Second

// Gateway owns the backend and the server for the lifetime of the process.
type Gateway struct {
	config     *config.Config
	backend    storage.Backend
	entries    *entries.Store
	server     *server.Server
	httpServer *http.Server
	logger     *slog.Logger

	fatalCh chan error
	reason  string
}

// New connects the configured backend, ensures the entries table exists and
// prepares the server. Nothing is listening until Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.DB.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	backend, err := storage.New(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(ctx, cfg, backend, logger)
	if err != nil {
		_ = backend.Disconnect()
		return nil, err
	}
	return gw, nil
}

// newGateway builds the gateway around an already connected backend.
func newGateway(ctx context.Context, cfg *config.Config, backend storage.Backend, logger *slog.Logger) (*Gateway, error) {
	store := entries.NewStore(backend)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:  cfg,
		backend: backend,
		entries: store,
		logger:  logger.With("component", "gateway"),
		fatalCh: make(chan error, 1),
		reason:  server.ReasonShutdown,
	}

	gw.server = server.New(backend, store, server.Options{
		RequestTimeout: cfg.Settings.RequestTimeout,
		EnableMetrics:  cfg.Settings.Metrics.Enabled,
		ReplayWindow:   cfg.Settings.ReplayWindow,
		OnFatal:        gw.reportFatal,
	}, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Settings.Server.Addr(),
		Handler:           gw.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Backend returns the connected storage backend.
func (g *Gateway) Backend() storage.Backend {
	return g.backend
}

// reportFatal is called by the server when the backend is gone.
func (g *Gateway) reportFatal(err error) {
	select {
	case g.fatalCh <- err:
	default:
	}
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("websocket server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation, a server error or a
// fatal storage error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	case err := <-g.fatalCh:
		g.logger.Error("data store lost, initiating shutdown", "error", err)
		g.reason = server.ReasonStoreUnavailable
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// Run binds the listening address and serves until ctx is canceled, the
// server fails or the backend becomes unreachable. It always shuts down
// before returning. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway",
		"addr", g.httpServer.Addr,
		"backend", g.backend.Kind(),
	)

	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		_ = g.backend.Disconnect()
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the Run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown says Bye to every client, stops the HTTP server and disconnects
// the backend, in that order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "reason", g.reason)

	var errs []error
	errs = appendCloseError(errs, "session shutdown", g.server.Shutdown(ctx, g.reason))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "backend disconnect", g.backend.Disconnect())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
