// ABOUTME: HTTP handler serving the WebSocket endpoint, health and metrics
// ABOUTME: Owns the session registry and reports fatal storage errors upward

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"github.com/haushaltbuch/moneypilot/internal/entries"
	"github.com/haushaltbuch/moneypilot/internal/replay"
	"github.com/haushaltbuch/moneypilot/internal/storage"
)

// MaxFrameBytes is the largest accepted client frame.
const MaxFrameBytes = 1 << 20

// DefaultRequestTimeout bounds a single request when Options leaves it unset.
const DefaultRequestTimeout = 10 * time.Second

const (
	writeTimeout = 5 * time.Second
	readyTimeout = 2 * time.Second
)

// Bye reasons
const (
	ReasonShutdown         = "server shutting down"
	ReasonStoreUnavailable = "data store unavailable"
)

// Options configure a Server.
type Options struct {
	RequestTimeout time.Duration
	EnableMetrics  bool
	// ReplayWindow is how long write results are kept for retried request
	// ids. Zero means replay.DefaultWindow.
	ReplayWindow time.Duration
	// OnFatal is called once, from a session goroutine, when the backend
	// becomes unreachable.
	OnFatal func(err error)
}

// Server accepts WebSocket clients and serves their requests.
type Server struct {
	backend        storage.Backend
	router         *Router
	sessions       *Registry
	replay         *replay.Cache
	logger         *slog.Logger
	requestTimeout time.Duration
	enableMetrics  bool

	onFatal   func(err error)
	fatalOnce sync.Once

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server over backend and store.
func New(backend storage.Backend, store *entries.Store, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger = logger.With("component", "server")
	return &Server{
		backend:        backend,
		router:         NewRouter(backend, store),
		sessions:       NewRegistry(logger),
		replay:         replay.New(opts.ReplayWindow, replay.DefaultMaxSize),
		logger:         logger,
		requestTimeout: opts.RequestTimeout,
		enableMetrics:  opts.EnableMetrics,
		onFatal:        opts.OnFatal,
	}
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Handler returns the HTTP routes: /health, /health/ready, /metrics (when
// enabled) and the WebSocket endpoint on every other path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	if s.enableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	ws := websocket.Server{
		Handshake: acceptAnyOrigin,
		Handler:   s.serveConn,
	}
	mux.Handle("/", ws)

	return mux
}

// acceptAnyOrigin allows clients that send no Origin header, such as the
// health probe and native apps.
func acceptAnyOrigin(cfg *websocket.Config, req *http.Request) error {
	origin, err := websocket.Origin(cfg, req)
	if err == nil {
		cfg.Origin = origin
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the backend answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("data store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", s.sessions.Count())
}

func (s *Server) serveConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.wg.Add(1)
	session := newSession(conn, s)
	s.sessions.Register(session)
	s.mu.Unlock()

	defer s.wg.Done()
	defer s.sessions.Unregister(session.ID)
	defer conn.Close()

	session.run()
}

// reportFatal forwards the first unrecoverable backend error to OnFatal.
func (s *Server) reportFatal(err error) {
	s.fatalOnce.Do(func() {
		s.logger.Error("data store unavailable", "error", err)
		if s.onFatal != nil {
			s.onFatal(err)
		}
	})
}

// Shutdown sends Bye with reason to every session, closes them and waits for
// their goroutines to finish or ctx to expire. New connections are refused.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.closing = true
	sessions := s.sessions.List()
	s.mu.Unlock()

	for _, session := range sessions {
		session.close(reason)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("sessions did not close in time"), ctx.Err())
	}
}
