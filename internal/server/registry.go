// ABOUTME: Tracks connected sessions so they can be counted and closed together
// ABOUTME: Used by the server for shutdown and by tests for inspection

package server

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/haushaltbuch/moneypilot/internal/metrics"
)

// Registry holds the live sessions.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds a session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	metrics.Record().SessionOpened()
	r.logger.Info("client connected",
		"session_id", s.ID,
		"remote", s.remoteAddr(),
		"total_sessions", len(r.sessions),
	)
}

// Unregister removes a session.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		delete(r.sessions, id)
		metrics.Record().SessionClosed()
		r.logger.Info("client disconnected",
			"session_id", id,
			"total_sessions", len(r.sessions),
		)
	}
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of the live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.sessions)
}
