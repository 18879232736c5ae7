// ABOUTME: Backend factory selecting the file or network variant from db_cfg
// ABOUTME: Connects the chosen backend before handing it out

package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haushaltbuch/moneypilot/internal/config"
)

// New builds the backend selected by cfg and connects it. Exactly one variant
// must be set; anything else wraps config.ErrInvalidShape. A backend that
// cannot be reached wraps ErrConnectionFailed. There are no retries here.
func New(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var b Backend
	switch cfg.Kind() {
	case config.KindFile:
		b = NewFileBackend(*cfg.File, logger)
	case config.KindNetwork:
		b = NewNetworkBackend(*cfg.Network, logger)
	default:
		return nil, fmt.Errorf("unknown backend kind %q: %w", cfg.Kind(), config.ErrInvalidShape)
	}

	if err := b.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting %s backend: %w", cfg.Kind(), err)
	}
	return b, nil
}
