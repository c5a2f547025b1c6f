package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"manim-server/internal"
	"manim-server/internal/config"
)

// openStore connects to PostgreSQL, creating the database and its tables when
// they are missing. Without a database URL everything is kept in memory.
func openStore(ctx context.Context, cfg *config.Config) (internal.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("[DB] No database configured, keeping users and scenes in memory")
		return internal.NewMemoryStore(), nil
	}
	store, err := internal.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}
	log.Info().Msg("[DB] Connected to PostgreSQL database successfully")
	return store, nil
}
