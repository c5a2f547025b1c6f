package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"manim-server/internal/render"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Render queued scenes",
		Long: "Consume render jobs from the Redis queue. Render state is written to the " +
			"database; clients of a separate API process follow it by polling /renders/{id}.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	if cfg.RedisURL == "" {
		return errors.New("the worker needs redis-url")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	service, closeCache, err := newRenderService(cfg, store, nil)
	if err != nil {
		return err
	}
	defer closeCache()

	worker, err := render.NewWorker(cfg.RedisURL, cfg.Render.Concurrency, service)
	if err != nil {
		return err
	}
	log.Info().Int("concurrency", cfg.Render.Concurrency).Msg("[WORKER] Waiting for render jobs")
	return worker.Run(ctx)
}
