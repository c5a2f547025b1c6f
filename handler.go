package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"manim-server/internal"
	"manim-server/internal/render"
	"manim-server/internal/scene"
	"manim-server/internal/session"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat and animation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			withWorker, err := cmd.Flags().GetBool("with-worker")
			if err != nil {
				return err
			}
			return serve(cmd.Context(), withWorker)
		},
	}
	cmd.Flags().String("listen", ":8080", "Address the API listens on")
	cmd.Flags().Bool("with-worker", true, "Consume the render queue in this process when queue.enabled is set")
	return cmd
}

func serve(ctx context.Context, withWorker bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		log.Warn().Msg("[SERVER] jwt-secret is not set, authenticated routes will reject every request")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events := render.NewEvents()
	defer events.Close()

	service, closeCache, err := newRenderService(cfg, store, events)
	if err != nil {
		return err
	}
	defer closeCache()

	generator, perModel, err := newGenerators(cfg)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	var dispatcher render.Dispatcher = &render.InlineDispatcher{Service: service, Background: true}
	if cfg.QueueEnabled {
		queue, err := render.NewQueue(cfg.RedisURL, service)
		if err != nil {
			return err
		}
		defer queue.Close()
		dispatcher = queue

		if withWorker {
			worker, err := render.NewWorker(cfg.RedisURL, cfg.Render.Concurrency, service)
			if err != nil {
				return err
			}
			eg.Go(func() error { return worker.Run(ctx) })
		}
	}

	pipeline := scene.NewPipeline(cfg.Render.SceneName)
	server := internal.NewServer(internal.Options{
		Store:          store,
		Sessions:       session.NewMemoryStore(cfg.SessionIdle),
		Generator:      generator,
		NewGenerator:   perModel,
		Pipeline:       pipeline,
		Command:        cfg.Render.Command(pipeline.SceneName()),
		Dispatcher:     dispatcher,
		Events:         events,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		log.Info().Str("listen", cfg.Listen).Msg("[SERVER] Animation server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "could not start server")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("[SERVER] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
