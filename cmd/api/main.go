package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evicertia/pn-ec/internal/api"
	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/auth"
	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/dispatch"
	"github.com/evicertia/pn-ec/internal/logger"
	"github.com/evicertia/pn-ec/internal/queue"
	"github.com/evicertia/pn-ec/internal/repository"
	"github.com/evicertia/pn-ec/internal/tracker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting admission api")

	ctx := context.Background()

	backend, err := queue.NewBackend(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect queue backend")
	}
	defer backend.Close()

	repo, closeRepo, err := repository.NewFromConfig(ctx, cfg.Repository)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect repository")
	}
	defer closeRepo()

	store, err := attachment.NewStoreFromConfig(ctx, cfg.Attachment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect attachment store")
	}
	resolver := attachment.NewResolver(store)

	publisher := tracker.New(backend.Enqueuer, cfg.Tracker.QueueNames, log)
	dispatcher := dispatch.New(repo, resolver, publisher, backend.Enqueuer, cfg.Channels, log)

	registry := auth.NewRegistry(cfg.API.Clients)
	jwts := auth.NewJWTService(cfg.API.JWTSecret, cfg.API.JWTTTL)
	if cfg.API.JWTSecret == "" {
		log.Warn().Msg("jwt secret is not set; session tokens are disabled in practice")
	}

	router := api.NewRouter(dispatcher, repo, registry, jwts, log)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("admission api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
