package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/news-unpacked/internal/api"
	"github.com/dom/news-unpacked/internal/config"
	"github.com/dom/news-unpacked/internal/logger"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/repository/memory"
	"github.com/dom/news-unpacked/internal/repository/notify"
	"github.com/dom/news-unpacked/internal/repository/postgres"
	"github.com/dom/news-unpacked/internal/websocket"
	"github.com/rs/zerolog"
	gormLogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("development", "info").Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Change notifications
	var notifier notify.Notifier = notify.NewLocal()
	if cfg.RedisURL != "" {
		redisNotifier, err := notify.NewRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		notifier = redisNotifier
	}
	defer notifier.Close()

	store, err := openStore(cfg, notifier, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}

	go repository.RunSweeper(ctx, store, cfg.RoomRetention, cfg.CleanupInterval, log)

	// Initialize WebSocket hub
	hub := websocket.NewHub(store, log)
	go hub.Run()

	router := api.NewRouter(store, hub, cfg, log)

	// Create server. WriteTimeout stays zero so feed sockets are not cut.
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.StoreBackend).Str("public_url", cfg.PublicURL).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

type serverStore interface {
	repository.Store
	repository.Sweeper
}

func openStore(cfg *config.Config, notifier notify.Notifier, log zerolog.Logger) (serverStore, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		level := gormLogger.Warn
		if cfg.Environment == "development" {
			level = gormLogger.Info
		}
		db, err := postgres.NewConnection(cfg.DatabaseURL, level)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db, notifier, log), nil
	default:
		return memory.NewStore(notifier), nil
	}
}
