// Command worker is the stateless migration worker process: it hosts
// the Pipeline Engine and adapter registries behind an HTTP surface
// the orchestrator calls into, following the structure of
// stanstork-stratum-api's cmd/server/main.go (structured logging setup,
// graceful shutdown) without the Temporal worker half, since this
// process never talks to Temporal directly.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/migratum/internal/adapters"
	"github.com/stanstork/migratum/internal/config"
	"github.com/stanstork/migratum/internal/middleware"
	"github.com/stanstork/migratum/internal/pipeline"
	"github.com/stanstork/migratum/internal/worker/httpapi"
)

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load worker configuration")
	}

	registry := pipeline.NewRegistry()
	adapters.Register(registry)

	engine := pipeline.NewEngine(registry, logger)
	handlers := httpapi.NewHandlers(registry, engine, logger)
	router := httpapi.NewRouter(handlers, []byte(cfg.JWTSigningKey))
	loggedRouter := middleware.Logging(logger)(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: loggedRouter,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("worker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("worker terminated")
}
