// Command orchestrator owns the Operation registry, scheduler,
// supervisor, and user-facing Operations API, dispatching execution
// through Temporal. Structured the way stanstork-stratum-api's
// cmd/server/main.go wires its application struct together
// (logger/db/temporal client first, HTTP router and Temporal worker
// built from those), generalized from one Docker-per-job model to one
// long-lived supervised worker container plus a scheduler loop.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	gorillahandlers "github.com/gorilla/handlers"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	tc "go.temporal.io/sdk/client"
	temporalworker "go.temporal.io/sdk/worker"

	"github.com/stanstork/migratum/internal/config"
	"github.com/stanstork/migratum/internal/middleware"
	"github.com/stanstork/migratum/internal/migration"
	"github.com/stanstork/migratum/internal/orchestrator"
	orchhttpapi "github.com/stanstork/migratum/internal/orchestrator/httpapi"
	orchtemporal "github.com/stanstork/migratum/internal/orchestrator/temporal"
	"github.com/stanstork/migratum/internal/orchestrator/temporal/activities"
	"github.com/stanstork/migratum/internal/orchestrator/temporal/workflows"
	"github.com/stanstork/migratum/internal/repository"
	"github.com/stanstork/migratum/internal/scheduler"
	"github.com/stanstork/migratum/internal/supervisor"
	"github.com/stanstork/migratum/internal/workerclient"
)

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadOrchestrator()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load orchestrator configuration")
	}

	if err := migration.Run(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("failed to run database migrations")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}

	repo := repository.NewOperationRepository(db)

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Docker client")
	}

	sup := supervisor.New(supervisor.Config{
		Image:         cfg.WorkerImage,
		ContainerName: cfg.WorkerContainerName,
		Endpoint:      cfg.WorkerEndpoint,
		EnvVars:       []string{"MIGRATUM_WORKER_JWT_SIGNING_KEY=" + cfg.JWTSigningKey},
		ContainerCPU:  cfg.WorkerCPULimit,
		ContainerMemory: cfg.WorkerMemoryLimit,
	}, dockerClient, logger)

	worker := workerclient.New(workerclient.Config{
		BaseURL:   cfg.WorkerEndpoint,
		JWTSecret: []byte(cfg.JWTSigningKey),
		Timeout:   cfg.MigrateHTTPTimeout,
	})

	temporalLogger := orchtemporal.NewLogAdapter(logger)
	temporalClient, err := tc.Dial(tc.Options{
		HostPort: cfg.TemporalHostPort,
		Logger:   temporalLogger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to create Temporal client")
	}
	defer temporalClient.Close()

	taskQueue := cfg.TemporalTaskQ
	if taskQueue == "" {
		taskQueue = orchtemporal.TaskQueueName
	}

	service := orchestrator.NewService(repo, temporalClient, taskQueue, cfg.MigrateHTTPTimeout, logger)

	temporalWorker := startTemporalWorker(temporalClient, taskQueue, repo, sup, worker, logger)
	defer temporalWorker.Stop()

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	sched := scheduler.New(repo, service, cfg.SchedulerPoll, logger)
	go sched.Run(schedulerCtx)

	handlers := orchhttpapi.NewHandlers(service, logger)
	router := orchhttpapi.NewRouter(handlers)
	loggedRouter := middleware.Logging(logger)(router)
	corsHandler := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"http://localhost:3000"}),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(loggedRouter)

	server := &http.Server{Addr: ":" + cfg.ServerPort, Handler: corsHandler}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("orchestrator listening")
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

	cancelScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("orchestrator terminated")
}

func startTemporalWorker(
	temporalClient tc.Client,
	taskQueue string,
	repo repository.OperationRepository,
	sup *supervisor.Supervisor,
	worker *workerclient.Client,
	logger zerolog.Logger,
) temporalworker.Worker {
	activityImpl := &activities.Activities{
		Repo:       repo,
		Supervisor: sup,
		Worker:     worker,
	}

	w := temporalworker.New(temporalClient, taskQueue, temporalworker.Options{})
	w.RegisterWorkflow(workflows.ExecuteWorkflow)
	w.RegisterActivity(activityImpl)

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting Temporal worker")
		if err := w.Run(temporalworker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("unable to start Temporal worker")
		}
	}()

	return w
}
