// Package main is the entry point for the facility PM API server.
//
// It loads the configuration, wires the database-backed lifecycle manager,
// builds the HTTP server with the core chassis (middleware, routing, health
// checks) and starts serving.
//
// Outside Lambda it runs as a standard HTTP server on the configured port and,
// when PM_LOCAL_TRIGGER is set, also runs the daily sweep in-process on
// PM_SWEEP_CRON. Inside Lambda it serves through a function URL.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambdaurl"

	"facilitypm/internal/api/handlers"
	"facilitypm/internal/app"
	"facilitypm/internal/auth"
	"facilitypm/internal/config"
	"facilitypm/internal/core"
	"facilitypm/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("facility PM API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}

	apiDeps := serverDeps{
		Lifecycle:  deps.Lifecycle,
		WorkOrders: deps.WorkOrders,
		Authenticator: auth.NewAuthenticator(auth.Config{
			Store:      deps.Access,
			SigningKey: []byte(cfg.Auth.JWTSigningKey.Unmask()),
			Issuer:     cfg.Auth.JWTIssuer,
			Logger:     logger,
		}),
		Probes: deps.HealthProbes(),
	}
	if deps.Completions != nil {
		apiDeps.Completions = deps.Completions
	}
	if deps.Metrics != nil {
		apiDeps.Metrics = deps.Metrics
	}

	srv, err := newServer(cfg, logger, apiDeps)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Closers = append(srv.Closers, deps.Close)

	if isLambdaEnvironment() {
		logger.Info("starting in Lambda mode")
		lambdaurl.Start(srv.Handler())
		return nil
	}

	if cfg.PM.LocalTrigger {
		trigger, err := newSweepTrigger(cfg.PM.SweepSchedule, deps.SweepRunner(workerID()), logger)
		if err != nil {
			return err
		}
		triggerCtx, stop := context.WithCancel(ctx)
		defer stop()
		trigger.Start(triggerCtx)
		srv.Closers = append([]func(){trigger.Stop}, srv.Closers...)
	}

	return runHTTPServer(srv, cfg, logger)
}

// serverDeps are the collaborators of the HTTP routes. Completions and
// Metrics are optional.
type serverDeps struct {
	Lifecycle     lifecycle
	WorkOrders    handlers.WorkOrderStore
	Completions   handlers.CompletionPublisher
	Authenticator core.Authenticator
	Metrics       core.MetricsCollector
	Probes        []core.HealthProbe
}

// lifecycle is the lifecycle manager as seen by the routes.
type lifecycle interface {
	handlers.PMService
	handlers.CompletionHandler
}

// newServer builds the server and mounts the PM and work order routes.
func newServer(cfg *config.Config, logger *slog.Logger, d serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = d.Authenticator
	srv.Metrics = d.Metrics
	srv.HealthProbes = d.Probes

	pmHandler := handlers.NewPMHandler(d.Lifecycle, srv.Validator, logger)
	woHandler := handlers.NewWorkOrderHandler(d.WorkOrders, d.Lifecycle, d.Completions, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		pmHandler.RegisterRoutes,
		woHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// sweepRunner runs one sweep payload.
type sweepRunner interface {
	Execute(ctx context.Context, payload scheduler.SweepPayload) (string, error)
}

// newSweepTrigger schedules the daily sweep in-process. The runner's
// per-day lock keeps it from racing a scheduled pm-sweeper invocation.
func newSweepTrigger(spec string, runner sweepRunner, logger *slog.Logger) (*scheduler.CronTrigger, error) {
	return scheduler.NewCronTrigger(spec, time.UTC, func(ctx context.Context, now time.Time) {
		ref := now.UTC()
		summary, err := runner.Execute(ctx, scheduler.SweepPayload{
			Task:          scheduler.TaskPMSweep,
			ReferenceTime: &ref,
		})
		if err != nil {
			logger.ErrorContext(ctx, "in-process sweep failed", "error", err)
			return
		}
		logger.InfoContext(ctx, "in-process sweep finished", "summary", summary)
	}, logger)
}

// workerID identifies this process in job locks.
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "api"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
