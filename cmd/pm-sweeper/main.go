// Package main is the entry point for the PM sweeper.
//
// Inside AWS Lambda it is invoked daily by an EventBridge schedule with a
// scheduler.SweepPayload. Outside Lambda it runs a single task from the
// command line, for local development, backfills and operational debugging:
//
//	go run ./cmd/pm-sweeper
//	go run ./cmd/pm-sweeper --task=pm_top_up
//	go run ./cmd/pm-sweeper --reference-time=2024-03-01T06:00:00Z
//	go run ./cmd/pm-sweeper --dry-run
//
// Both paths go through scheduler.JobRunner, so a run holds the per-day lock
// and leaves a job_history record.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"facilitypm/internal/app"
	"facilitypm/internal/config"
	"facilitypm/internal/scheduler"
)

// validTasks lists the tasks the sweeper accepts.
var validTasks = map[scheduler.TaskType]string{
	scheduler.TaskPMSweep: "Top up every template's horizon, then generate work orders for due occurrences",
	scheduler.TaskPMTopUp: "Top up every template's horizon only",
}

// sweepRunner runs one sweep payload.
type sweepRunner interface {
	Execute(ctx context.Context, payload scheduler.SweepPayload) (string, error)
}

func main() {
	taskFlag := flag.String("task", string(scheduler.TaskPMSweep), "Task to run (pm_sweep or pm_top_up)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339)")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel)

	if !isLambdaEnvironment() {
		payload, err := buildPayload(*taskFlag, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		if *dryRunFlag {
			out, _ := json.MarshalIndent(payload, "", "  ")
			fmt.Println(string(out))
			return
		}
		if err := runOnce(cfg, logger, payload); err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("PM sweeper Lambda initializing (cold start)")

	deps, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire dependencies", "error", err)
		os.Exit(1)
	}

	runner := deps.SweepRunner("lambda-" + uuid.NewString())
	logger.Info("PM sweeper Lambda initialized",
		"concurrency", cfg.PM.SweepConcurrency,
		"horizon_days", cfg.PM.HorizonDays,
		"work_order_mode", cfg.WorkOrders.Mode,
	)

	lambda.Start(newHandler(runner, logger))
}

// runOnce executes payload from the command line, cancelling on SIGINT or
// SIGTERM.
func runOnce(cfg *config.Config, logger *slog.Logger, payload scheduler.SweepPayload) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	host, _ := os.Hostname()
	summary, err := newHandler(deps.SweepRunner("cli-"+host), logger)(ctx, payload)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

// newHandler returns the Lambda handler. An empty task defaults to pm_sweep.
func newHandler(runner sweepRunner, logger *slog.Logger) func(ctx context.Context, payload scheduler.SweepPayload) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload scheduler.SweepPayload) (string, error) {
		if payload.Task == "" {
			payload.Task = scheduler.TaskPMSweep
		}
		if _, ok := validTasks[payload.Task]; !ok {
			return "", fmt.Errorf("unknown task type: %q", payload.Task)
		}

		summary, err := runner.Execute(ctx, payload)
		if err != nil {
			return "", err
		}
		logger.InfoContext(ctx, "PM sweeper finished", "task", payload.Task, "summary", summary)
		return summary, nil
	}
}

// buildPayload validates the command-line flags.
func buildPayload(task, refTime string) (scheduler.SweepPayload, error) {
	payload := scheduler.SweepPayload{Task: scheduler.TaskType(task)}
	if _, ok := validTasks[payload.Task]; !ok {
		return payload, fmt.Errorf("unknown task %q", task)
	}
	if refTime != "" {
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			return payload, fmt.Errorf("invalid --reference-time %q: %w", refTime, err)
		}
		t = t.UTC()
		payload.ReferenceTime = &t
	}
	return payload, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}
