// Package app assembles the dependencies shared by the facility PM binaries:
// the database pool and repositories, the lifecycle manager with its work
// order backend, and the optional AWS-backed metrics and completion queue.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"facilitypm/internal/config"
	"facilitypm/internal/core"
	"facilitypm/internal/db"
	"facilitypm/internal/external"
	"facilitypm/internal/metrics"
	"facilitypm/internal/pm"
	"facilitypm/internal/queue"
	"facilitypm/internal/scheduler"
)

// Deps holds the wired dependencies. Metrics, Completions and
// RemoteWorkOrders are nil when the feature is not configured.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	Pool        *pgxpool.Pool
	Templates   *db.TemplateRepository
	Occurrences *db.OccurrenceRepository
	WorkOrders  *db.WorkOrderRepository
	Access      *db.AccessRepository
	Audit       *db.AuditRepository
	JobLocks    *db.JobLockRepository
	JobHistory  *db.JobHistoryRepository

	Lifecycle        *pm.Service
	RemoteWorkOrders *external.WorkOrderClient

	Metrics     *metrics.CloudWatchMetrics
	Completions *queue.CompletionPublisher
	SQS         *sqs.Client
}

// Build connects to the database and wires the lifecycle manager. The work
// order backend follows cfg.WorkOrders.Mode: local orders are written in the
// same transaction as the occurrence, remote ones through the work order API.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, err
	}

	d := &Deps{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Templates:   db.NewTemplateRepository(pool),
		Occurrences: db.NewOccurrenceRepository(pool),
		WorkOrders:  db.NewWorkOrderRepository(pool),
		Access:      db.NewAccessRepository(pool),
		Audit:       db.NewAuditRepository(pool),
		JobLocks:    db.NewJobLockRepository(pool),
		JobHistory:  db.NewJobHistoryRepository(pool),
	}

	var tx pm.TxRunner = pm.NewPgTxRunner(pool)
	if cfg.WorkOrders.Mode == config.WorkOrderModeRemote {
		d.RemoteWorkOrders = external.NewWorkOrderClient(external.WorkOrderClientConfig{
			BaseURL: cfg.WorkOrders.BaseURL,
			APIKey:  cfg.WorkOrders.APIKey.Unmask(),
			Timeout: cfg.WorkOrders.Timeout,
			Version: cfg.Build.Version,
		})
		tx = pm.NewDirectRunner(d.Occurrences, d.RemoteWorkOrders)
	}

	d.Lifecycle = pm.NewService(d.Templates, d.Occurrences, tx, d.Audit, pm.Config{
		HorizonDays:  cfg.PM.HorizonDays,
		CalendarDays: cfg.PM.CalendarDays,
	}, logger)

	if cfg.AWS.EnableMetrics || cfg.AWS.CompletionQueueURL != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.AWS.EnableMetrics {
			cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			d.Metrics = metrics.NewCloudWatchMetrics(cw, cfg.AWS.MetricNamespace, cfg.Environment, logger)
		}
		if cfg.AWS.CompletionQueueURL != "" {
			d.SQS = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			d.Completions = queue.NewCompletionPublisher(d.SQS, cfg.AWS.CompletionQueueURL, logger)
		}
	}

	logger.InfoContext(ctx, "dependencies wired",
		"work_order_mode", cfg.WorkOrders.Mode,
		"metrics", d.Metrics != nil,
		"completion_queue", d.Completions != nil,
	)
	return d, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	return awsCfg, nil
}

// SweepRunner returns the lock-guarded sweep runner used by both the
// pm-sweeper function and the in-process trigger.
func (d *Deps) SweepRunner(workerID string) *scheduler.JobRunner {
	var sweepMetrics scheduler.SweepMetrics
	if d.Metrics != nil {
		sweepMetrics = d.Metrics
	}
	return &scheduler.JobRunner{
		Sweeper: scheduler.NewSweepService(
			d.Occurrences,
			d.Templates,
			d.Lifecycle,
			sweepMetrics,
			d.Config.PM.SweepConcurrency,
			d.Logger,
		),
		JobLock:    d.JobLocks,
		JobHistory: d.JobHistory,
		WorkerID:   workerID,
		Logger:     d.Logger,
	}
}

// HealthProbes returns the readiness checks for GET /health.
func (d *Deps) HealthProbes() []core.HealthProbe {
	probes := []core.HealthProbe{
		core.HealthProbeFunc{ProbeName: "database", Fn: d.Pool.Ping},
	}
	if d.RemoteWorkOrders != nil {
		probes = append(probes, d.RemoteWorkOrders)
	}
	return probes
}

// Close releases the database pool.
func (d *Deps) Close() {
	d.Pool.Close()
}

// NewLogger returns a JSON slog.Logger on stdout at level. Unknown levels
// log at info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
