package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"facilitypm/internal/db"
	"facilitypm/internal/pm"
	"facilitypm/internal/types"
)

// DefaultSweepConcurrency bounds parallel materializations within one sweep.
const DefaultSweepConcurrency = 4

// DueLister returns PENDING occurrences scheduled on or before asOf.
type DueLister interface {
	ListDue(ctx context.Context, asOf time.Time) ([]types.DueOccurrence, error)
}

// HorizonLister returns every template with its latest occurrence date.
type HorizonLister interface {
	ListHorizons(ctx context.Context) ([]db.TemplateHorizon, error)
}

// Lifecycle is the subset of the PM lifecycle manager the sweep drives.
type Lifecycle interface {
	Materialize(ctx context.Context, actor types.Actor, due types.DueOccurrence) (string, error)
	ExtendHorizon(ctx context.Context, h db.TemplateHorizon, now time.Time) (int64, error)
}

// SweepMetrics receives the outcome of each run. Implementations must not
// fail the sweep.
type SweepMetrics interface {
	RecordSweep(ctx context.Context, result SweepResult)
}

// SweepService runs the daily PM sweep: it tops up every template's rolling
// horizon, then materializes each due occurrence into a work order. Each
// occurrence is handled independently; one failure is logged and the rest of
// the batch continues. A failed occurrence stays PENDING and is due again on
// the next run.
type SweepService struct {
	due         DueLister
	horizons    HorizonLister
	lifecycle   Lifecycle
	metrics     SweepMetrics
	concurrency int
	logger      *slog.Logger
}

// NewSweepService creates a SweepService. horizons and metrics may be nil;
// a nil horizons disables the top-up step.
func NewSweepService(due DueLister, horizons HorizonLister, lifecycle Lifecycle, metrics SweepMetrics, concurrency int, logger *slog.Logger) *SweepService {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultSweepConcurrency
	}
	return &SweepService{
		due:         due,
		horizons:    horizons,
		lifecycle:   lifecycle,
		metrics:     metrics,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run executes one sweep as of now. Occurrences scheduled on or before the
// calendar day of now (UTC) are due. Per-occurrence failures are counted in
// the result, never returned; an error means the due set could not be read.
func (s *SweepService) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	today := pm.DateOnly(now)

	var result SweepResult
	result.ToppedUp = s.TopUp(ctx, now)

	due, err := s.due.ListDue(ctx, today)
	if err != nil {
		return result, fmt.Errorf("listing due occurrences: %w", err)
	}
	result.Due = len(due)

	if len(due) == 0 {
		s.logger.InfoContext(ctx, "no due occurrences", "as_of", today.Format(time.DateOnly))
	} else {
		s.logger.InfoContext(ctx, "sweeping due occurrences",
			"count", len(due),
			"as_of", today.Format(time.DateOnly),
			"concurrency", s.concurrency,
		)
		processed, stale, failed := s.materializeAll(ctx, due)
		result.Processed, result.Stale, result.Failed = processed, stale, failed
	}

	result.Duration = time.Since(start)
	s.logger.InfoContext(ctx, "pm sweep complete",
		"due", result.Due,
		"processed", result.Processed,
		"stale", result.Stale,
		"failed", result.Failed,
		"topped_up", result.ToppedUp,
		"duration_ms", result.Duration.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.RecordSweep(ctx, result)
	}
	return result, nil
}

func (s *SweepService) materializeAll(ctx context.Context, due []types.DueOccurrence) (processed, stale, failed int) {
	var nProcessed, nStale, nFailed atomic.Int64
	actor := types.SystemActor()

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, d := range due {
		g.Go(func() error {
			workOrderID, err := s.lifecycle.Materialize(ctx, actor, d)
			switch {
			case err == nil:
				nProcessed.Add(1)
				s.logger.DebugContext(ctx, "occurrence materialized",
					"occurrence_id", d.Occurrence.ID,
					"work_order_id", workOrderID,
				)
			case types.HasCode(err, types.ErrCodeConflictOccurrenceState):
				// Skipped or generated on demand after the due set was read.
				nStale.Add(1)
				s.logger.InfoContext(ctx, "occurrence no longer pending",
					"occurrence_id", d.Occurrence.ID,
					"template_id", d.Template.ID,
				)
			default:
				nFailed.Add(1)
				s.logger.ErrorContext(ctx, "failed to materialize occurrence",
					"occurrence_id", d.Occurrence.ID,
					"template_id", d.Template.ID,
					"scheduled_date", d.Occurrence.ScheduledDate.Format(time.DateOnly),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(nProcessed.Load()), int(nStale.Load()), int(nFailed.Load())
}

// TopUp extends every template's series to the rolling horizon from now and
// returns the number of occurrences inserted. Failures are logged per
// template.
func (s *SweepService) TopUp(ctx context.Context, now time.Time) int64 {
	if s.horizons == nil {
		return 0
	}

	horizons, err := s.horizons.ListHorizons(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list template horizons", "error", err)
		return 0
	}

	var inserted int64
	for _, h := range horizons {
		n, err := s.lifecycle.ExtendHorizon(ctx, h, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to extend horizon",
				"template_id", h.Template.ID,
				"error", err,
			)
			continue
		}
		inserted += n
	}

	if inserted > 0 {
		s.logger.InfoContext(ctx, "extended occurrence horizons",
			"templates", len(horizons),
			"inserted", inserted,
		)
	}
	return inserted
}
