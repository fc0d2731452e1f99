package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule fires the sweep at 06:00 every day.
const DefaultSweepSchedule = "0 6 * * *"

// JobFunc is invoked on every trigger with the scheduled fire time.
type JobFunc func(ctx context.Context, now time.Time)

// CronTrigger invokes a job on a standard five-field cron schedule. It only
// decides when to run; the job itself is an ordinary function that tests call
// directly. A run that is still in progress when the next one fires causes
// that firing to be skipped.
type CronTrigger struct {
	cron     *cron.Cron
	schedule cron.Schedule
	job      JobFunc
	logger   *slog.Logger
}

// NewCronTrigger parses spec and prepares a trigger. Times are evaluated in
// loc, or UTC when loc is nil.
func NewCronTrigger(spec string, loc *time.Location, job JobFunc, logger *slog.Logger) (*CronTrigger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing cron schedule %q: %w", spec, err)
	}

	cl := cronLogger{logger: logger}
	return &CronTrigger{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		schedule: schedule,
		job:      job,
		logger:   logger,
	}, nil
}

// Next returns the first fire time after t.
func (c *CronTrigger) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// Start begins firing in the background until ctx is cancelled or Stop is
// called.
func (c *CronTrigger) Start(ctx context.Context) {
	c.cron.Schedule(c.schedule, cron.FuncJob(func() {
		c.job(ctx, time.Now().UTC())
	}))
	c.cron.Start()
	c.logger.InfoContext(ctx, "cron trigger started", "next", c.Next(time.Now()).Format(time.RFC3339))

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

// Stop halts the trigger and waits for a running job to return.
func (c *CronTrigger) Stop() {
	<-c.cron.Stop().Done()
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
