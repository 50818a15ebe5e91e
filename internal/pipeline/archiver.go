// Package pipeline holds the keeper's scheduled background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// DefaultArchiveSchedule runs the activity archive daily at 03:00:00 UTC.
const DefaultArchiveSchedule = "0 0 3 * * *"

// Archiver moves activity rows older than the retention window to cold
// storage on a cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Cutoff returns the start of the UTC day retentionDays before now. Keeping
// the cutoff on a day boundary makes repeated runs on the same day target the
// same archive object.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().AddDate(0, 0, -a.retentionDays).Truncate(24 * time.Hour)
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	start := time.Now()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveActivity(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive activity before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("activity_archived", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// RunCron runs the archiver on a six-field (seconds-first) cron spec until
// ctx is cancelled. Overlapping triggers are skipped.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultArchiveSchedule
	}
	cl := cronLogger{logger: a.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(spec, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron spec %q: %w", spec, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("spec", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
