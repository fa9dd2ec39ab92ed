package retention

import (
	"context"
	"log/slog"

	"github.com/mixelka/codeinbox/internal/database"
	"github.com/robfig/cron/v3"
)

// Job removes messages and their codes past the retention cutoff
type Job struct {
	db     *database.DB
	days   int
	logger *slog.Logger
	cron   *cron.Cron
}

// NewJob creates a retention job
func NewJob(db *database.DB, days int, logger *slog.Logger) *Job {
	return &Job{
		db:     db,
		days:   days,
		logger: logger.With("component", "retention"),
		cron:   cron.New(),
	}
}

// Name identifies the job in logs
func (j *Job) Name() string { return "retention_cleanup" }

// Run performs one cleanup pass
func (j *Job) Run(ctx context.Context) error {
	removed, err := j.db.CleanupOlderThan(ctx, j.days)
	if err != nil {
		j.logger.Error("cleanup failed", "error", err)
		return err
	}
	j.logger.Info("cleanup finished", "removed_messages", removed, "max_age_days", j.days)
	return nil
}

// Start runs one cleanup pass immediately, then once every 24 hours. A failed
// startup pass is logged but does not prevent the schedule from starting.
func (j *Job) Start(ctx context.Context) error {
	_ = j.Run(ctx)

	_, err := j.cron.AddFunc("@every 24h", func() {
		_ = j.Run(ctx)
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (j *Job) Stop() {
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
}
