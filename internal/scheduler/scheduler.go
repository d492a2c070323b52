// Package scheduler runs periodic maintenance jobs for KolpingBot.
//
// Backends without native expiry keep abandoned dialogs and old dedup records forever;
// a cron job sweeps them.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dietfurt/kolpingbot/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs the sweep at minute 17 of every hour.
const DefaultPruneSchedule = "17 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// PruneJob returns a task deleting state idle for longer than ttl.
// now is injectable for tests; nil means time.Now.
func PruneJob(p store.Pruner, ttl time.Duration, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := now().Add(-ttl)
		res, err := p.PruneExpired(ctx, cutoff)
		if err != nil {
			slog.Error("Scheduler.PruneJob: sweep failed", "error", err)
			return
		}
		if res.Dialogs > 0 || res.Dedup > 0 {
			slog.Info("Scheduler.PruneJob: expired state removed", "dialogs", res.Dialogs, "dedup", res.Dedup, "cutoff", cutoff)
		}
		if res.Unprocessed > 0 {
			slog.Warn("Scheduler.PruneJob: events received but never answered", "count", res.Unprocessed, "cutoff", cutoff)
		}
	}
}
