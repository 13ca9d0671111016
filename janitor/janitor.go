// Package janitor removes terminal jobs and their completions from the
// store after a retention period. Purging is housekeeping only; the
// queue core never requires it for correctness, so the sweeper can run
// in any number of processes, on any schedule, or not at all.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/famedly/requeuest/job"
)

// cronParser supports standard 5-field cron and descriptors like
// "@every 1h" or "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression into a schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the sweeper's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// Sweeper periodically purges terminal jobs older than the retention
// period.
type Sweeper struct {
	store     job.Store
	schedule  cronlib.Schedule
	retention time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Sweeper that runs on the given cron schedule and
// removes terminal jobs whose last update is older than retention.
func New(store job.Store, scheduleExpr string, retention time.Duration, opts ...Option) (*Sweeper, error) {
	schedule, err := ParseSchedule(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("janitor: parse schedule %q: %w", scheduleExpr, err)
	}

	s := &Sweeper{
		store:     store,
		schedule:  schedule,
		retention: retention,
		logger:    slog.Default(),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the sweep loop.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("janitor started",
		slog.Duration("retention", s.retention),
		slog.Time("next_sweep", s.schedule.Next(time.Now())),
	)
	return nil
}

// Stop signals the loop to stop and waits for it to finish. A sweep in
// flight completes first.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("janitor stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		now := time.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.sweep()
		}
	}
}

// Sweep runs one purge immediately, outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.store.PurgeTerminal(ctx, s.retention)
}

func (s *Sweeper) sweep() {
	removed, err := s.store.PurgeTerminal(context.Background(), s.retention)
	if err != nil {
		s.logger.Error("purge error", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.logger.Info("purged terminal jobs", slog.Int64("removed", removed))
	}
}
