package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSweepSchedule = "@every 1m"

// Janitor periodically sweeps expired records out of a Store.
type Janitor struct {
	store    *Store
	ttl      time.Duration
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

func NewJanitor(log *slog.Logger, store *Store, ttl time.Duration, schedule string) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	logger := log.With(slog.String("service", "session_janitor"))
	cl := cronLogger{logger: logger}
	return &Janitor{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		now:      time.Now,
	}
}

// Start registers the sweep job and starts the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.Sweep); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.logger.Info("session janitor started", slog.String("schedule", j.schedule), slog.Duration("ttl", j.ttl))
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one expiry pass.
func (j *Janitor) Sweep() {
	removed := j.store.SweepExpired(j.now(), j.ttl)
	if removed > 0 {
		j.logger.Debug("expired sessions removed", slog.Int("removed", removed), slog.Int("remaining", j.store.Len()))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
