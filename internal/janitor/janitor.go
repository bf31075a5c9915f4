// Package janitor runs periodic housekeeping: purging expired quarantine
// entries and reporting idle workspaces.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
)

// Schedules accept an optional seconds field and descriptors such as "@every 1m".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// IdleSource lists users idle since a cutoff.
type IdleSource interface {
	IdleSince(cutoff time.Time) []int64
}

type Options struct {
	Root                string
	QuarantineRetention time.Duration
	PurgeSchedule       string

	Idle         IdleSource
	IdleTimeout  time.Duration
	IdleSchedule string
	// OnIdle, if set, receives the idle users found by each sweep.
	OnIdle func(ctx context.Context, userIDs []int64)

	Logger *slog.Logger
}

type Janitor struct {
	opts   Options
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	started bool
}

func New(opts Options) (*Janitor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{opts: opts, logger: logger, now: time.Now}
	j.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if opts.PurgeSchedule != "" {
		if opts.Root == "" || opts.QuarantineRetention <= 0 {
			return nil, errors.New("quarantine purge needs a root and a positive retention")
		}
		if _, err := j.cron.AddFunc(opts.PurgeSchedule, func() { j.Purge() }); err != nil {
			return nil, fmt.Errorf("purge schedule %q: %w", opts.PurgeSchedule, err)
		}
	}
	if opts.IdleSchedule != "" {
		if opts.Idle == nil || opts.IdleTimeout <= 0 {
			return nil, errors.New("idle sweep needs an activity source and a positive timeout")
		}
		if _, err := j.cron.AddFunc(opts.IdleSchedule, func() { j.Sweep(context.Background()) }); err != nil {
			return nil, fmt.Errorf("idle schedule %q: %w", opts.IdleSchedule, err)
		}
	}
	return j, nil
}

// Start launches the scheduler in the background. It is a no-op when
// already started.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.started = true
	j.cron.Start()
	j.logger.Info("janitor started", "jobs", len(j.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs or ctx, whichever is first.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	j.mu.Unlock()
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Purge removes quarantine entries older than the retention.
func (j *Janitor) Purge() (int, error) {
	out := reclaim.BestEffort(j.logger, "quarantine_purge", func() reclaim.Outcome {
		return reclaim.FromResult(reclaim.PurgeQuarantine(j.opts.Root, j.opts.QuarantineRetention, j.now()))
	}, "root", j.opts.Root)
	return out.Removed, out.Err
}

// Sweep reports users idle beyond the timeout.
func (j *Janitor) Sweep(ctx context.Context) []int64 {
	idle := j.opts.Idle.IdleSince(j.now().Add(-j.opts.IdleTimeout))
	if len(idle) > 0 {
		j.logger.Info("idle workspaces", "count", len(idle), "timeout", j.opts.IdleTimeout)
	}
	if j.opts.OnIdle != nil && len(idle) > 0 {
		j.opts.OnIdle(ctx, idle)
	}
	return idle
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
