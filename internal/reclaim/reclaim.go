package reclaim

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 200 * time.Millisecond
)

// Status is the result of a best-effort housekeeping step.
type Status string

const (
	Deleted     Status = "deleted"
	Quarantined Status = "quarantined"
	Failed      Status = "failed"
)

// Outcome is returned instead of an error so callers can log and inspect
// failures without aborting the operation that triggered the cleanup.
type Outcome struct {
	Status         Status        `json:"status"`
	Path           string        `json:"path,omitempty"`
	Attempts       int           `json:"attempts"`
	QuarantinePath string        `json:"quarantinePath,omitempty"`
	Removed        int           `json:"removed,omitempty"`
	Holders        []Holder      `json:"holders,omitempty"`
	Took           time.Duration `json:"took"`
	Err            error         `json:"-"`
}

// Error returns the failure message, if any.
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

type Options struct {
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
	// Holders reports processes with files open under a directory; used for
	// diagnostics when deletion fails. Defaults to FindHolders.
	Holders func(dir string) []Holder
}

// Reclaimer deletes workspace directories, quarantining them when deletion
// keeps failing.
type Reclaimer struct {
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	holders  func(dir string) []Holder

	removeAll func(string) error
	rename    func(string, string) error
	sleep     func(time.Duration)
	now       func() time.Time
}

func New(opts Options) *Reclaimer {
	r := &Reclaimer{
		attempts:  opts.Attempts,
		backoff:   opts.Backoff,
		logger:    opts.Logger,
		holders:   opts.Holders,
		removeAll: os.RemoveAll,
		rename:    os.Rename,
		sleep:     time.Sleep,
		now:       time.Now,
	}
	if r.attempts <= 0 {
		r.attempts = DefaultAttempts
	}
	if r.backoff < 0 {
		r.backoff = DefaultBackoff
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.holders == nil {
		r.holders = FindHolders
	}
	return r
}

// Reclaim removes dir. Deletion is attempted up to the configured number of
// times with a fixed backoff; if every attempt fails the directory is renamed
// into quarantineDir as <name>-<epochMillis>. A missing dir counts as deleted.
// Reclaim blocks for at most attempts*backoff plus the filesystem calls.
func (r *Reclaimer) Reclaim(dir, quarantineDir string) Outcome {
	start := r.now()
	out := r.reclaim(dir, quarantineDir)
	out.Took = r.now().Sub(start)
	metrics.ObserveReclaim(string(out.Status), out.Took)
	return out
}

func (r *Reclaimer) reclaim(dir, quarantineDir string) Outcome {
	out := Outcome{Path: dir}
	if dir == "" {
		out.Status = Failed
		out.Err = fmt.Errorf("empty directory: %w", werr.ErrInvalidArgument)
		return out
	}
	if _, err := os.Lstat(dir); errors.Is(err, os.ErrNotExist) {
		out.Status = Deleted
		return out
	}
	var lastErr error
	for i := 1; i <= r.attempts; i++ {
		out.Attempts = i
		lastErr = r.removeAll(dir)
		if lastErr == nil {
			out.Status = Deleted
			return out
		}
		r.logger.Debug("directory delete attempt failed", "dir", dir, "attempt", i, "error", lastErr)
		if i < r.attempts && r.backoff > 0 {
			r.sleep(r.backoff)
		}
	}
	out.Holders = r.holders(dir)

	if quarantineDir == "" {
		out.Status = Failed
		out.Err = fmt.Errorf("delete %s after %d attempts: %w: %w", dir, out.Attempts, werr.ErrCleanup, lastErr)
		return out
	}
	target := filepath.Join(quarantineDir, filepath.Base(dir)+"-"+strconv.FormatInt(r.now().UnixMilli(), 10))
	if err := os.MkdirAll(quarantineDir, 0o750); err != nil {
		out.Status = Failed
		out.Err = fmt.Errorf("delete %s failed (%v) and quarantine dir unavailable: %w: %w", dir, lastErr, werr.ErrCleanup, err)
		return out
	}
	if err := r.rename(dir, target); err != nil {
		out.Status = Failed
		out.Err = fmt.Errorf("delete %s failed (%v) and quarantine rename failed: %w: %w", dir, lastErr, werr.ErrCleanup, err)
		return out
	}
	out.Status = Quarantined
	out.QuarantinePath = target
	out.Err = lastErr
	return out
}

// BestEffort runs a housekeeping step and never lets its failure escape:
// panics become Failed outcomes, and anything other than Deleted is logged at
// warning level. The outcome is returned for inspection.
func BestEffort(logger *slog.Logger, step string, fn func() Outcome, attrs ...any) (out Outcome) {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{Status: Failed, Err: fmt.Errorf("%s panicked: %v: %w", step, rec, werr.ErrCleanup)}
		}
		args := append([]any{"step", step, "status", out.Status}, attrs...)
		switch out.Status {
		case Deleted:
			logger.Info("housekeeping done", append(args, "removed", out.Removed, "attempts", out.Attempts)...)
		case Quarantined:
			logger.Warn("housekeeping fell back to quarantine", append(args, "quarantine", out.QuarantinePath, "error", out.Error())...)
		default:
			logger.Warn("housekeeping failed", append(args, "error", out.Error(), "holders", len(out.Holders))...)
		}
	}()
	out = fn()
	if out.Status == "" {
		out.Status = Failed
		if out.Err == nil {
			out.Err = fmt.Errorf("%s returned no status: %w", step, werr.ErrCleanup)
		}
	}
	return out
}

// FromResult adapts a (removed, error) housekeeping result to an Outcome.
func FromResult(removed int, err error) Outcome {
	if err != nil {
		return Outcome{Status: Failed, Removed: removed, Attempts: 1, Err: fmt.Errorf("%w: %w", werr.ErrCleanup, err)}
	}
	return Outcome{Status: Deleted, Removed: removed, Attempts: 1}
}
