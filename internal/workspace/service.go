// Package workspace composes the workspace components into the operations
// served over HTTP and the CLI.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/activity"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/fileguard"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/gitops"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/history"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/layout"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/portgate"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runlog"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runmeta"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

type Options struct {
	Root        string
	SharedToken string
	Reclaim     reclaim.Options

	Store    store.Store
	Git      gitops.Git
	History  history.Sink
	Activity *activity.Tracker
	Logger   *slog.Logger
}

// Service is safe for concurrent use.
type Service struct {
	layout    layout.Layout
	meta      *runmeta.Store
	disc      *runlog.Discoverer
	reader    *runlog.Reader
	guard     *fileguard.Guard
	reclaimer *reclaim.Reclaimer
	gate      *portgate.Gate
	activity  *activity.Tracker
	store     store.Store
	git       gitops.Git
	history   history.Sink
	logger    *slog.Logger
}

func New(opts Options) (*Service, error) {
	l, err := layout.New(opts.Root)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, errors.New("workspace service requires a store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	if opts.Activity == nil {
		opts.Activity = activity.New()
	}
	if opts.Git == nil {
		opts.Git = gitops.NewCLI(gitops.Options{Logger: logger})
	}
	if opts.Reclaim.Logger == nil {
		opts.Reclaim.Logger = logger
	}
	meta := runmeta.NewStore(l, logger)
	disc := runlog.NewDiscoverer(l, meta, logger)
	return &Service{
		layout:    l,
		meta:      meta,
		disc:      disc,
		reader:    runlog.NewReader(disc, logger),
		guard:     fileguard.New(logger),
		reclaimer: reclaim.New(opts.Reclaim),
		gate:      portgate.New(opts.SharedToken, opts.Store, opts.Activity, logger),
		activity:  opts.Activity,
		store:     opts.Store,
		git:       opts.Git,
		history:   opts.History,
		logger:    logger,
	}, nil
}

func (s *Service) Layout() layout.Layout       { return s.layout }
func (s *Service) Activity() *activity.Tracker { return s.activity }
func (s *Service) RunMeta() *runmeta.Store     { return s.meta }
func (s *Service) Gate() *portgate.Gate        { return s.gate }

// emit sends e to the history sink; failures are logged and dropped.
func (s *Service) emit(ctx context.Context, e history.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := s.history.Send(ctx, e); err != nil {
		s.logger.Warn("history send failed", "event", e.Type, "user", e.UserID, "app", e.AppID, "error", err)
	}
}

// CreateApp registers an app and creates its directory.
func (s *Service) CreateApp(ctx context.Context, userID, appID int64, name string) (store.App, error) {
	dir, err := s.layout.AppDir(userID, appID)
	if err != nil {
		return store.App{}, err
	}
	app := store.App{UserID: userID, AppID: appID, Name: name, CreatedAt: time.Now()}
	if err := s.store.CreateApp(ctx, app); err != nil {
		return store.App{}, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		if rerr := s.store.DeleteApp(ctx, userID, appID); rerr != nil {
			s.logger.Warn("app record rollback failed", "user", userID, "app", appID, "error", rerr)
		}
		return store.App{}, fmt.Errorf("create app dir: %w: %w", werr.ErrIO, err)
	}
	s.logger.Info("app created", "user", userID, "app", appID)
	s.emit(ctx, history.Event{Type: history.EventAppCreated, UserID: userID, AppID: appID, Outcome: "ok", Detail: name})
	return app, nil
}

func (s *Service) ListApps(ctx context.Context, userID int64) ([]store.App, error) {
	if _, err := s.layout.UserRoot(userID); err != nil {
		return nil, err
	}
	return s.store.ListApps(ctx, userID)
}

// DeleteReport carries the best-effort cleanup outcomes of DeleteApp.
type DeleteReport struct {
	Directory reclaim.Outcome `json:"directory"`
	Logs      reclaim.Outcome `json:"logs"`
}

// DeleteApp removes the app record, then reclaims the app directory and its
// run logs. Only the record deletion can fail the call; cleanup problems are
// reported in the DeleteReport and logged. A missing record counts as already
// deleted, so leftovers of unregistered apps are still reclaimed.
func (s *Service) DeleteApp(ctx context.Context, userID, appID int64) (DeleteReport, error) {
	dir, err := s.layout.AppDir(userID, appID)
	if err != nil {
		return DeleteReport{}, err
	}
	outcome := "ok"
	if err := s.store.DeleteApp(ctx, userID, appID); err != nil {
		if !errors.Is(err, werr.ErrNotFound) {
			return DeleteReport{}, err
		}
		s.logger.Info("app record absent, reclaiming leftovers", "user", userID, "app", appID)
		outcome = "absent"
	}
	s.emit(ctx, history.Event{Type: history.EventAppDeleted, UserID: userID, AppID: appID, Outcome: outcome})
	return s.Cleanup(ctx, userID, appID, dir), nil
}

// Cleanup reclaims dir and the app's run logs. It never fails.
func (s *Service) Cleanup(ctx context.Context, userID, appID int64, dir string) DeleteReport {
	attrs := []any{"user", userID, "app", appID}
	var rep DeleteReport
	rep.Directory = reclaim.BestEffort(s.logger, "reclaim", func() reclaim.Outcome {
		q, err := s.layout.QuarantineDir(userID)
		if err != nil {
			return reclaim.Outcome{Status: reclaim.Failed, Path: dir, Err: err}
		}
		return s.reclaimer.Reclaim(dir, q)
	}, attrs...)
	s.emit(ctx, history.Event{Type: history.EventReclaim, UserID: userID, AppID: appID,
		Outcome: string(rep.Directory.Status), Detail: outcomeDetail(rep.Directory)})

	rep.Logs = reclaim.BestEffort(s.logger, "log_cleanup", func() reclaim.Outcome {
		return reclaim.FromResult(s.disc.Cleanup(userID, appID))
	}, attrs...)
	metrics.AddLogsCleaned(rep.Logs.Removed)
	s.emit(ctx, history.Event{Type: history.EventLogCleanup, UserID: userID, AppID: appID,
		Outcome: string(rep.Logs.Status), Detail: outcomeDetail(rep.Logs)})
	return rep
}

func outcomeDetail(o reclaim.Outcome) string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.QuarantinePath != "":
		return o.QuarantinePath
	case o.Removed > 0:
		return fmt.Sprintf("%d files", o.Removed)
	default:
		return ""
	}
}

// ReadLog serves the current log of kind for an app.
func (s *Service) ReadLog(userID, appID int64, kind string, tailBytes int64) (runlog.Result, error) {
	k, err := runlog.ParseKind(kind)
	if err != nil {
		return runlog.Result{}, err
	}
	return s.reader.Fetch(userID, appID, k, tailBytes)
}

// StreamLog is ReadLog writing the log body to w.
func (s *Service) StreamLog(w io.Writer, userID, appID int64, kind string, tailBytes int64) (runlog.Result, error) {
	k, err := runlog.ParseKind(kind)
	if err != nil {
		return runlog.Result{}, err
	}
	return s.reader.Stream(w, userID, appID, k, tailBytes)
}

// LookupPort serves the reverse proxy's port query.
func (s *Service) LookupPort(ctx context.Context, userID int64, token, remoteAddr string) (int, error) {
	return s.gate.Lookup(ctx, userID, token, remoteAddr)
}

// AssignPort records the port the supervisor started userID's workspace on.
func (s *Service) AssignPort(ctx context.Context, token, remoteAddr string, userID int64, port int) error {
	if err := s.gate.Authorize(token, remoteAddr); err != nil {
		return err
	}
	if err := s.store.AssignPort(ctx, userID, port); err != nil {
		return err
	}
	s.activity.Touch(userID)
	s.logger.Info("port assigned", "user", userID, "port", port)
	s.emit(ctx, history.Event{Type: history.EventPortAssigned, UserID: userID, Outcome: "ok", Detail: fmt.Sprint(port)})
	return nil
}

// ReleasePort clears userID's assignment and forgets its activity.
func (s *Service) ReleasePort(ctx context.Context, token, remoteAddr string, userID int64) error {
	if err := s.gate.Authorize(token, remoteAddr); err != nil {
		return err
	}
	if err := s.store.ReleasePort(ctx, userID); err != nil {
		return err
	}
	s.activity.Forget(userID)
	s.logger.Info("port released", "user", userID)
	s.emit(ctx, history.Event{Type: history.EventPortReleased, UserID: userID, Outcome: "ok"})
	return nil
}

func (s *Service) GitStatus(ctx context.Context, userID, appID int64) (gitops.Status, error) {
	dir, err := s.layout.AppDir(userID, appID)
	if err != nil {
		return gitops.Status{}, err
	}
	return s.git.Status(ctx, dir)
}

func (s *Service) GitEnsure(ctx context.Context, userID, appID int64) (gitops.EnsureResult, error) {
	dir, err := s.layout.AppDir(userID, appID)
	if err != nil {
		return gitops.EnsureResult{}, err
	}
	return s.git.Ensure(ctx, gitops.Target{UserID: userID, AppID: appID, Dir: dir})
}
