// Package funws embeds the workspace daemon: load a config, open the
// backing stores and serve the HTTP API from your own process.
package funws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/config"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/gitops"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/history"
	historyfactory "github.com/ruiAndroid/fun-ai-studio-workspace/internal/history/factory"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/server"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store"
	storefactory "github.com/ruiAndroid/fun-ai-studio-workspace/internal/store/factory"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/workspace"
)

// Re-exported so embedders need not import internal packages.
type (
	Config       = config.FileConfig
	Service      = workspace.Service
	DeleteReport = workspace.DeleteReport
	FileRequest  = workspace.FileRequest
	FileResult   = workspace.FileResult
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Workspace is an opened service together with the stores it owns.
type Workspace struct {
	svc     *workspace.Service
	store   store.Store
	history history.Sink
}

// Open connects the store and history sink named in cfg and builds the
// service. Close releases them.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := cfg.Store.DSN
	if dsn == "" {
		dsn = filepath.Join(cfg.Workspace.Root, ".funws.db")
	}
	st, err := storefactory.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	w := &Workspace{store: st}

	sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("open history sink: %w", err)
	}
	w.history = sink
	if t, ok := sink.(interface{ EnsureTable(context.Context) error }); ok {
		if err := t.EnsureTable(ctx); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("prepare history table: %w", err)
		}
	}

	gitEnv, err := cfg.Git.GitEnv()
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("git env: %w", err)
	}
	git := gitops.NewCLI(gitops.Options{
		Binary:         cfg.Git.Binary,
		RemoteTemplate: cfg.Git.RemoteTemplate,
		Env:            gitEnv,
		Logger:         logger,
	})

	svc, err := workspace.New(workspace.Options{
		Root:        cfg.Workspace.Root,
		SharedToken: cfg.Gate.SharedToken,
		Reclaim: reclaim.Options{
			Attempts: cfg.Reclaim.Attempts,
			Backoff:  cfg.Reclaim.Backoff,
			Logger:   logger,
		},
		Store:   st,
		Git:     git,
		History: sink,
		Logger:  logger,
	})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	w.svc = svc
	return w, nil
}

func (w *Workspace) Service() *Service { return w.svc }

// Handler serves the HTTP API under basePath.
func (w *Workspace) Handler(basePath string, logger *slog.Logger) http.Handler {
	return server.NewRouter(w.svc, basePath, logger).Handler()
}

// NewHTTPServer returns an unstarted server for the API.
func (w *Workspace) NewHTTPServer(addr, basePath string, logger *slog.Logger) *http.Server {
	return server.NewServer(addr, basePath, w.svc, logger)
}

func (w *Workspace) Close() error {
	var err error
	if c, ok := w.history.(io.Closer); ok {
		err = c.Close()
	}
	if w.store != nil {
		if cerr := w.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
