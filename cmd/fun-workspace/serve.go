package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	funws "github.com/ruiAndroid/fun-ai-studio-workspace"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/config"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/janitor"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// daemon owns the listeners and background jobs of `serve`.
type daemon struct {
	cfg     *config.FileConfig
	logger  *slog.Logger
	ws      *funws.Workspace
	janitor *janitor.Janitor

	api        *http.Server
	apiLn      net.Listener
	metrics    *http.Server
	metricsLn  net.Listener
	serveErrCh chan error
}

func newDaemon(ctx context.Context, cfg *config.FileConfig, logger *slog.Logger) (*daemon, error) {
	ws, err := funws.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	j, err := janitor.New(janitor.Options{
		Root:                cfg.Workspace.Root,
		QuarantineRetention: cfg.Reclaim.QuarantineRetention,
		PurgeSchedule:       cfg.Janitor.PurgeSchedule,
		Idle:                ws.Service().Activity(),
		IdleTimeout:         cfg.Activity.IdleTimeout,
		IdleSchedule:        cfg.Janitor.IdleSchedule,
		Logger:              logger,
	})
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return &daemon{
		cfg:        cfg,
		logger:     logger,
		ws:         ws,
		janitor:    j,
		api:        ws.NewHTTPServer(cfg.Server.Listen, cfg.Workspace.BasePath, logger),
		serveErrCh: make(chan error, 2),
	}, nil
}

// start binds the listeners and serves in the background.
func (d *daemon) start() error {
	ln, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Server.Listen, err)
	}
	d.apiLn = ln
	go d.serve(d.api, ln)

	if d.cfg.Metrics.Enabled {
		if err := funws.RegisterMetricsDefault(); err != nil {
			d.logger.Warn("failed to register metrics", "error", err)
		}
		mln, err := net.Listen("tcp", d.cfg.Metrics.Listen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen metrics %s: %w", d.cfg.Metrics.Listen, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", funws.MetricsHandler())
		d.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		d.metricsLn = mln
		go d.serve(d.metrics, mln)
	}

	d.janitor.Start()
	d.logger.Info("workspace daemon started",
		"listen", ln.Addr().String(),
		"base_path", d.cfg.Workspace.BasePath,
		"root", d.cfg.Workspace.Root,
		"metrics", d.cfg.Metrics.Enabled)
	return nil
}

func (d *daemon) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.serveErrCh <- err
	}
}

// addr is the bound API address; empty before start.
func (d *daemon) addr() string {
	if d.apiLn == nil {
		return ""
	}
	return d.apiLn.Addr().String()
}

func (d *daemon) shutdown(ctx context.Context) error {
	d.janitor.Stop(ctx)
	err := d.api.Shutdown(ctx)
	if d.metrics != nil {
		err = errors.Join(err, d.metrics.Shutdown(ctx))
	}
	return errors.Join(err, d.ws.Close())
}

func runServe(ctx context.Context, flags *ServeFlags) error {
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace.Root, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace root %s: %w", cfg.Workspace.Root, err)
	}

	log, closer, err := logger.Setup(cfg.Log.Logger())
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := d.start(); err != nil {
		_ = d.ws.Close()
		return err
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			log.Warn("failed to write pid file", "path", flags.PidFile, "error", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-sigCtx.Done():
		log.Info("shutting down")
	case serveErr = <-d.serveErrCh:
		log.Error("server failed", "error", serveErr)
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, d.shutdown(shCtx))
}
