package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	funws "github.com/ruiAndroid/fun-ai-studio-workspace"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/config"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
	"github.com/ruiAndroid/fun-ai-studio-workspace/pkg/client"
)

// command carries the output stream so tests can capture it.
type command struct {
	out io.Writer
}

func (c command) withOut(cmd *cobra.Command) command {
	return command{out: cmd.OutOrStdout()}
}

func (c command) writer() io.Writer {
	if c.out == nil {
		return os.Stdout
	}
	return c.out
}

func (c command) printJSON(v any) error {
	enc := json.NewEncoder(c.writer())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAPIClient(f APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = strings.TrimRight(f.APIUrl, "/")
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.Token = f.Token
	return client.New(cfg)
}

func (c command) Logs(ctx context.Context, f LogsFlags) error {
	api := newAPIClient(f.API)
	q := client.LogQuery{UserID: f.UserID, AppID: f.AppID, Type: f.Type, TailBytes: f.TailBytes}
	if f.Stream {
		return api.StreamLog(ctx, q, c.writer())
	}
	res, err := api.ReadLog(ctx, q)
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func (c command) PortLookup(ctx context.Context, f PortFlags) error {
	port, err := newAPIClient(f.API).LookupPort(ctx, f.UserID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.writer(), port)
	return err
}

func (c command) PortAssign(ctx context.Context, f PortFlags) error {
	if err := newAPIClient(f.API).AssignPort(ctx, f.UserID, f.Port); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.writer(), "user %d -> port %d\n", f.UserID, f.Port)
	return err
}

func (c command) PortRelease(ctx context.Context, f PortFlags) error {
	if err := newAPIClient(f.API).ReleasePort(ctx, f.UserID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.writer(), "user %d released\n", f.UserID)
	return err
}

func (c command) AppCreate(ctx context.Context, f AppFlags) error {
	app, err := newAPIClient(f.API).CreateApp(ctx, f.UserID, f.AppID, f.Name)
	if err != nil {
		return err
	}
	return c.printJSON(app)
}

func (c command) AppList(ctx context.Context, f AppFlags) error {
	apps, err := newAPIClient(f.API).ListApps(ctx, f.UserID)
	if err != nil {
		return err
	}
	return c.printJSON(apps)
}

func (c command) AppDelete(ctx context.Context, f AppFlags) error {
	rep, err := newAPIClient(f.API).DeleteApp(ctx, f.UserID, f.AppID)
	if err != nil {
		return err
	}
	return c.printJSON(rep)
}

type reclaimReport struct {
	UserID    int64           `json:"userId"`
	AppID     int64           `json:"appId"`
	Directory reclaim.Outcome `json:"directory"`
	Logs      reclaim.Outcome `json:"logs"`
	Errors    []string        `json:"errors,omitempty"`
}

type purgeReport struct {
	Root      string        `json:"root"`
	Retention time.Duration `json:"retention"`
	Removed   int           `json:"removed"`
}

// Reclaim works directly on the local filesystem. The app record, if any,
// is left to the daemon.
func (c command) Reclaim(ctx context.Context, f ReclaimFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Root != "" {
		cfg.Workspace.Root = f.Root
		cfg.Store.DSN = ""
	}
	if cfg.Workspace.Root == "" {
		return errors.New("workspace root required: use --root or [workspace].root")
	}

	if f.Purge {
		n, err := reclaim.PurgeQuarantine(cfg.Workspace.Root, cfg.Reclaim.QuarantineRetention, time.Now())
		if err != nil {
			return err
		}
		return c.printJSON(purgeReport{Root: cfg.Workspace.Root, Retention: cfg.Reclaim.QuarantineRetention, Removed: n})
	}
	if f.UserID <= 0 || f.AppID <= 0 {
		return errors.New("--user and --app are required unless --purge is set")
	}

	// one-shot command: log to stderr, never to the daemon's log file
	logger, err := cfg.Log.Logger().New(os.Stderr)
	if err != nil {
		return err
	}

	ws, err := funws.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	svc := ws.Service()
	dir, err := svc.Layout().AppDir(f.UserID, f.AppID)
	if err != nil {
		return err
	}
	rep := svc.Cleanup(ctx, f.UserID, f.AppID, dir)
	out := reclaimReport{UserID: f.UserID, AppID: f.AppID, Directory: rep.Directory, Logs: rep.Logs}
	for _, o := range []reclaim.Outcome{rep.Directory, rep.Logs} {
		if o.Err != nil {
			out.Errors = append(out.Errors, o.Error())
		}
	}
	return c.printJSON(out)
}
