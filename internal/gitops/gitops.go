// Package gitops keeps an application directory in sync with its remote
// repository by shelling out to the git binary.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Result is the outcome of Ensure.
type Result string

const (
	Cloned          Result = "CLONED"
	Pulled          Result = "PULLED"
	AlreadyUpToDate Result = "ALREADY_UP_TO_DATE"
	NeedCommit      Result = "NEED_COMMIT"
	NeedConfirm     Result = "NEED_CONFIRM"
	Failed          Result = "FAILED"
)

type Status struct {
	IsRepo bool   `json:"isRepo"`
	Dirty  bool   `json:"dirty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

type EnsureResult struct {
	Result      Result `json:"result"`
	Branch      string `json:"branch,omitempty"`
	CommitShort string `json:"commitShort,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Target identifies the app whose directory is being synchronised.
type Target struct {
	UserID int64
	AppID  int64
	Dir    string
}

// Git is the collaborator used by the workspace service.
type Git interface {
	Status(ctx context.Context, dir string) (Status, error)
	Ensure(ctx context.Context, t Target) (EnsureResult, error)
}

type Options struct {
	Binary string
	// RemoteTemplate is expanded with {userId} and {appId} to form the clone URL.
	RemoteTemplate string
	Env            []string
	Logger         *slog.Logger
}

// CLI implements Git with the git command line.
type CLI struct {
	bin      string
	template string
	env      []string
	logger   *slog.Logger
}

func NewCLI(opts Options) *CLI {
	c := &CLI{bin: opts.Binary, template: opts.RemoteTemplate, env: opts.Env, logger: opts.Logger}
	if c.bin == "" {
		c.bin = "git"
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// RemoteURL expands the remote template for an app.
func (c *CLI) RemoteURL(userID, appID int64) string {
	r := strings.NewReplacer("{userId}", strconv.FormatInt(userID, 10), "{appId}", strconv.FormatInt(appID, 10))
	return r.Replace(c.template)
}

func (c *CLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = dir
	cmd.Env = append(append(os.Environ(), "GIT_TERMINAL_PROMPT=0"), c.env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func isRepo(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && fi.IsDir()
}

func (c *CLI) Status(ctx context.Context, dir string) (Status, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{}, nil
		}
		return Status{}, err
	}
	if !isRepo(dir) {
		return Status{}, nil
	}
	st := Status{IsRepo: true}
	porcelain, err := c.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return st, err
	}
	st.Dirty = porcelain != ""
	if b, err := c.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		st.Branch = b
	}
	// an empty repository has no HEAD commit yet
	if h, err := c.run(ctx, dir, "rev-parse", "HEAD"); err == nil {
		st.Commit = h
	}
	return st, nil
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

func failed(err error) (EnsureResult, error) {
	return EnsureResult{Result: Failed, Message: err.Error()}, nil
}

// Ensure brings t.Dir in line with the remote. Git failures are reported as a
// FAILED result with a message; the returned error is reserved for invalid
// input.
func (c *CLI) Ensure(ctx context.Context, t Target) (EnsureResult, error) {
	if t.Dir == "" {
		return EnsureResult{}, errors.New("empty app directory")
	}
	if !isRepo(t.Dir) {
		return c.clone(ctx, t)
	}
	st, err := c.Status(ctx, t.Dir)
	if err != nil {
		return failed(err)
	}
	if st.Dirty {
		return EnsureResult{Result: NeedCommit, Branch: st.Branch, CommitShort: short(st.Commit), Message: "working tree has uncommitted changes"}, nil
	}
	if _, err := c.run(ctx, t.Dir, "pull", "--ff-only"); err != nil {
		c.logger.Warn("git pull failed", "user", t.UserID, "app", t.AppID, "error", err)
		return failed(err)
	}
	after, err := c.run(ctx, t.Dir, "rev-parse", "HEAD")
	if err != nil {
		return failed(err)
	}
	res := EnsureResult{Result: AlreadyUpToDate, Branch: st.Branch, CommitShort: short(after)}
	if after != st.Commit {
		res.Result = Pulled
	}
	return res, nil
}

func (c *CLI) clone(ctx context.Context, t Target) (EnsureResult, error) {
	entries, err := os.ReadDir(t.Dir)
	switch {
	case err == nil && len(entries) > 0:
		return EnsureResult{Result: NeedConfirm, Message: "directory is not empty and not a git repository"}, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return failed(err)
	}
	if c.template == "" {
		return failed(errors.New("no remote template configured"))
	}
	if err := os.MkdirAll(filepath.Dir(t.Dir), 0o750); err != nil {
		return failed(err)
	}
	url := c.RemoteURL(t.UserID, t.AppID)
	if _, err := c.run(ctx, filepath.Dir(t.Dir), "clone", url, t.Dir); err != nil {
		c.logger.Warn("git clone failed", "user", t.UserID, "app", t.AppID, "error", err)
		return failed(err)
	}
	st, err := c.Status(ctx, t.Dir)
	if err != nil {
		return failed(err)
	}
	c.logger.Info("app cloned", "user", t.UserID, "app", t.AppID, "branch", st.Branch)
	return EnsureResult{Result: Cloned, Branch: st.Branch, CommitShort: short(st.Commit)}, nil
}
