// Package fileguard implements file operations inside workspace app directories
// guarded by an optimistic last-modified check.
//
// Creation is atomic: content goes to a temp file that is hard-linked into place,
// and link(2) fails if another writer created the target first. Updates write a
// temp file and rename it over the target while holding a per-path lock, so
// writers inside this process never interleave between check and rename.
// Writers in other processes can still race that window; edits are human-driven
// and the risk is accepted.
package fileguard

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// Info describes a file after an operation.
type Info struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	LastModifiedMs int64  `json:"lastModifiedMs"`
	IsDir          bool   `json:"isDir,omitempty"`
}

func infoOf(p string, fi fs.FileInfo) Info {
	return Info{Path: p, Size: fi.Size(), LastModifiedMs: fi.ModTime().UnixMilli(), IsDir: fi.IsDir()}
}

// Guard performs guarded file operations.
type Guard struct {
	logger *slog.Logger
	perm   os.FileMode

	mu    sync.Mutex
	locks map[string]*pathLock
}

// pathLock serialises operations on one path; refs counts holders and waiters.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger, perm: 0o644, locks: make(map[string]*pathLock)}
}

// lock acquires the lock for p. The returned func releases it and drops the
// entry once nobody else holds or waits for it.
func (g *Guard) lock(p string) func() {
	g.mu.Lock()
	l, ok := g.locks[p]
	if !ok {
		l = &pathLock{}
		g.locks[p] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, p)
		}
		g.mu.Unlock()
	}
}

func (g *Guard) lockCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

// Stat returns the current state of p.
func (g *Guard) Stat(p string) (Info, error) {
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, fmt.Errorf("%s: %w", filepath.Base(p), werr.ErrNotFound)
		}
		return Info{}, fmt.Errorf("stat %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
	}
	return infoOf(p, fi), nil
}

// Read returns the content of p and its state.
func (g *Guard) Read(p string) ([]byte, Info, error) {
	info, err := g.Stat(p)
	if err != nil {
		return nil, Info{}, err
	}
	if info.IsDir {
		return nil, Info{}, fmt.Errorf("%s is a directory: %w", filepath.Base(p), werr.ErrInvalidArgument)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, Info{}, fmt.Errorf("read %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
	}
	return b, info, nil
}

// check compares exp against the current state of p and returns the existing
// file info (nil when p does not exist).
func check(p string, exp Expectation, force bool) (prev fs.FileInfo, err error) {
	fi, statErr := os.Stat(p)
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w: %w", filepath.Base(p), werr.ErrIO, statErr)
	}
	if statErr == nil && fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", filepath.Base(p), werr.ErrInvalidArgument)
	}
	if force {
		return fi, nil
	}
	switch exp.mode {
	case modeUnset:
		return nil, fmt.Errorf("expected last-modified time required unless forced: %w", werr.ErrInvalidArgument)
	case modeNoCheck:
		return fi, nil
	case modeAbsent:
		if statErr == nil {
			return nil, fmt.Errorf("%s already exists (lastModified=%d): %w", filepath.Base(p), fi.ModTime().UnixMilli(), werr.ErrConcurrentModification)
		}
		return nil, nil
	default:
		if statErr != nil {
			return nil, fmt.Errorf("%s no longer exists, expected %s: %w", filepath.Base(p), exp, werr.ErrConcurrentModification)
		}
		if got := fi.ModTime().UnixMilli(); got != exp.ms {
			return nil, fmt.Errorf("%s changed (lastModified=%d, expected %d): %w", filepath.Base(p), got, exp.ms, werr.ErrConcurrentModification)
		}
		return fi, nil
	}
}

// Write replaces or creates p with content.
//
// With force the expectation is ignored. Otherwise an existing file must match
// ExpectModified exactly and a missing file requires ExpectAbsent; anything else
// fails with werr.ErrConcurrentModification. Missing parents fail with
// werr.ErrNotFound unless createParents is set.
func (g *Guard) Write(p string, content []byte, exp Expectation, force, createParents bool) (Info, error) {
	info, err := g.write(p, content, exp, force, createParents)
	switch {
	case err == nil && force:
		metrics.ObserveWrite("forced")
	case err == nil:
		metrics.ObserveWrite("ok")
	case errors.Is(err, werr.ErrConcurrentModification):
		metrics.ObserveWrite("conflict")
		g.logger.Info("guarded write rejected", "path", p, "expect", exp.String(), "error", err)
	default:
		metrics.ObserveWrite("error")
	}
	return info, err
}

func (g *Guard) write(p string, content []byte, exp Expectation, force, createParents bool) (Info, error) {
	if !force && !exp.IsSet() {
		return Info{}, fmt.Errorf("expected last-modified time required unless forced: %w", werr.ErrInvalidArgument)
	}
	dir := filepath.Dir(p)
	if err := ensureDir(dir, createParents); err != nil {
		return Info{}, err
	}

	unlock := g.lock(p)
	defer unlock()

	prev, err := check(p, exp, force)
	if err != nil {
		return Info{}, err
	}
	tmp, err := writeTemp(dir, content, g.perm)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = os.Remove(tmp) }()

	if prev != nil {
		bumpModTime(tmp, prev.ModTime())
	}

	if !force && exp.mode == modeAbsent {
		// link fails with EEXIST if a concurrent creator won
		if err := os.Link(tmp, p); err != nil {
			if errors.Is(err, os.ErrExist) {
				return Info{}, fmt.Errorf("%s created concurrently: %w", filepath.Base(p), werr.ErrConcurrentModification)
			}
			return Info{}, fmt.Errorf("create %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
		}
	} else if err := os.Rename(tmp, p); err != nil {
		return Info{}, fmt.Errorf("replace %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
	}
	return g.Stat(p)
}

// Rename moves from to to. to must not exist. When not forced, exp is checked
// against from.
func (g *Guard) Rename(from, to string, exp Expectation, force, createParents bool) (Info, error) {
	if !force && !exp.IsSet() {
		return Info{}, fmt.Errorf("expected last-modified time required unless forced: %w", werr.ErrInvalidArgument)
	}
	if _, err := os.Lstat(from); errors.Is(err, os.ErrNotExist) {
		return Info{}, fmt.Errorf("%s: %w", filepath.Base(from), werr.ErrNotFound)
	}
	if err := ensureDir(filepath.Dir(to), createParents); err != nil {
		return Info{}, err
	}
	unlock := g.lock(from)
	defer unlock()
	if !force && exp.mode != modeNoCheck {
		fi, err := os.Stat(from)
		if err != nil {
			return Info{}, fmt.Errorf("stat %s: %w: %w", filepath.Base(from), werr.ErrIO, err)
		}
		if exp.mode != modeModified || fi.ModTime().UnixMilli() != exp.ms {
			return Info{}, fmt.Errorf("%s changed (lastModified=%d, expected %s): %w", filepath.Base(from), fi.ModTime().UnixMilli(), exp, werr.ErrConcurrentModification)
		}
	}
	if _, err := os.Lstat(to); err == nil {
		return Info{}, fmt.Errorf("%s already exists: %w", filepath.Base(to), werr.ErrConcurrentModification)
	}
	if err := os.Rename(from, to); err != nil {
		return Info{}, fmt.Errorf("rename %s: %w: %w", filepath.Base(from), werr.ErrIO, err)
	}
	return g.Stat(to)
}

// Delete removes p (recursively for directories). A missing target is NotFound.
func (g *Guard) Delete(p string, exp Expectation, force bool) error {
	if !force && !exp.IsSet() {
		return fmt.Errorf("expected last-modified time required unless forced: %w", werr.ErrInvalidArgument)
	}
	unlock := g.lock(p)
	defer unlock()
	fi, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Base(p), werr.ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
	}
	if !force && exp.mode != modeNoCheck {
		if exp.mode != modeModified || fi.ModTime().UnixMilli() != exp.ms {
			return fmt.Errorf("%s changed (lastModified=%d, expected %s): %w", filepath.Base(p), fi.ModTime().UnixMilli(), exp, werr.ErrConcurrentModification)
		}
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
	}
	return nil
}

// Mkdir creates p and any missing parents.
func (g *Guard) Mkdir(p string) (Info, error) {
	if err := os.MkdirAll(p, 0o755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return Info{}, fmt.Errorf("%s: parent is a file: %w", filepath.Base(p), werr.ErrInvalidArgument)
		}
		return Info{}, fmt.Errorf("mkdir %s: %w: %w", filepath.Base(p), werr.ErrIO, err)
	}
	return g.Stat(p)
}

func ensureDir(dir string, create bool) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("parent %s is not a directory: %w", filepath.Base(dir), werr.ErrInvalidArgument)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat parent %s: %w: %w", filepath.Base(dir), werr.ErrIO, err)
	}
	if !create {
		return fmt.Errorf("parent directory %s does not exist: %w", filepath.Base(dir), werr.ErrNotFound)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parents of %s: %w: %w", filepath.Base(dir), werr.ErrIO, err)
	}
	return nil
}

func writeTemp(dir string, content []byte, perm os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, ".fg-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w: %w", werr.ErrIO, err)
	}
	name := f.Name()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w: %w", werr.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("sync temp file: %w: %w", werr.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp file: %w: %w", werr.ErrIO, err)
	}
	if err := os.Chmod(name, perm); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("chmod temp file: %w: %w", werr.ErrIO, err)
	}
	return name, nil
}

// bumpModTime makes the replacement's mtime strictly later than prev at
// millisecond precision, so an expectation captured before the write can
// never match after it.
func bumpModTime(p string, prev time.Time) {
	fi, err := os.Stat(p)
	if err != nil {
		return
	}
	if fi.ModTime().UnixMilli() > prev.UnixMilli() {
		return
	}
	next := time.UnixMilli(prev.UnixMilli() + 1)
	_ = os.Chtimes(p, next, next)
}
