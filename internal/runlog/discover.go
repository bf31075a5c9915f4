package runlog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/layout"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runmeta"
)

// FileName builds the conventional log name run-<op>-<appId>-<epochMillis>.log.
func FileName(kind Kind, appID, epochMillis int64) string {
	return fmt.Sprintf("run-%s-%d-%d.log", kind.Op(), appID, epochMillis)
}

// parseTimestamp returns the <ts> of name if it is a log of op for appID.
func parseTimestamp(name, op string, appID int64) (int64, bool) {
	prefix := "run-" + op + "-" + strconv.FormatInt(appID, 10) + "-"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
	if ts == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// Discoverer locates the authoritative log file for a (user, app, kind).
type Discoverer struct {
	layout layout.Layout
	meta   *runmeta.Store
	logger *slog.Logger
}

func NewDiscoverer(l layout.Layout, meta *runmeta.Store, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{layout: l, meta: meta, logger: logger}
}

// Located is a discovered log file together with the run record consulted.
type Located struct {
	Path string
	// Meta is the user's run record, if any, regardless of whether it pointed at Path.
	Meta *runmeta.Meta
	// FromMeta is true when Path came from the run record rather than a scan.
	FromMeta bool
}

// Resolve returns the current log file. ok is false when no candidate exists,
// including when the run directory is missing.
//
// For BUILD, a run record for the same app wins over scanning when the file it
// names exists. Every other kind scans: the largest timestamp suffix wins and
// malformed names are skipped.
func (d *Discoverer) Resolve(userID, appID int64, kind Kind) (Located, bool, error) {
	runDir, err := d.layout.RunDir(userID)
	if err != nil {
		return Located{}, false, err
	}
	if _, err := d.layout.AppDir(userID, appID); err != nil {
		return Located{}, false, err
	}
	var loc Located
	if d.meta != nil {
		if m, ok := d.meta.Load(userID); ok {
			loc.Meta = m
			if kind == KindBuild && m.AppID == appID && m.Type == kind.MetaType() {
				if name := m.LogName(); name != "" {
					p := filepath.Join(runDir, name)
					if _, err := os.Stat(p); err == nil {
						loc.Path = p
						loc.FromMeta = true
						return loc, true, nil
					}
					d.logger.Debug("run metadata points at missing log, scanning", "user", userID, "app", appID, "log", name)
				}
			}
		}
	}
	p, ok, err := d.scan(runDir, kind.Op(), appID)
	if err != nil || !ok {
		return loc, false, err
	}
	loc.Path = p
	return loc, true, nil
}

func (d *Discoverer) scan(runDir, op string, appID int64) (string, bool, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("scan run dir: %w", err)
	}
	best := int64(-1)
	bestName := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := parseTimestamp(e.Name(), op, appID)
		if !ok {
			continue
		}
		if ts > best {
			best = ts
			bestName = e.Name()
		}
	}
	if bestName == "" {
		return "", false, nil
	}
	return filepath.Join(runDir, bestName), true, nil
}

// Cleanup removes every historical log of appID from the user's run directory
// and returns how many files were removed. The first removal error is returned
// after attempting all files.
func (d *Discoverer) Cleanup(userID, appID int64) (int, error) {
	runDir, err := d.layout.RunDir(userID)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan run dir: %w", err)
	}
	removed := 0
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !isAppLog(e.Name(), appID) {
			continue
		}
		if err := os.Remove(filepath.Join(runDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", e.Name(), err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func isAppLog(name string, appID int64) bool {
	for _, k := range []Kind{KindBuild, KindInstall, KindPreview} {
		if _, ok := parseTimestamp(name, k.Op(), appID); ok {
			return true
		}
	}
	return false
}
