package runlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runmeta"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// ReadRange returns the bytes of path selected by tailBytes: 0 means the
// whole file, N > 0 means the last N bytes as of the call. It is a snapshot,
// not a follow.
func ReadRange(path string, tailBytes int64) (string, error) {
	var sb strings.Builder
	if err := CopyRange(&sb, path, tailBytes); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// CopyRange writes the selected range of path to w.
func CopyRange(w io.Writer, path string, tailBytes int64) error {
	if tailBytes < 0 {
		return fmt.Errorf("tailBytes must not be negative: %w", werr.ErrInvalidArgument)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log %s: %w: %w", path, werr.ErrLogUnreadable, err)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log %s: %w: %w", path, werr.ErrLogUnreadable, err)
	}
	var src io.Reader = f
	if tailBytes > 0 {
		start := fi.Size() - tailBytes
		if start < 0 {
			start = 0
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("seek log %s: %w: %w", path, werr.ErrLogUnreadable, err)
		}
		// bound to the size observed at stat time so a growing file yields a snapshot
		src = io.LimitReader(f, fi.Size()-start)
	} else {
		src = io.LimitReader(f, fi.Size())
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("read log %s: %w: %w", path, werr.ErrLogUnreadable, err)
	}
	return nil
}

// Result is a served log.
type Result struct {
	Kind Kind
	Path string
	Log  string
	// IsFinish is set for BUILD logs only.
	IsFinish *bool
}

// Reader resolves and reads logs, applying the in-flight build policy.
type Reader struct {
	discoverer *Discoverer
	logger     *slog.Logger
}

func NewReader(d *Discoverer, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{discoverer: d, logger: logger}
}

// plan decides how much of the located file to serve.
// serve=false means the response carries an empty log without touching the file.
func plan(kind Kind, appID int64, loc Located, tailBytes int64) (tail int64, serve bool, isFinish *bool) {
	if kind != KindBuild {
		return tailBytes, true, nil
	}
	// The record describes the served file only when it matches app and type and
	// either named that file or named none. A scanned log found after the named
	// file went missing is historical and therefore complete.
	current := loc.Meta != nil && loc.Meta.AppID == appID && loc.Meta.Type == runmeta.TypeBuild &&
		(loc.FromMeta || loc.Meta.LogName() == "")
	finished := !current || runmeta.IsCurrentBuildFinished(loc.Meta, appID)
	if finished {
		return 0, true, &finished
	}
	if tailBytes <= 0 {
		return 0, false, &finished
	}
	return tailBytes, true, &finished
}

// Fetch locates and reads the log for (user, app, kind).
// It returns werr.ErrNotFound when no log exists and werr.ErrLogUnreadable when
// the located file cannot be read.
func (r *Reader) Fetch(userID, appID int64, kind Kind, tailBytes int64) (Result, error) {
	res, loc, tail, serve, err := r.prepare(userID, appID, kind, tailBytes)
	if err != nil {
		return res, err
	}
	if !serve {
		metrics.ObserveLogRead(string(kind), "deferred")
		return res, nil
	}
	text, err := ReadRange(loc.Path, tail)
	if err != nil {
		metrics.ObserveLogRead(string(kind), "unreadable")
		r.logger.Warn("log unreadable", "user", userID, "app", appID, "type", kind, "path", loc.Path, "error", err)
		return res, err
	}
	res.Log = text
	metrics.ObserveLogRead(string(kind), "ok")
	return res, nil
}

// Stream is Fetch writing the log to w instead of buffering it.
func (r *Reader) Stream(w io.Writer, userID, appID int64, kind Kind, tailBytes int64) (Result, error) {
	res, loc, tail, serve, err := r.prepare(userID, appID, kind, tailBytes)
	if err != nil || !serve {
		return res, err
	}
	if err := CopyRange(w, loc.Path, tail); err != nil {
		metrics.ObserveLogRead(string(kind), "unreadable")
		return res, err
	}
	metrics.ObserveLogRead(string(kind), "ok")
	return res, nil
}

func (r *Reader) prepare(userID, appID int64, kind Kind, tailBytes int64) (Result, Located, int64, bool, error) {
	res := Result{Kind: kind}
	if tailBytes < 0 {
		return res, Located{}, 0, false, fmt.Errorf("tailBytes must not be negative: %w", werr.ErrInvalidArgument)
	}
	loc, ok, err := r.discoverer.Resolve(userID, appID, kind)
	if err != nil {
		if errors.Is(err, werr.ErrInvalidArgument) {
			return res, loc, 0, false, err
		}
		return res, loc, 0, false, fmt.Errorf("%w: %w", werr.ErrLogUnreadable, err)
	}
	if !ok {
		metrics.ObserveLogRead(string(kind), "not_found")
		return res, loc, 0, false, fmt.Errorf("%s log for user %d app %d: %w", kind, userID, appID, werr.ErrNotFound)
	}
	res.Path = loc.Path
	tail, serve, isFinish := plan(kind, appID, loc, tailBytes)
	res.IsFinish = isFinish
	return res, loc, tail, serve, nil
}
