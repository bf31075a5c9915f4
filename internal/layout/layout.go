package layout

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

const (
	runDirName        = "run"
	metaFileName      = "current.json"
	quarantineDirName = ".quarantine"
)

// Layout maps (user, app) identifiers to canonical on-disk locations:
//
//	<root>/<userId>/run/current.json
//	<root>/<userId>/run/run-<op>-<appId>-<epochMillis>.log
//	<root>/<userId>/<appId>/...
//
// It never touches the filesystem.
type Layout struct {
	root string
}

// New returns a Layout rooted at root. root must be non-blank.
func New(root string) (Layout, error) {
	r := strings.TrimSpace(root)
	if r == "" {
		return Layout{}, fmt.Errorf("workspace root not configured: %w", werr.ErrInvalidArgument)
	}
	return Layout{root: filepath.Clean(r)}, nil
}

// Root returns the host root all user directories live under.
func (l Layout) Root() string { return l.root }

func (l Layout) check() error {
	if l.root == "" {
		return fmt.Errorf("workspace root not configured: %w", werr.ErrInvalidArgument)
	}
	return nil
}

func checkID(name string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%s must be positive, got %d: %w", name, id, werr.ErrInvalidArgument)
	}
	return nil
}

// UserRoot is <root>/<userId>, the parent of all of a user's app directories.
func (l Layout) UserRoot(userID int64) (string, error) {
	if err := l.check(); err != nil {
		return "", err
	}
	if err := checkID("userId", userID); err != nil {
		return "", err
	}
	return filepath.Join(l.root, strconv.FormatInt(userID, 10)), nil
}

// AppDir is <root>/<userId>/<appId>.
func (l Layout) AppDir(userID, appID int64) (string, error) {
	ur, err := l.UserRoot(userID)
	if err != nil {
		return "", err
	}
	if err := checkID("appId", appID); err != nil {
		return "", err
	}
	return filepath.Join(ur, strconv.FormatInt(appID, 10)), nil
}

// RunDir holds the user's run metadata record and run logs.
func (l Layout) RunDir(userID int64) (string, error) {
	ur, err := l.UserRoot(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(ur, runDirName), nil
}

// MetaPath is the location of the user's single run metadata record.
func (l Layout) MetaPath(userID int64) (string, error) {
	rd, err := l.RunDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(rd, metaFileName), nil
}

// QuarantineDir holds app directories that could not be deleted.
// It sits next to the app directories so a rename never crosses devices.
func (l Layout) QuarantineDir(userID int64) (string, error) {
	ur, err := l.UserRoot(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(ur, quarantineDirName), nil
}

// Resolve joins a slash-separated path relative to the app directory.
// Absolute paths and paths escaping the app directory are rejected.
func (l Layout) Resolve(userID, appID int64, rel string) (string, error) {
	dir, err := l.AppDir(userID, appID)
	if err != nil {
		return "", err
	}
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("path required: %w", werr.ErrInvalidArgument)
	}
	if strings.ContainsRune(rel, '\\') || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("path %q must be relative and slash-separated: %w", rel, werr.ErrInvalidArgument)
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the app directory: %w", rel, werr.ErrInvalidArgument)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}
