package runmeta

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/layout"
)

// Type is the kind of operation a run record describes.
type Type string

const (
	TypeBuild   Type = "BUILD"
	TypeInstall Type = "INSTALL"
	TypeStart   Type = "START"
)

// Meta is the single record describing a user's most recent operation.
// Timestamps are epoch milliseconds; a nil FinishedAt means still running.
type Meta struct {
	AppID      int64  `json:"appId"`
	Type       Type   `json:"type"`
	LogPath    string `json:"logPath"`
	StartedAt  *int64 `json:"startedAt"`
	FinishedAt *int64 `json:"finishedAt"`
	ExitCode   *int   `json:"exitCode"`
}

// Terminated reports whether the record carries a finish time or an exit code.
func (m Meta) Terminated() bool { return m.FinishedAt != nil || m.ExitCode != nil }

// LogName returns the base name of LogPath so a record can never point outside the run directory.
func (m Meta) LogName() string {
	p := strings.TrimSpace(m.LogPath)
	if p == "" {
		return ""
	}
	base := filepath.Base(filepath.FromSlash(p))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// IsCurrentBuildFinished is true only for a BUILD record of appID that has terminated.
func IsCurrentBuildFinished(m *Meta, appID int64) bool {
	if m == nil || m.AppID != appID || m.Type != TypeBuild {
		return false
	}
	return m.Terminated()
}

// Store reads and writes run metadata records under a Layout.
type Store struct {
	layout layout.Layout
	logger *slog.Logger
}

func NewStore(l layout.Layout, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{layout: l, logger: logger}
}

// Load returns the user's record. Metadata is advisory: a missing directory,
// missing file or corrupt content all yield (nil, false) rather than an error.
func (s *Store) Load(userID int64) (*Meta, bool) {
	p, err := s.layout.MetaPath(userID)
	if err != nil {
		return nil, false
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("run metadata unreadable", "user", userID, "path", p, "error", err)
		}
		return nil, false
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		s.logger.Debug("run metadata corrupt", "user", userID, "path", p, "error", err)
		return nil, false
	}
	return &m, true
}

// Save overwrites the user's record wholesale via a temp file and rename,
// so readers never observe a partially written record.
func (s *Store) Save(userID int64, m Meta) error {
	p, err := s.layout.MetaPath(userID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run meta: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".current-*.json")
	if err != nil {
		return fmt.Errorf("create temp run meta: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write run meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close run meta: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace run meta: %w", err)
	}
	return nil
}
