package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. FUNWS_GATE_SHARED_TOKEN.
const EnvPrefix = "FUNWS"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Workspace WorkspaceConfig `toml:"workspace" mapstructure:"workspace"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Gate      GateConfig      `toml:"gate" mapstructure:"gate"`
	Reclaim   ReclaimConfig   `toml:"reclaim" mapstructure:"reclaim"`
	Activity  ActivityConfig  `toml:"activity" mapstructure:"activity"`
	Janitor   JanitorConfig   `toml:"janitor" mapstructure:"janitor"`
	Store     DSNConfig       `toml:"store" mapstructure:"store"`
	History   DSNConfig       `toml:"history" mapstructure:"history"`
	Git       GitConfig       `toml:"git" mapstructure:"git"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
}

type WorkspaceConfig struct {
	Root     string `toml:"root" mapstructure:"root"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type GateConfig struct {
	SharedToken string `toml:"shared_token" mapstructure:"shared_token"`
}

type ReclaimConfig struct {
	Attempts            int           `toml:"attempts" mapstructure:"attempts"`
	Backoff             time.Duration `toml:"backoff" mapstructure:"backoff"`
	QuarantineRetention time.Duration `toml:"quarantine_retention" mapstructure:"quarantine_retention"`
}

type ActivityConfig struct {
	IdleTimeout time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
}

type JanitorConfig struct {
	PurgeSchedule string `toml:"purge_schedule" mapstructure:"purge_schedule"`
	IdleSchedule  string `toml:"idle_schedule" mapstructure:"idle_schedule"`
}

type DSNConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type GitConfig struct {
	Binary         string   `toml:"binary" mapstructure:"binary"`
	RemoteTemplate string   `toml:"remote_template" mapstructure:"remote_template"`
	Env            []string `toml:"env" mapstructure:"env"`
	EnvFiles       []string `toml:"env_files" mapstructure:"env_files"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// Logger converts the [log] section.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Color:      l.Color,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.root", "")
	v.SetDefault("workspace.base_path", "/workspace")
	v.SetDefault("server.listen", "127.0.0.1:7001")
	v.SetDefault("gate.shared_token", "")
	v.SetDefault("reclaim.attempts", 3)
	v.SetDefault("reclaim.backoff", "200ms")
	v.SetDefault("reclaim.quarantine_retention", "72h")
	v.SetDefault("activity.idle_timeout", "30m")
	v.SetDefault("janitor.purge_schedule", "@every 1h")
	v.SetDefault("janitor.idle_schedule", "@every 1m")
	v.SetDefault("store.dsn", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("git.binary", "git")
	v.SetDefault("git.remote_template", "")
	v.SetDefault("git.env", []string{})
	v.SetDefault("git.env_files", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9101")
}

// Load reads path (TOML) on top of the defaults and applies FUNWS_* env
// overrides. An empty path loads defaults and env only.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	// store.dsn defaults next to the workspace root
	if fc.Store.DSN == "" && fc.Workspace.Root != "" {
		fc.Store.DSN = filepath.Join(fc.Workspace.Root, ".funws.db")
	}
	return &fc, nil
}

// Validate reports every problem found, joined.
func (c *FileConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Workspace.Root) == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Reclaim.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("reclaim.attempts must be positive, got %d", c.Reclaim.Attempts))
	}
	if c.Reclaim.Backoff < 0 {
		errs = append(errs, fmt.Errorf("reclaim.backoff must not be negative, got %s", c.Reclaim.Backoff))
	}
	if c.Activity.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("activity.idle_timeout must be positive, got %s", c.Activity.IdleTimeout))
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GitEnv merges the git environment: env_files contents in order, then the
// env list overriding last.
func (g GitConfig) GitEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range g.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range g.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
