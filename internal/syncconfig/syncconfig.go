// Package syncconfig loads the user-level ct configuration: which backend to
// sync with and how. Values resolve env > config.json > default.
package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/ct/internal/history"
	"github.com/marcus/ct/internal/remote"
)

// SheetsConfig configures the spreadsheet proxy backend.
type SheetsConfig struct {
	URL       string `json:"url,omitempty"`
	SheetName string `json:"sheet_name,omitempty"`
}

// RealtimeConfig configures the document store backend.
type RealtimeConfig struct {
	URL    string `json:"url,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

// SyncConfig holds sync timing settings.
type SyncConfig struct {
	Interval string `json:"interval,omitempty"` // duration string, default "60s"
	Timeout  string `json:"timeout,omitempty"`  // duration string, default "15s"
	Auto     *bool  `json:"auto,omitempty"`     // nil = default true
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Config is the global ct config stored at ~/.config/ct/config.json.
type Config struct {
	Backend  string         `json:"backend,omitempty"`
	Sheets   SheetsConfig   `json:"sheets,omitempty"`
	Realtime RealtimeConfig `json:"realtime,omitempty"`
	Sync     SyncConfig     `json:"sync,omitempty"`
	History  struct {
		Size int `json:"size,omitempty"`
	} `json:"history,omitempty"`
	Log LogConfig `json:"log,omitempty"`
}

const configFile = "config.json"

// ConfigDir returns the config directory, creating it if necessary.
// CT_CONFIG_DIR overrides ~/.config/ct.
func ConfigDir() (string, error) {
	dir := os.Getenv("CT_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "ct")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads config.json. A missing file yields an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return &cfg, nil
}

// SaveConfig writes config.json using an atomic temp file + rename.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// tokens may live here
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, configFile)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func loaded() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return &Config{}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

func parseDuration(env, file string, def time.Duration) time.Duration {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if file != "" {
		if d, err := time.ParseDuration(file); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// GetBackend returns the configured backend kind.
// Priority: CT_BACKEND env > config.json backend > none.
// An unknown value falls back to none.
func GetBackend() remote.Kind {
	k, err := remote.ParseKind(envOr("CT_BACKEND", loaded().Backend))
	if err != nil {
		return remote.KindPassive
	}
	return k
}

// GetSyncInterval returns the polling period.
// Priority: CT_SYNC_INTERVAL env > config.json sync.interval > 60s
func GetSyncInterval() time.Duration {
	return parseDuration("CT_SYNC_INTERVAL", loaded().Sync.Interval, 60*time.Second)
}

// GetSyncTimeout returns the per-request backend timeout.
// Priority: CT_SYNC_TIMEOUT env > config.json sync.timeout > 15s
func GetSyncTimeout() time.Duration {
	return parseDuration("CT_SYNC_TIMEOUT", loaded().Sync.Timeout, remote.DefaultTimeout)
}

// GetAutoSyncEnabled returns whether mutations trigger a sync.
// Priority: CT_SYNC_AUTO env > config.json sync.auto > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("CT_SYNC_AUTO"); v != nil {
		return *v
	}
	if a := loaded().Sync.Auto; a != nil {
		return *a
	}
	return true
}

// GetHistorySize returns the undo history bound.
// Priority: CT_HISTORY_SIZE env > config.json history.size > 50
func GetHistorySize() int {
	if v := os.Getenv("CT_HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if n := loaded().History.Size; n > 0 {
		return n
	}
	return history.DefaultMaxEntries
}

// GetLogLevel returns the slog level name.
// Priority: CT_LOG_LEVEL env > config.json log.level > warn
func GetLogLevel() string {
	return strings.ToLower(envOr("CT_LOG_LEVEL", defaulted(loaded().Log.Level, "warn")))
}

// GetLogFormat returns text or json.
// Priority: CT_LOG_FORMAT env > config.json log.format > text
func GetLogFormat() string {
	return strings.ToLower(envOr("CT_LOG_FORMAT", defaulted(loaded().Log.Format, "text")))
}

func defaulted(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// RemoteConfig resolves everything the adapter factory needs.
func RemoteConfig() remote.Config {
	cfg := loaded()
	return remote.Config{
		Kind: GetBackend(),
		Sheets: remote.SheetsConfig{
			URL:       envOr("CT_SHEETS_URL", cfg.Sheets.URL),
			SheetName: envOr("CT_SHEETS_NAME", cfg.Sheets.SheetName),
		},
		Realtime: remote.RealtimeConfig{
			URL:    envOr("CT_REALTIME_URL", cfg.Realtime.URL),
			UserID: envOr("CT_USER_ID", cfg.Realtime.UserID),
			Token:  envOr("CT_REALTIME_TOKEN", cfg.Realtime.Token),
		},
		Timeout: GetSyncTimeout(),
	}
}

// SetBackend persists a backend selection, keeping unrelated settings.
func SetBackend(b BackendConfig) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	b.applyTo(cfg)
	return SaveConfig(cfg)
}
