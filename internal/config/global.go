// Package config loads and saves user-level preferences from
// ~/.parley/config.json.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Defaults applied when the config file is absent or fields are zero.
const (
	DefaultSessionBound     = 16
	DefaultHistoryLimit     = 200
	DefaultCachedMessageCap = 500
	DefaultCachedSessionCap = 64
	DefaultSpawnToolName    = "Task"
)

// GlobalConfig holds user-level preferences stored in ~/.parley/config.json.
type GlobalConfig struct {
	BackendURL string `json:"backend_url,omitempty"` // ws:// or wss:// endpoint; empty = mDNS discovery
	AuthToken  string `json:"auth_token,omitempty"`

	// SessionBound caps the number of session records kept resident in
	// memory; least-recently-touched records are evicted beyond it.
	SessionBound int `json:"session_bound,omitempty"`

	// HistoryLimit is the maximum number of messages requested per remote
	// history fetch.
	HistoryLimit int `json:"history_limit,omitempty"`

	// CachePath overrides the default local cache database location.
	CachePath string `json:"cache_path,omitempty"`

	// CachedMessageCap / CachedSessionCap bound the local cache; oldest
	// entries are dropped by the cache adapter when exceeded.
	CachedMessageCap int `json:"cached_message_cap,omitempty"`
	CachedSessionCap int `json:"cached_session_cap,omitempty"`

	// SpawnToolName is the tool name treated as a subagent spawn.
	SpawnToolName string `json:"spawn_tool_name,omitempty"`
}

// Dir returns the parley config directory (~/.parley), creating it if needed.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	dir := filepath.Join(home, ".parley")
	os.MkdirAll(dir, 0755)
	return dir
}

// configPath returns the full path to ~/.parley/config.json.
func configPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Load reads the global config, returning defaults when no file exists.
func Load() (*GlobalConfig, error) {
	data, err := os.ReadFile(configPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &GlobalConfig{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the global config to ~/.parley/config.json.
func Save(cfg *GlobalConfig) error {
	if cfg == nil {
		cfg = &GlobalConfig{}
	}
	applyDefaults(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath(), data, 0644)
}

// CacheFile returns the effective cache database path.
func (c *GlobalConfig) CacheFile() string {
	if strings.TrimSpace(c.CachePath) != "" {
		return c.CachePath
	}
	return filepath.Join(Dir(), "cache.db")
}

func applyDefaults(cfg *GlobalConfig) {
	if cfg.SessionBound <= 0 {
		cfg.SessionBound = DefaultSessionBound
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.CachedMessageCap <= 0 {
		cfg.CachedMessageCap = DefaultCachedMessageCap
	}
	if cfg.CachedSessionCap <= 0 {
		cfg.CachedSessionCap = DefaultCachedSessionCap
	}
	if strings.TrimSpace(cfg.SpawnToolName) == "" {
		cfg.SpawnToolName = DefaultSpawnToolName
	}
}
