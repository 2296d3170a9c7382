package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nsls2/ariadne/internal/bluesky"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/ariadne.defaults.json"

// Source protocols accepted in subscribe_to.
const (
	ProtocolTCP   = "tcp"
	ProtocolRedis = "redis"
)

// Subscription describes one live document source.
type Subscription struct {
	Protocol string   `json:"protocol"`
	Addr     string   `json:"addr"`
	Channels []string `json:"channels,omitempty"` // redis only
	Codec    string   `json:"codec,omitempty"`    // redis only: json or cbor
}

// Config is the service configuration. Fields left out of the file are nil
// and the Get* methods supply their defaults, so partial files are safe.
type Config struct {
	Listen        *string `json:"listen,omitempty"`
	DBPath        *string `json:"db_path,omitempty"`
	ThumbnailDir  *string `json:"thumbnail_dir,omitempty"`
	LiveMaxRuns   *int    `json:"live_max_runs,omitempty"`
	ReplayMaxRuns *int    `json:"replay_max_runs,omitempty"`

	SubscribeTo      []Subscription `json:"subscribe_to,omitempty"`
	Replay           []string       `json:"replay,omitempty"` // JSONL globs
	ExportThumbnails *bool          `json:"export_thumbnails,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics when the file cannot be found, and is
// meant for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Listen != nil && strings.TrimSpace(*c.Listen) == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.LiveMaxRuns != nil && *c.LiveMaxRuns < 1 {
		return fmt.Errorf("live_max_runs must be at least 1, got %d", *c.LiveMaxRuns)
	}
	if c.ReplayMaxRuns != nil && *c.ReplayMaxRuns < 1 {
		return fmt.Errorf("replay_max_runs must be at least 1, got %d", *c.ReplayMaxRuns)
	}
	for i, s := range c.SubscribeTo {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("subscribe_to[%d]: %w", i, err)
		}
	}
	for _, pattern := range c.Replay {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid replay pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Validate checks one subscription.
func (s Subscription) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	switch s.Protocol {
	case ProtocolTCP:
	case ProtocolRedis:
		if len(s.Channels) == 0 {
			return fmt.Errorf("redis subscription to %s has no channels", s.Addr)
		}
		if _, err := bluesky.ParseCodec(s.Codec); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported protocol %q: expected tcp or redis", s.Protocol)
	}
	return nil
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the run journal path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "ariadne.db"
	}
	return *c.DBPath
}

// GetThumbnailDir returns the thumbnail root or the default.
func (c *Config) GetThumbnailDir() string {
	if c.ThumbnailDir == nil || *c.ThumbnailDir == "" {
		return "thumbnails"
	}
	return *c.ThumbnailDir
}

// GetLiveMaxRuns returns how many runs a live chart keeps.
func (c *Config) GetLiveMaxRuns() int {
	if c.LiveMaxRuns == nil {
		return 1
	}
	return *c.LiveMaxRuns
}

// GetReplayMaxRuns returns how many runs a replay chart keeps.
func (c *Config) GetReplayMaxRuns() int {
	if c.ReplayMaxRuns == nil {
		return 10
	}
	return *c.ReplayMaxRuns
}

// GetExportThumbnails reports whether completed runs get PNG thumbnails.
func (c *Config) GetExportThumbnails() bool {
	if c.ExportThumbnails == nil {
		return true
	}
	return *c.ExportThumbnails
}
