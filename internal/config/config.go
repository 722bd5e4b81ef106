// Package config handles configuration loading, validation, and hot
// reload for the link cleaner daemon and its clients.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LINKCLEANER_"

// Config holds the complete configuration.
type Config struct {
	Monitor MonitorConfig `toml:"monitor" json:"monitor" yaml:"monitor"`
	IPC     IPCConfig     `toml:"ipc" json:"ipc" yaml:"ipc"`
	Store   StoreConfig   `toml:"store" json:"store" yaml:"store"`
	Web     WebConfig     `toml:"web" json:"web" yaml:"web"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
	Sync    SyncConfig    `toml:"sync" json:"sync" yaml:"sync"`
}

// MonitorConfig controls the background clipboard monitor.
type MonitorConfig struct {
	// Enabled is the state the monitor starts in.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// IntervalMs is the clipboard poll interval.
	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`

	// ReadOnly reports cleaned links without rewriting the clipboard.
	ReadOnly bool `toml:"read_only" json:"read_only" yaml:"read_only"`

	// MaxBytes skips clipboard contents larger than this.
	MaxBytes int `toml:"max_bytes" json:"max_bytes" yaml:"max_bytes"`

	// ExtraParams are additional query parameter names to remove.
	ExtraParams []string `toml:"extra_params" json:"extra_params" yaml:"extra_params"`

	// ExtraPrefixes are additional query parameter prefixes to remove.
	ExtraPrefixes []string `toml:"extra_prefixes" json:"extra_prefixes" yaml:"extra_prefixes"`

	// Notify shows a desktop notification for every cleaned clipboard.
	Notify bool `toml:"notify" json:"notify" yaml:"notify"`
}

// IPCConfig holds the local socket configuration.
type IPCConfig struct {
	Enabled        bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	SocketPath     string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	Permissions    string `toml:"permissions" json:"permissions" yaml:"permissions"`
	MaxConnections int    `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	TimeoutSec     int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// StoreConfig holds event history persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Retain is the number of events kept; older ones are pruned. Zero
	// keeps everything.
	Retain int `toml:"retain" json:"retain" yaml:"retain"`
}

// WebConfig holds the HTTP API.
type WebConfig struct {
	Enabled        bool     `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen         string   `toml:"listen" json:"listen" yaml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	MaxBodyBytes   int64    `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`

	// RateLimit is requests per second per client address on /api.
	// Zero disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr or file.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// SyncConfig holds front-end timings.
type SyncConfig struct {
	CopyFeedbackMs int `toml:"copy_feedback_ms" json:"copy_feedback_ms" yaml:"copy_feedback_ms"`
	NoticeMs       int `toml:"notice_ms" json:"notice_ms" yaml:"notice_ms"`
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// CopyFeedback returns the copy feedback duration.
func (s SyncConfig) CopyFeedback() time.Duration {
	return time.Duration(s.CopyFeedbackMs) * time.Millisecond
}

// Notice returns the notice duration.
func (s SyncConfig) Notice() time.Duration {
	return time.Duration(s.NoticeMs) * time.Millisecond
}

// PollInterval returns the reconciler pull cadence.
func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// Interval returns the monitor poll interval.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

// DefaultConfig returns a configuration with defaults.
func DefaultConfig() *Config {
	data := DataDir()

	return &Config{
		Monitor: MonitorConfig{
			Enabled:    true,
			IntervalMs: 250,
			MaxBytes:   1 << 20,
			Notify:     false,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     DefaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 16,
			TimeoutSec:     30,
		},
		Store: StoreConfig{
			Path:   filepath.Join(data, "history.db"),
			Retain: 500,
		},
		Web: WebConfig{
			Enabled:      false,
			Listen:       "127.0.0.1:8765",
			MaxBodyBytes: 1 << 20,
			RateLimit:    20,
			RateBurst:    40,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(data, "linkcleanerd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Sync: SyncConfig{
			CopyFeedbackMs: 1500,
			NoticeMs:       3000,
			PollIntervalMs: 700,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from path, or the default path when empty. A
// missing file yields defaults. The format follows the extension: .toml,
// .json, .yaml or .yml; anything else is read as TOML. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// Save writes cfg to path in the format its extension selects.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies LINKCLEANER_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	boolean("MONITOR_ENABLED", &c.Monitor.Enabled)
	integer("MONITOR_INTERVAL_MS", &c.Monitor.IntervalMs)
	boolean("MONITOR_READ_ONLY", &c.Monitor.ReadOnly)
	boolean("MONITOR_NOTIFY", &c.Monitor.Notify)
	str("SOCKET_PATH", &c.IPC.SocketPath)
	str("STORE_PATH", &c.Store.Path)
	boolean("WEB_ENABLED", &c.Web.Enabled)
	str("WEB_LISTEN", &c.Web.Listen)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)
	str("LOG_PATH", &c.Logging.FilePath)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Monitor.ExtraParams = append([]string(nil), c.Monitor.ExtraParams...)
	clone.Monitor.ExtraPrefixes = append([]string(nil), c.Monitor.ExtraPrefixes...)
	clone.Web.AllowedOrigins = append([]string(nil), c.Web.AllowedOrigins...)
	return &clone
}
