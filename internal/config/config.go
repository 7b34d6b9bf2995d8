package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device      DeviceConfig   `yaml:"device"`
	LessonsPath string         `yaml:"lessons_path"`
	Practice    PracticeConfig `yaml:"practice"`
	LogLevel    string         `yaml:"log_level"`
}

// DeviceConfig holds LinguaVibe band connection settings.
type DeviceConfig struct {
	AdapterID      string        `yaml:"adapter_id"`    // BlueZ adapter, e.g. "hci0"; empty = default
	NamePrefixes   []string      `yaml:"name_prefixes"` // advertised names accepted by scan
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // 0 disables the per-write bound
	ConnectRetries int           `yaml:"connect_retries"` // extra attempts after a failed connect
}

// PracticeConfig holds pronunciation practice settings.
type PracticeConfig struct {
	RecordingsDir string `yaml:"recordings_dir"`
	SampleRate    uint32 `yaml:"sample_rate"`
	Channels      uint32 `yaml:"channels"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "linguavibe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "linguavibe")

	return &Config{
		Device: DeviceConfig{
			NamePrefixes:   []string{"ESP32", "ESP"},
			ScanTimeout:    5 * time.Second,
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   2 * time.Second,
			ConnectRetries: 2,
		},
		LessonsPath: filepath.Join(dataDir, "lessons.yaml"),
		Practice: PracticeConfig{
			RecordingsDir: filepath.Join(dataDir, "recordings"),
			SampleRate:    16000,
			Channels:      1,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LessonsPath = expandTilde(cfg.LessonsPath)
	cfg.Practice.RecordingsDir = expandTilde(cfg.Practice.RecordingsDir)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. Returns the path written, or "" if a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	header := "# linguavibe configuration\n# See device.* for band connection settings.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if len(c.Device.NamePrefixes) == 0 {
		return fmt.Errorf("device.name_prefixes must not be empty")
	}
	for _, p := range c.Device.NamePrefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("device.name_prefixes must not contain empty prefixes")
		}
	}

	if c.Device.ScanTimeout <= 0 {
		return fmt.Errorf("device.scan_timeout must be > 0")
	}

	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}

	if c.Device.WriteTimeout < 0 {
		return fmt.Errorf("device.write_timeout must be >= 0")
	}

	if c.Device.ConnectRetries < 0 {
		return fmt.Errorf("device.connect_retries must be >= 0")
	}

	if c.LessonsPath == "" {
		return fmt.Errorf("lessons_path must not be empty")
	}

	if c.Practice.SampleRate == 0 {
		return fmt.Errorf("practice.sample_rate must be > 0")
	}

	if c.Practice.Channels == 0 {
		return fmt.Errorf("practice.channels must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
