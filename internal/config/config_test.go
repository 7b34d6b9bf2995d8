package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Device.NamePrefixes) != 2 || cfg.Device.NamePrefixes[0] != "ESP32" || cfg.Device.NamePrefixes[1] != "ESP" {
		t.Errorf("Device.NamePrefixes = %v, want [ESP32 ESP]", cfg.Device.NamePrefixes)
	}
	if cfg.Device.ScanTimeout != 5*time.Second {
		t.Errorf("Device.ScanTimeout = %v, want 5s", cfg.Device.ScanTimeout)
	}
	if cfg.Device.WriteTimeout != 2*time.Second {
		t.Errorf("Device.WriteTimeout = %v, want 2s", cfg.Device.WriteTimeout)
	}
	if cfg.Device.ConnectRetries != 2 {
		t.Errorf("Device.ConnectRetries = %d, want 2", cfg.Device.ConnectRetries)
	}
	if cfg.LessonsPath == "" {
		t.Error("LessonsPath should not be empty")
	}
	if cfg.Practice.SampleRate != 16000 {
		t.Errorf("Practice.SampleRate = %d, want 16000", cfg.Practice.SampleRate)
	}
	if cfg.Practice.Channels != 1 {
		t.Errorf("Practice.Channels = %d, want 1", cfg.Practice.Channels)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  adapter_id: hci1
  name_prefixes: ["ESP32-LV"]
  scan_timeout: 8s
  connect_timeout: 15s
  write_timeout: 500ms
  connect_retries: 5
lessons_path: /tmp/lessons.yaml
practice:
  recordings_dir: /tmp/recordings
  sample_rate: 44100
  channels: 2
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.AdapterID != "hci1" {
		t.Errorf("Device.AdapterID = %q, want %q", cfg.Device.AdapterID, "hci1")
	}
	if len(cfg.Device.NamePrefixes) != 1 || cfg.Device.NamePrefixes[0] != "ESP32-LV" {
		t.Errorf("Device.NamePrefixes = %v, want [ESP32-LV]", cfg.Device.NamePrefixes)
	}
	if cfg.Device.ScanTimeout != 8*time.Second {
		t.Errorf("Device.ScanTimeout = %v, want 8s", cfg.Device.ScanTimeout)
	}
	if cfg.Device.ConnectTimeout != 15*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want 15s", cfg.Device.ConnectTimeout)
	}
	if cfg.Device.WriteTimeout != 500*time.Millisecond {
		t.Errorf("Device.WriteTimeout = %v, want 500ms", cfg.Device.WriteTimeout)
	}
	if cfg.Device.ConnectRetries != 5 {
		t.Errorf("Device.ConnectRetries = %d, want 5", cfg.Device.ConnectRetries)
	}
	if cfg.LessonsPath != "/tmp/lessons.yaml" {
		t.Errorf("LessonsPath = %q, want %q", cfg.LessonsPath, "/tmp/lessons.yaml")
	}
	if cfg.Practice.RecordingsDir != "/tmp/recordings" {
		t.Errorf("Practice.RecordingsDir = %q", cfg.Practice.RecordingsDir)
	}
	if cfg.Practice.SampleRate != 44100 || cfg.Practice.Channels != 2 {
		t.Errorf("Practice = %+v", cfg.Practice)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.ConnectTimeout != 10*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want default 10s", cfg.Device.ConnectTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
lessons_path: ~/lv/lessons.yaml
practice:
  recordings_dir: ~/lv/rec
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "lv/lessons.yaml"); cfg.LessonsPath != want {
		t.Errorf("LessonsPath = %q, want %q", cfg.LessonsPath, want)
	}
	if want := filepath.Join(home, "lv/rec"); cfg.Practice.RecordingsDir != want {
		t.Errorf("Practice.RecordingsDir = %q, want %q", cfg.Practice.RecordingsDir, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("device: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "no name prefixes",
			modify:  func(c *Config) { c.Device.NamePrefixes = nil },
			wantErr: true,
		},
		{
			name:    "blank name prefix",
			modify:  func(c *Config) { c.Device.NamePrefixes = []string{"ESP", " "} },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Device.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.Device.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "write timeout disabled",
			modify:  func(c *Config) { c.Device.WriteTimeout = 0 },
			wantErr: false,
		},
		{
			name:    "negative write timeout",
			modify:  func(c *Config) { c.Device.WriteTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative connect retries",
			modify:  func(c *Config) { c.Device.ConnectRetries = -1 },
			wantErr: true,
		},
		{
			name:    "empty lessons path",
			modify:  func(c *Config) { c.LessonsPath = "" },
			wantErr: true,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Practice.SampleRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero channels",
			modify:  func(c *Config) { c.Practice.Channels = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "linguavibe", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# linguavibe") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Device.ScanTimeout != 5*time.Second {
		t.Errorf("written config Device.ScanTimeout = %v, want 5s", cfg.Device.ScanTimeout)
	}
	if cfg.Practice.SampleRate != 16000 {
		t.Errorf("written config Practice.SampleRate = %d, want 16000", cfg.Practice.SampleRate)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "linguavibe")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("lessons_path: /custom/lessons.yaml\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
