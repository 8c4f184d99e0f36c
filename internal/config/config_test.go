package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// withHome points HOME at a fresh temp dir and clears the path override.
func withHome(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv(EnvConfigPath, "")
	return tempDir
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, expected %d", cfg.Workers, 4)
	}
	if cfg.QueueDepth != 16 {
		t.Errorf("QueueDepth = %d, expected %d", cfg.QueueDepth, 16)
	}
	if cfg.CompressionLevel != 3 {
		t.Errorf("CompressionLevel = %d, expected %d", cfg.CompressionLevel, 3)
	}
	if cfg.StagePrefix != "zipstage" {
		t.Errorf("StagePrefix = %q, expected %q", cfg.StagePrefix, "zipstage")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingConfig(t *testing.T) {
	withHome(t)

	// Load config - should return defaults when file missing
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed for missing config: %v", err)
	}

	if cfg.Workers != 4 {
		t.Errorf("Expected default workers, got %d", cfg.Workers)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tempDir := withHome(t)

	configDir := filepath.Join(tempDir, ".zipstage")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
workers: 8
queue_depth: 2
compression_level: 6
stage_prefix: staging
log_level: debug
poll_interval: 16ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, expected %d", cfg.Workers, 8)
	}
	if cfg.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, expected %d", cfg.QueueDepth, 2)
	}
	if cfg.CompressionLevel != 6 {
		t.Errorf("CompressionLevel = %d, expected %d", cfg.CompressionLevel, 6)
	}
	if cfg.StagePrefix != "staging" {
		t.Errorf("StagePrefix = %q, expected %q", cfg.StagePrefix, "staging")
	}
	if d, _ := cfg.Interval(); d != 16*time.Millisecond {
		t.Errorf("Interval = %v, expected 16ms", d)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("workers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, expected 2", cfg.Workers)
	}
	// Unspecified fields keep defaults
	if cfg.QueueDepth != 16 {
		t.Errorf("QueueDepth = %d, expected default 16", cfg.QueueDepth)
	}
	if cfg.MaxDecompressSize != 10*1024*1024*1024 {
		t.Errorf("MaxDecompressSize = %d, expected default", cfg.MaxDecompressSize)
	}
}

func TestLoadMalformedConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("this: is: not: valid: yaml: [[["), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadFrom(configPath); err == nil {
		t.Error("LoadFrom should fail for malformed YAML")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	content := "workers: 0\ncompression_level: 12\nlog_level: loud\npoll_interval: soon\nstage_prefix: a/b\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(configPath)
	if err == nil {
		t.Fatal("LoadFrom should reject invalid values")
	}
	for _, field := range []string{"workers", "compression_level", "log_level", "poll_interval", "stage_prefix"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s: %v", field, err)
		}
	}
}

func TestSaveConfig(t *testing.T) {
	tempDir := withHome(t)

	cfg, _ := DefaultConfig()
	cfg.Workers = 3
	cfg.LogLevel = "warn"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	configPath := filepath.Join(tempDir, ".zipstage", "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load after save failed: %v", err)
	}
	if loaded.Workers != 3 || loaded.LogLevel != "warn" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestConfigPathOverride(t *testing.T) {
	tempDir := t.TempDir()
	custom := filepath.Join(tempDir, "custom.yaml")
	t.Setenv(EnvConfigPath, custom)

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath failed: %v", err)
	}
	if path != custom {
		t.Errorf("ConfigPath = %q, expected %q", path, custom)
	}
}

func TestConfigPathDefault(t *testing.T) {
	tempDir := withHome(t)

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath failed: %v", err)
	}
	expected := filepath.Join(tempDir, ".zipstage", "config.yaml")
	if path != expected {
		t.Errorf("ConfigPath = %q, expected %q", path, expected)
	}
}

func TestExpandPath(t *testing.T) {
	tempDir := withHome(t)

	tests := []struct {
		input    string
		expected string
	}{
		{"~/archives", filepath.Join(tempDir, "archives")},
		{"~", tempDir},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		got, err := ExpandPath(tt.input)
		if err != nil {
			t.Errorf("ExpandPath(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ExpandPath(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"chatty", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLogLevel(%q) error = %v, ok expected %v", tt.input, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, expected %v", tt.input, got, tt.want)
		}
	}
}

func TestIntervalRejectsNonPositive(t *testing.T) {
	cfg, _ := DefaultConfig()
	cfg.PollInterval = "0s"
	if _, err := cfg.Interval(); err == nil {
		t.Error("Interval should reject zero")
	}
}
