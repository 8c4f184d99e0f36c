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

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "ZIPSTAGE_CONFIG"

type Config struct {
	Workers           int    `yaml:"workers"`
	QueueDepth        int    `yaml:"queue_depth"`
	CompressionLevel  int    `yaml:"compression_level"`
	MaxDecompressSize uint64 `yaml:"max_decompress_size"`
	StagePrefix       string `yaml:"stage_prefix"`
	LogLevel          string `yaml:"log_level"`
	PollInterval      string `yaml:"poll_interval"`
}

func DefaultConfig() (*Config, error) {
	return &Config{
		Workers:           4,
		QueueDepth:        16,
		CompressionLevel:  3,
		MaxDecompressSize: 10 * 1024 * 1024 * 1024, // 10GB
		StagePrefix:       "zipstage",
		LogLevel:          "info",
		PollInterval:      "50ms",
	}, nil
}

func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return ExpandPath(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".zipstage", "config.yaml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, falling back to defaults when the file
// does not exist. Fields missing from the file keep their default values.
func LoadFrom(path string) (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports every out-of-range field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("queue_depth must not be negative, got %d", c.QueueDepth))
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("compression_level must be 1..9, got %d", c.CompressionLevel))
	}
	if c.MaxDecompressSize == 0 {
		errs = append(errs, errors.New("max_decompress_size must be positive"))
	}
	if c.StagePrefix == "" || strings.ContainsAny(c.StagePrefix, `/\`) {
		errs = append(errs, fmt.Errorf("stage_prefix must be a plain name, got %q", c.StagePrefix))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Interval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Interval returns the parsed poll interval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll_interval must be positive, got %s", d)
	}
	return d, nil
}

// ParseLogLevel maps a config log level onto slog.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("log_level: unknown level %q", level)
	}
	return l, nil
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
