// Package config loads CLI configuration: a .mimir.yaml file merged with
// MIMIR_* environment overrides, mapped onto the library's options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory
// when --config is not given.
const DefaultFileName = ".mimir.yaml"

// Config is the CLI configuration schema.
type Config struct {
	// Instance is the instance name operated on. Default "default".
	Instance string `yaml:"instance"`
	// DataDir overrides the per-instance data directory.
	DataDir string `yaml:"data_dir"`
	// MasterKey protects the engine API when non-empty.
	MasterKey string `yaml:"master_key"`
	// EngineBinary overrides engine binary discovery.
	EngineBinary string `yaml:"engine_binary"`
	// ReadinessTimeout bounds engine startup, e.g. "30s".
	ReadinessTimeout string `yaml:"readiness_timeout"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// LogFile receives JSON logs when non-empty.
	LogFile string `yaml:"log_file"`

	Ingest IngestConfig `yaml:"ingest"`
}

// IngestConfig tunes the watch command.
type IngestConfig struct {
	// Index is the index uid files are ingested into.
	Index string `yaml:"index"`
	// Debounce is how long a file must stay quiet before ingest.
	Debounce string `yaml:"debounce"`
	// Workers bounds initial-scan parallelism.
	Workers int `yaml:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Instance:         "default",
		ReadinessTimeout: "30s",
		LogLevel:         "info",
		Ingest: IngestConfig{
			Index:    "documents",
			Debounce: "200ms",
			Workers:  4,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or DefaultFileName in the working directory when path is empty;
// a missing default file is not an error), then MIMIR_* env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultFileName
	}
	if err := cfg.loadYAML(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies MIMIR_* environment variables, which take
// precedence over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MIMIR_INSTANCE"); v != "" {
		c.Instance = v
	}
	if v := os.Getenv("MIMIR_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MIMIR_MASTER_KEY"); v != "" {
		c.MasterKey = v
	}
	if v := os.Getenv("MIMIR_ENGINE_PATH"); v != "" {
		c.EngineBinary = v
	}
	if v := os.Getenv("MIMIR_READINESS_TIMEOUT"); v != "" {
		c.ReadinessTimeout = v
	}
	if v := os.Getenv("MIMIR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MIMIR_LOG_FILE"); v != "" {
		c.LogFile = v
	}
}

// Validate rejects values the rest of the CLI cannot act on.
func (c *Config) Validate() error {
	if c.Instance == "" {
		return fmt.Errorf("instance name must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel)
	}
	if _, err := c.readinessTimeout(); err != nil {
		return err
	}
	if _, err := c.ingestDebounce(); err != nil {
		return err
	}
	if c.Ingest.Workers < 0 {
		return fmt.Errorf("ingest.workers must not be negative")
	}
	return nil
}

func (c *Config) readinessTimeout() (time.Duration, error) {
	if c.ReadinessTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ReadinessTimeout)
	if err != nil {
		return 0, fmt.Errorf("readiness_timeout %q: %w", c.ReadinessTimeout, err)
	}
	return d, nil
}

func (c *Config) ingestDebounce() (time.Duration, error) {
	if c.Ingest.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Ingest.Debounce)
	if err != nil {
		return 0, fmt.Errorf("ingest.debounce %q: %w", c.Ingest.Debounce, err)
	}
	return d, nil
}

// ReadinessTimeoutDuration returns the parsed readiness timeout, zero when
// unset. Validate has already checked the format.
func (c *Config) ReadinessTimeoutDuration() time.Duration {
	d, _ := c.readinessTimeout()
	return d
}

// IngestDebounceDuration returns the parsed debounce window.
func (c *Config) IngestDebounceDuration() time.Duration {
	d, _ := c.ingestDebounce()
	return d
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
