package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MIMIR_INSTANCE", "MIMIR_DATA_DIR", "MIMIR_MASTER_KEY",
		"MIMIR_ENGINE_PATH", "MIMIR_READINESS_TIMEOUT",
		"MIMIR_LOG_LEVEL", "MIMIR_LOG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mimir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Instance)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ReadinessTimeoutDuration())
	assert.Equal(t, "documents", cfg.Ingest.Index)
	assert.Equal(t, 200*time.Millisecond, cfg.IngestDebounceDuration())
	assert.Equal(t, 4, cfg.Ingest.Workers)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
instance: prod
master_key: hunter2
readiness_timeout: 5s
log_level: debug
ingest:
  index: papers
  debounce: 1s
  workers: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Instance)
	assert.Equal(t, "hunter2", cfg.MasterKey)
	assert.Equal(t, 5*time.Second, cfg.ReadinessTimeoutDuration())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "papers", cfg.Ingest.Index)
	assert.Equal(t, time.Second, cfg.IngestDebounceDuration())
	assert.Equal(t, 2, cfg.Ingest.Workers)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "instance: staging\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Instance)
	assert.Equal(t, "info", cfg.LogLevel, "unset keys keep their defaults")
	assert.Equal(t, "documents", cfg.Ingest.Index)
}

func TestExplicitMissingFileIsAnError(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err, "a file named on the command line must exist")
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "instance: from-file\nlog_level: warn\n")
	t.Setenv("MIMIR_INSTANCE", "from-env")
	t.Setenv("MIMIR_DATA_DIR", "/var/lib/mimir")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Instance, "environment beats the file")
	assert.Equal(t, "/var/lib/mimir", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LogLevel, "untouched keys come from the file")
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty instance", func(c *Config) { c.Instance = "" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad readiness timeout", func(c *Config) { c.ReadinessTimeout = "soon" }},
		{"bad debounce", func(c *Config) { c.Ingest.Debounce = "fast" }},
		{"negative workers", func(c *Config) { c.Ingest.Workers = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBadYAMLIsAnError(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "instance: [\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Instance = "saved"
	path := filepath.Join(t.TempDir(), "nested", "dir", ".mimir.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Instance)
	assert.Equal(t, cfg.Ingest, loaded.Ingest)
}
