package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// No config file at an explicit path is an error; at the default
	// location it is not. Point the default location at an empty dir.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 16, cfg.Directory.CacheCapacity)
	assert.Equal(t, 10, cfg.Directory.RegistryCapacity)
	assert.Equal(t, ".", cfg.Node.DataDir)
	assert.Equal(t, 100*time.Millisecond, cfg.Node.StreamDelay)
	assert.Equal(t, 10*time.Second, cfg.Node.DialTimeout)
	assert.Equal(t, 10*time.Second, cfg.Client.DialTimeout)

	execCfg, err := cfg.ExecRunner()
	require.NoError(t, err)
	assert.False(t, execCfg.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  output: stderr
directory:
  cache_capacity: 64
  registry_capacity: 4
  exec:
    enabled: true
    timeout_seconds: 5
node:
  data_dir: /var/lib/prosefs
  stream_delay: 50ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Level is normalized to uppercase.
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 64, cfg.Directory.CacheCapacity)
	assert.Equal(t, 4, cfg.Directory.RegistryCapacity)
	assert.Equal(t, "/var/lib/prosefs", cfg.Node.DataDir)
	assert.Equal(t, 50*time.Millisecond, cfg.Node.StreamDelay)

	execCfg, err := cfg.ExecRunner()
	require.NoError(t, err)
	assert.True(t, execCfg.Enabled)
	assert.Equal(t, 5*time.Second, execCfg.Timeout())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestLoadInvalidExecTimeout(t *testing.T) {
	path := writeConfig(t, `
directory:
  exec:
    enabled: true
    timeout_seconds: -1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds")
}

func TestEnvironmentOverride(t *testing.T) {
	// Environment variables take precedence over file values.
	path := writeConfig(t, `
logging:
  level: info
`)
	t.Setenv("PROSEFS_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}

func TestLoadMarshalledConfig(t *testing.T) {
	// A config file produced by a YAML encoder loads the same as a
	// hand-written one.
	doc := map[string]any{
		"logging": map[string]any{
			"level": "ERROR",
		},
		"directory": map[string]any{
			"cache_capacity": 8,
		},
	}
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Directory.CacheCapacity)
	assert.Equal(t, 10, cfg.Directory.RegistryCapacity)
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(1025))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(1024))
	assert.Error(t, ValidatePort(80))
	assert.Error(t, ValidatePort(65536))
}
