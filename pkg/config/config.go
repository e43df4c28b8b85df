// Package config loads the ProseFS configuration shared by the directory,
// node and client binaries.
//
// Addresses and ports stay on the command line; the config file carries
// tunables only.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PROSEFS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete ProseFS configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Directory contains coordinator tunables
	Directory DirectoryConfig `mapstructure:"directory"`

	// Node contains storage node tunables
	Node NodeConfig `mapstructure:"node"`

	// Client contains client tunables
	Client ClientConfig `mapstructure:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// DirectoryConfig contains coordinator tunables.
type DirectoryConfig struct {
	// CacheCapacity sizes the file location cache
	CacheCapacity int `mapstructure:"cache_capacity" validate:"required,gt=0"`

	// RegistryCapacity sizes the node slot table
	RegistryCapacity int `mapstructure:"registry_capacity" validate:"required,gt=0"`

	// Exec contains the remote-execution subsection, decoded separately
	// by ExecRunner. Execution stays disabled unless enabled here.
	Exec map[string]any `mapstructure:"exec"`
}

// NodeConfig contains storage node tunables.
type NodeConfig struct {
	// DataDir is the directory under which the node creates its
	// ss_<port>/ tree
	DataDir string `mapstructure:"data_dir" validate:"required"`

	// StreamDelay is the pause between streamed words
	StreamDelay time.Duration `mapstructure:"stream_delay" validate:"required,gt=0"`

	// DialTimeout bounds the directory registration dial
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
}

// ClientConfig contains client tunables.
type ClientConfig struct {
	// DialTimeout bounds directory and node dials
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to a config file (empty string uses the default
//     location; a missing file at the default location is not an error)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings.
//
// Environment variables use the PROSEFS_ prefix and underscores, e.g.
// PROSEFS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PROSEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is acceptable; the defaults carry the configuration.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the current
// directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "prosefs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "prosefs")
}
