package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDirectoryDefaults(&cfg.Directory)
	applyNodeDefaults(&cfg.Node)
	applyClientDefaults(&cfg.Client)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 16
	}
	if cfg.RegistryCapacity == 0 {
		cfg.RegistryCapacity = 10
	}
	if cfg.Exec == nil {
		cfg.Exec = make(map[string]any)
	}
}

func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.StreamDelay == 0 {
		cfg.StreamDelay = 100 * time.Millisecond
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
}
