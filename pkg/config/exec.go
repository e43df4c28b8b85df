package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ExecRunnerConfig is decoded from the schemaless directory.exec
// subsection. Remote execution stays off unless enabled explicitly.
type ExecRunnerConfig struct {
	// Enabled turns the EXEC operation on
	Enabled bool `mapstructure:"enabled"`

	// TimeoutSeconds bounds one command invocation
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Timeout returns the configured bound as a duration, zero meaning the
// server default.
func (c ExecRunnerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExecRunner decodes the directory.exec subsection.
func (cfg *Config) ExecRunner() (ExecRunnerConfig, error) {
	var execCfg ExecRunnerConfig
	if err := mapstructure.Decode(cfg.Directory.Exec, &execCfg); err != nil {
		return ExecRunnerConfig{}, fmt.Errorf("invalid exec config: %w", err)
	}
	if execCfg.TimeoutSeconds < 0 {
		return ExecRunnerConfig{}, fmt.Errorf("exec timeout_seconds must not be negative")
	}
	return execCfg, nil
}
