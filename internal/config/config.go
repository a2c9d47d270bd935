// Package config loads the per-project configuration from
// <baseDir>/config.json and owns the machine-written meta.json
// (id counters, prefixes, collision log). User config goes through
// viper so SUDOCODE_* environment variables override file values;
// meta.json is plain JSON because no human is meant to edit it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the user-editable config inside the base dir.
const ConfigFileName = "config.json"

// EnvPrefix scopes environment overrides (SUDOCODE_ENGINE_MAX_CONCURRENT).
const EnvPrefix = "SUDOCODE"

// AgentConfig describes how agent subprocesses are launched.
type AgentConfig struct {
	// Command is the argv prefix; the task prompt is appended.
	Command []string `json:"command" mapstructure:"command"`
	// TimeoutSeconds caps one attempt; 0 means no timeout.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// EngineConfig tunes the task broker.
type EngineConfig struct {
	MaxConcurrent int `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxRetries    int `json:"max_retries" mapstructure:"max_retries"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
	// File enables rotated file logging when non-empty.
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Console    bool   `json:"console" mapstructure:"console"`
}

// TelemetryConfig gates the OTel meter provider.
type TelemetryConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// IntervalSeconds between metric exports.
	IntervalSeconds int `json:"interval_seconds" mapstructure:"interval_seconds"`
}

// GitConfig points the worktree layer at the repository.
type GitConfig struct {
	// Repo is the repository root; empty means the base dir's parent.
	Repo string `json:"repo" mapstructure:"repo"`
	// TargetBranch is where merge queue entries land by default.
	TargetBranch string `json:"target_branch" mapstructure:"target_branch"`
}

// Config is the full user configuration.
type Config struct {
	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	Engine    EngineConfig    `json:"engine" mapstructure:"engine"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`
	Git       GitConfig       `json:"git" mapstructure:"git"`
}

// Default returns the configuration used when config.json is absent.
func Default() *Config {
	return &Config{
		Agent:  AgentConfig{Command: []string{"claude", "-p"}},
		Engine: EngineConfig{MaxConcurrent: 3, MaxRetries: 2},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Console:    true,
		},
		Telemetry: TelemetryConfig{IntervalSeconds: 60},
		Git:       GitConfig{TargetBranch: "main"},
	}
}

// AgentTimeout converts the configured seconds to a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// Load reads <baseDir>/config.json, layering environment overrides on
// top of defaults. A missing file is not an error: defaults apply.
func Load(baseDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(baseDir, ConfigFileName))
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("agent.command", def.Agent.Command)
	v.SetDefault("agent.timeout_seconds", def.Agent.TimeoutSeconds)
	v.SetDefault("engine.max_concurrent", def.Engine.MaxConcurrent)
	v.SetDefault("engine.max_retries", def.Engine.MaxRetries)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
	v.SetDefault("log.console", def.Log.Console)
	v.SetDefault("telemetry.enabled", def.Telemetry.Enabled)
	v.SetDefault("telemetry.interval_seconds", def.Telemetry.IntervalSeconds)
	v.SetDefault("git.repo", def.Git.Repo)
	v.SetDefault("git.target_branch", def.Git.TargetBranch)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", ConfigFileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}

// RepoRoot resolves the repository the worktree layer should use.
func (c *Config) RepoRoot(baseDir string) string {
	if c.Git.Repo != "" {
		return c.Git.Repo
	}
	return filepath.Dir(baseDir)
}
