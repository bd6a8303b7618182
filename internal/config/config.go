// Package config loads drey configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/dyluth/drey/pkg/blackboard"
)

const (
	// EnvPrefix is stripped from environment variables before mapping them
	// onto config keys, e.g. DREY_RUN_MAX_ITERATIONS -> run.max_iterations.
	EnvPrefix = "DREY_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Config is the top-level drey configuration.
type Config struct {
	Run      RunConfig      `koanf:"run"`
	Executor ExecutorConfig `koanf:"executor"`
	Cluster  ClusterConfig  `koanf:"cluster"`
	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
}

// RunConfig controls the pipeline run itself.
type RunConfig struct {
	Workspace       string        `koanf:"workspace"`        // Directory the manifests are written to
	BaseDir         string        `koanf:"base_dir"`         // Optional starting manifests copied in at run start
	InteractionMode string        `koanf:"interaction_mode"` // "automated" or "assisted"
	MaxIterations   int           `koanf:"max_iterations"`   // Test loop ceiling
	SettleDelay     time.Duration `koanf:"settle_delay"`     // Wait after apply before validating
}

// ExecutorConfig describes the task command.
type ExecutorConfig struct {
	Command []string      `koanf:"command"` // argv of the task subprocess
	Timeout time.Duration `koanf:"timeout"` // Per-task wall clock limit
}

// ClusterConfig describes the local cluster tooling.
type ClusterConfig struct {
	KubectlPath string `koanf:"kubectl_path"` // kubectl binary, default "kubectl"
	KindPath    string `koanf:"kind_path"`    // kind binary, default "kind"
	KindCluster string `koanf:"kind_cluster"` // kind cluster name
	NodeVersion string `koanf:"node_version"` // kindest/node tag, empty for kind's default
	KindConfig  string `koanf:"kind_config"`  // optional kind config file
	Recreate    bool   `koanf:"recreate"`     // Recreate the cluster during PrepareEnvironment
}

// ServerConfig describes the control API listener.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// RedisConfig describes the optional snapshot store. An empty URL disables
// snapshots.
type RedisConfig struct {
	URL         string        `koanf:"url"`
	SnapshotTTL time.Duration `koanf:"snapshot_ttl"`
}

// LogConfig describes logger output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration from the given YAML file (skipped when empty or
// missing), then applies DREY_* environment overrides, defaults and
// validation.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DREY_RUN_MAX_ITERATIONS, DREY_REDIS_URL, ...)
//  2. YAML config file
//  3. Defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// The first underscore after the prefix separates section from field:
	// DREY_RUN_MAX_ITERATIONS -> run.max_iterations
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Run.Workspace == "" {
		cfg.Run.Workspace = "./workspace"
	}
	if cfg.Run.InteractionMode == "" {
		cfg.Run.InteractionMode = string(blackboard.ModeAssisted)
	}
	if cfg.Run.MaxIterations == 0 {
		cfg.Run.MaxIterations = 10
	}
	if cfg.Run.SettleDelay == 0 {
		cfg.Run.SettleDelay = 10 * time.Second
	}

	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 5 * time.Minute
	}

	if cfg.Cluster.KubectlPath == "" {
		cfg.Cluster.KubectlPath = "kubectl"
	}
	if cfg.Cluster.KindPath == "" {
		cfg.Cluster.KindPath = "kind"
	}
	if cfg.Cluster.KindCluster == "" {
		cfg.Cluster.KindCluster = "drey"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8181"
	}

	if cfg.Redis.SnapshotTTL == 0 {
		cfg.Redis.SnapshotTTL = 24 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if err := blackboard.Mode(c.Run.InteractionMode).Validate(); err != nil {
		return fmt.Errorf("run.interaction_mode: %w", err)
	}
	if c.Run.MaxIterations < 1 {
		return fmt.Errorf("run.max_iterations must be >= 1, got %d", c.Run.MaxIterations)
	}
	if c.Run.SettleDelay < 0 {
		return fmt.Errorf("run.settle_delay must not be negative, got %s", c.Run.SettleDelay)
	}
	if len(c.Executor.Command) == 0 {
		return fmt.Errorf("executor.command is required")
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor.timeout must be positive, got %s", c.Executor.Timeout)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %s (must be 'console' or 'json')", c.Log.Format)
	}
	return nil
}
