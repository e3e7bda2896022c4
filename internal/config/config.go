// Package config provides configuration management for learn.
// CLI configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (LEARN_*)
// 3. Project config (.learn/config.yaml in cwd, or --config)
// 4. Home config (~/.learn/config.yaml)
// 5. Defaults
//
// Pipeline settings (thresholds, enabled types, evolution targets) are not
// part of this layer; they live in the storage root's identity.json.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Integrum-Global/kailash-learn/internal/storage"
)

// Config holds all CLI configuration.
type Config struct {
	// Output controls the default output format (json, table, yaml).
	Output string `yaml:"output" json:"output"`

	// Root is the pipeline storage root (default: .agents/learning).
	Root string `yaml:"root" json:"root"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// LockTimeout bounds the wait for a store lock, as a Go duration.
	LockTimeout string `yaml:"lock_timeout" json:"lock_timeout"`

	// LogLevel is the zap level used when Verbose is off.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Process settings
	Process ProcessConfig `yaml:"process" json:"process"`

	// Serve settings
	Serve ServeConfig `yaml:"serve" json:"serve"`
}

// ProcessConfig holds instinct-processing defaults.
type ProcessConfig struct {
	// MinConfidence discards new instincts scoring below it.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
}

// ServeConfig holds MCP server settings.
type ServeConfig struct {
	// MetricsAddr, when set, exposes /metrics on this address.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput      = "json"
	defaultLockTimeout = "5s"
	defaultLogLevel    = "info"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:      defaultOutput,
		Root:        storage.DefaultRoot,
		Verbose:     false,
		LockTimeout: defaultLockTimeout,
		LogLevel:    defaultLogLevel,
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults.
// configPath, when non-empty, replaces the project config path and must exist.
func Load(configPath string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, err := loadFromPath(homeConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("home config: %w", err)
	}
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectPath := configPath
	if projectPath == "" {
		projectPath = projectConfigPath()
	}
	projectConfig, err := loadFromPath(projectPath)
	if err != nil && (configPath != "" || !os.IsNotExist(err)) {
		return nil, fmt.Errorf("project config: %w", err)
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// LockTimeoutDuration parses LockTimeout, falling back to the default.
func (c *Config) LockTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultLockTimeout)
	}
	return d
}

// Validate rejects settings the CLI cannot act on.
func (c *Config) Validate() error {
	switch c.Output {
	case "json", "table", "yaml":
	default:
		return fmt.Errorf("output %q: want json, table, or yaml", c.Output)
	}
	if _, err := time.ParseDuration(c.LockTimeout); err != nil {
		return fmt.Errorf("lock_timeout %q: %w", c.LockTimeout, err)
	}
	if c.Process.MinConfidence < 0 || c.Process.MinConfidence > 1 {
		return fmt.Errorf("process.min_confidence %v outside [0,1]", c.Process.MinConfidence)
	}
	return nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".learn", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("LEARN_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".learn", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("LEARN_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("LEARN_ROOT"); v != "" {
		cfg.Root = v
	}
	if v, ok := getEnvBool("LEARN_VERBOSE"); ok && v {
		cfg.Verbose = true
	}
	if v := os.Getenv("LEARN_LOCK_TIMEOUT"); v != "" {
		cfg.LockTimeout = v
	}
	if v := os.Getenv("LEARN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEARN_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Process.MinConfidence = f
		}
	}
	if v := os.Getenv("LEARN_METRICS_ADDR"); v != "" {
		cfg.Serve.MetricsAddr = v
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeFloat overwrites dst with src when src is non-zero.
func mergeFloat(dst *float64, src float64) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
// Booleans only ever turn on.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Output, src.Output)
	mergeStr(&dst.Root, src.Root)
	if src.Verbose {
		dst.Verbose = true
	}
	mergeStr(&dst.LockTimeout, src.LockTimeout)
	mergeStr(&dst.LogLevel, src.LogLevel)
	mergeFloat(&dst.Process.MinConfidence, src.Process.MinConfidence)
	mergeStr(&dst.Serve.MetricsAddr, src.Serve.MetricsAddr)
	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.learn/config.yaml"
	SourceProject Source = ".learn/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvBool returns the boolean value and whether the env var was set.
func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	switch v {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

// resolveStringField resolves a string through the precedence chain.
func resolveStringField(home, project, env, flag, def string) Resolved {
	result := Resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = Resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = Resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = Resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = Resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Output      Resolved `json:"output" yaml:"output"`
	Root        Resolved `json:"root" yaml:"root"`
	Verbose     Resolved `json:"verbose" yaml:"verbose"`
	LockTimeout Resolved `json:"lock_timeout" yaml:"lock_timeout"`
	LogLevel    Resolved `json:"log_level" yaml:"log_level"`
}

// Resolved is one value and the layer it came from.
type Resolved struct {
	Value  any    `json:"value" yaml:"value"`
	Source Source `json:"source" yaml:"source"`
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(configPath string, flags *Config) *ResolvedConfig {
	home, _ := loadFromPath(homeConfigPath())
	if home == nil {
		home = &Config{}
	}
	projectPath := configPath
	if projectPath == "" {
		projectPath = projectConfigPath()
	}
	project, _ := loadFromPath(projectPath)
	if project == nil {
		project = &Config{}
	}
	if flags == nil {
		flags = &Config{}
	}

	rc := &ResolvedConfig{
		Output:      resolveStringField(home.Output, project.Output, os.Getenv("LEARN_OUTPUT"), flags.Output, defaultOutput),
		Root:        resolveStringField(home.Root, project.Root, os.Getenv("LEARN_ROOT"), flags.Root, storage.DefaultRoot),
		Verbose:     Resolved{Value: false, Source: SourceDefault},
		LockTimeout: resolveStringField(home.LockTimeout, project.LockTimeout, os.Getenv("LEARN_LOCK_TIMEOUT"), flags.LockTimeout, defaultLockTimeout),
		LogLevel:    resolveStringField(home.LogLevel, project.LogLevel, os.Getenv("LEARN_LOG_LEVEL"), flags.LogLevel, defaultLogLevel),
	}

	// Resolve verbose (boolean with OR semantics through chain)
	if home.Verbose {
		rc.Verbose = Resolved{Value: true, Source: SourceHome}
	}
	if project.Verbose {
		rc.Verbose = Resolved{Value: true, Source: SourceProject}
	}
	if v, ok := getEnvBool("LEARN_VERBOSE"); ok && v {
		rc.Verbose = Resolved{Value: true, Source: SourceEnv}
	}
	if flags.Verbose {
		rc.Verbose = Resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
