// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the orchestrator's runtime
// configuration (spec.md §6's enumerated options). It is YAML-first:
// a file is read, environment references inside string values are
// expanded (${VAR:-default}, ${VAR}, $VAR), and the result decodes
// into Config via mapstructure. SetDefaults/Validate follow the
// teacher's pkg/config.Config convention.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// AdaptiveThresholdConfig mirrors the Learner's sliding-window
// confidence-threshold tuning (spec.md §6, §4.12c).
type AdaptiveThresholdConfig struct {
	Bounds [2]float64 `yaml:"bounds,omitempty" mapstructure:"bounds"`
	Window int        `yaml:"window,omitempty" mapstructure:"window"`
	Step   int        `yaml:"step,omitempty" mapstructure:"step"`
}

// PERConfig mirrors the Learner's prioritized-experience-replay tuning
// (spec.md §6, §4.12b).
type PERConfig struct {
	Alpha     float64 `yaml:"alpha,omitempty" mapstructure:"alpha"`
	MinTraces int     `yaml:"min_traces,omitempty" mapstructure:"min_traces"`
	BatchSize int     `yaml:"batch_size,omitempty" mapstructure:"batch_size"`
	Epochs    int     `yaml:"epochs,omitempty" mapstructure:"epochs"`
}

// Config is the root configuration structure, decoded from YAML plus
// environment expansion. The fields above Server correspond to spec.md
// §6's recognized options; Server, RateLimit and Logger configure this
// module's own RPC binding, rate limiter and logger.
type Config struct {
	EnableSpeculative bool `yaml:"enable_speculative,omitempty" mapstructure:"enable_speculative"`
	DefaultToolLimit  int  `yaml:"default_tool_limit,omitempty" mapstructure:"default_tool_limit"`

	TaskTimeoutMS     int `yaml:"task_timeout_ms,omitempty" mapstructure:"task_timeout_ms"`
	MaxCodeSizeBytes  int `yaml:"max_code_size_bytes,omitempty" mapstructure:"max_code_size_bytes"`
	CheckpointRetention int `yaml:"checkpoint_retention,omitempty" mapstructure:"checkpoint_retention"`

	PerLayerValidation bool `yaml:"per_layer_validation,omitempty" mapstructure:"per_layer_validation"`
	HILTimeoutMS       int  `yaml:"hil_timeout_ms,omitempty" mapstructure:"hil_timeout_ms"`
	AILTimeoutMS       int  `yaml:"ail_timeout_ms,omitempty" mapstructure:"ail_timeout_ms"`

	AdaptiveThreshold AdaptiveThresholdConfig `yaml:"adaptive_threshold,omitempty" mapstructure:"adaptive_threshold"`
	PER               PERConfig               `yaml:"per,omitempty" mapstructure:"per"`

	ObservedEdgeThreshold int `yaml:"observed_edge_threshold,omitempty" mapstructure:"observed_edge_threshold"`

	// Server configures the optional pkg/rpc HTTP binding.
	Server ServerConfig `yaml:"server,omitempty" mapstructure:"server"`

	// RateLimit configures the optional pkg/ratelimit guard on
	// pkg/rpc's POST /execute.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`

	// Logger configures pkg/logger.
	Logger LoggerConfig `yaml:"logger,omitempty" mapstructure:"logger"`
}

// ServerConfig configures the optional pkg/rpc Control RPC binding.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

// RateLimitConfig configures pkg/ratelimit. Type/Window use the same
// string vocabulary as ratelimit.LimitType/ratelimit.TimeWindow
// ("token"/"count", "minute"/"hour"/"day"/"week"/"month") so the YAML
// shape matches pkg/ratelimit's own doc comment example directly.
type RateLimitConfig struct {
	Enabled bool             `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Limits  []RateLimitRule  `yaml:"limits,omitempty" mapstructure:"limits"`
}

// RateLimitRule is one entry of RateLimitConfig.Limits.
type RateLimitRule struct {
	Type   string `yaml:"type" mapstructure:"type"`
	Window string `yaml:"window" mapstructure:"window"`
	Limit  int64  `yaml:"limit" mapstructure:"limit"`
}

// LoggerConfig configures pkg/logger.Init.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty" mapstructure:"level"`
	Format string `yaml:"format,omitempty" mapstructure:"format"`
}

// SetDefaults fills every zero-valued option with spec.md §6's default,
// in place. Non-zero values the caller already set are left untouched.
func (c *Config) SetDefaults() {
	if c.DefaultToolLimit == 0 {
		c.DefaultToolLimit = 10
	}
	if c.TaskTimeoutMS == 0 {
		c.TaskTimeoutMS = 30000
	}
	if c.MaxCodeSizeBytes == 0 {
		c.MaxCodeSizeBytes = 102400
	}
	if c.CheckpointRetention == 0 {
		c.CheckpointRetention = 5
	}
	if c.AILTimeoutMS == 0 {
		c.AILTimeoutMS = 300000
	}
	if c.AdaptiveThreshold.Bounds == ([2]float64{}) {
		c.AdaptiveThreshold.Bounds = [2]float64{0.3, 0.9}
	}
	if c.AdaptiveThreshold.Window == 0 {
		c.AdaptiveThreshold.Window = 50
	}
	if c.AdaptiveThreshold.Step == 0 {
		c.AdaptiveThreshold.Step = 10
	}
	if c.PER.Alpha == 0 {
		c.PER.Alpha = 0.6
	}
	if c.PER.MinTraces == 0 {
		c.PER.MinTraces = 32
	}
	if c.PER.BatchSize == 0 {
		c.PER.BatchSize = 64
	}
	if c.PER.Epochs == 0 {
		c.PER.Epochs = 1
	}
	if c.ObservedEdgeThreshold == 0 {
		c.ObservedEdgeThreshold = 3
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}

	// enable_speculative defaults true; SetDefaults cannot distinguish an
	// explicit false from an unset zero value for a bool, so this default
	// is applied once by NewDefault/zero-config construction instead of
	// here (spec.md §6: "default true").
}

// NewDefault returns a Config with every spec.md §6 default applied,
// including EnableSpeculative (a bool default-true field that
// SetDefaults cannot safely zero-fill).
func NewDefault() *Config {
	c := &Config{EnableSpeculative: true}
	c.SetDefaults()
	return c
}

// Validate rejects configurations with semantically invalid values.
func (c *Config) Validate() error {
	if c.DefaultToolLimit <= 0 {
		return fmt.Errorf("config: default_tool_limit must be positive, got %d", c.DefaultToolLimit)
	}
	if c.TaskTimeoutMS <= 0 {
		return fmt.Errorf("config: task_timeout_ms must be positive, got %d", c.TaskTimeoutMS)
	}
	if c.CheckpointRetention < 0 {
		return fmt.Errorf("config: checkpoint_retention cannot be negative, got %d", c.CheckpointRetention)
	}
	lo, hi := c.AdaptiveThreshold.Bounds[0], c.AdaptiveThreshold.Bounds[1]
	if lo < 0 || hi > 1 || lo >= hi {
		return fmt.Errorf("config: adaptive_threshold.bounds [%v, %v] must satisfy 0 <= lo < hi <= 1", lo, hi)
	}
	if c.PER.Alpha <= 0 || c.PER.Alpha > 1 {
		return fmt.Errorf("config: per.alpha must be in (0, 1], got %v", c.PER.Alpha)
	}
	if c.PER.MinTraces <= 0 {
		return fmt.Errorf("config: per.min_traces must be positive, got %d", c.PER.MinTraces)
	}
	if c.PER.BatchSize <= 0 {
		return fmt.Errorf("config: per.batch_size must be positive, got %d", c.PER.BatchSize)
	}
	if c.ObservedEdgeThreshold <= 0 {
		return fmt.Errorf("config: observed_edge_threshold must be positive, got %d", c.ObservedEdgeThreshold)
	}
	return nil
}

// TaskTimeout returns TaskTimeoutMS as a time.Duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMS) * time.Millisecond
}

// AILTimeout returns AILTimeoutMS as a time.Duration.
func (c *Config) AILTimeout() time.Duration {
	return time.Duration(c.AILTimeoutMS) * time.Millisecond
}

// Load reads path, expands environment references in every string
// value, and decodes the result into a validated Config with defaults
// applied. Mirrors the teacher's load-then-SetDefaults-then-Validate
// sequence in cmd/hector/config_loader.go.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	expanded := ExpandEnvVarsInData(raw)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if !hasKey(raw, "enable_speculative") {
		cfg.EnableSpeculative = true
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return &cfg, nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}
