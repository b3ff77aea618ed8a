// Package config builds Kira's layered, immutable configuration: built-in
// defaults, overlaid with a YAML file, overlaid with environment variables
// (env wins). A Config value is never mutated in place; hot reload builds a
// fresh value and callers swap it atomically (see Loader.Reload).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, typed configuration surface described in
// spec.md §6.
type Config struct {
	Vault struct {
		Path string `yaml:"path"`
	} `yaml:"vault"`

	Core struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"core"`

	DataDir string `yaml:"data_dir"`

	Router struct {
		PlanningProvider    string `yaml:"planning_provider"`
		StructuringProvider string `yaml:"structuring_provider"`
		DefaultProvider     string `yaml:"default_provider"`
		EnableLocalFallback bool   `yaml:"enable_local_fallback"`
	} `yaml:"router"`

	Agent struct {
		MaxToolCalls int           `yaml:"max_tool_calls"`
		MaxTokens    int           `yaml:"max_tokens"`
		Temperature  float32       `yaml:"temperature"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"agent"`

	Memory struct {
		MaxExchanges int           `yaml:"max_exchanges"`
		SessionTTL   time.Duration `yaml:"session_ttl"`
		MaxSessions  int           `yaml:"max_sessions"`
	} `yaml:"memory"`

	Sandbox struct {
		TimeoutMS     int `yaml:"timeout_ms"`
		MemoryLimitMB int `yaml:"memory_limit_mb"`
	} `yaml:"sandbox"`

	Features struct {
		Timeboxing      bool `yaml:"timeboxing"`
		Clarifications  bool `yaml:"clarifications"`
		GraphValidation bool `yaml:"graph_validation"`
	} `yaml:"features"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Default returns the built-in defaults, the first layer of every load.
func Default() *Config {
	c := &Config{}
	c.Vault.Path = "./vault"
	c.Core.Timezone = "UTC"
	c.DataDir = "./data"
	c.Router.PlanningProvider = "anthropic"
	c.Router.StructuringProvider = "openai"
	c.Router.DefaultProvider = "anthropic"
	c.Router.EnableLocalFallback = true
	c.Agent.MaxToolCalls = 8
	c.Agent.MaxTokens = 4096
	c.Agent.Temperature = 0.2
	c.Agent.Timeout = 60 * time.Second
	c.Memory.MaxExchanges = 10
	c.Memory.SessionTTL = time.Hour
	c.Memory.MaxSessions = 1000
	c.Sandbox.TimeoutMS = 20_000
	c.Sandbox.MemoryLimitMB = 512
	c.Features.Timeboxing = true
	c.Features.Clarifications = true
	c.Features.GraphValidation = true
	c.HTTP.Addr = ":8090"
	return c
}

// Load builds a Config by overlaying defaults with an optional YAML file and
// then with environment variables. path may be empty, in which case only
// defaults and environment are applied.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if uerr := yaml.Unmarshal(data, c); uerr != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, uerr)
			}
		case os.IsNotExist(err):
			// Missing file is not an error; defaults stand.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	applyEnv(c)
	return c, nil
}

// applyEnv overlays KIRA_* environment variables, taking precedence over the
// file and defaults, matching spec.md's "env wins" layering rule.
func applyEnv(c *Config) {
	str(&c.Vault.Path, "KIRA_VAULT_PATH")
	str(&c.Core.Timezone, "KIRA_CORE_TIMEZONE")
	str(&c.DataDir, "KIRA_DATA_DIR")
	str(&c.Router.PlanningProvider, "KIRA_ROUTER_PLANNING_PROVIDER")
	str(&c.Router.StructuringProvider, "KIRA_ROUTER_STRUCTURING_PROVIDER")
	str(&c.Router.DefaultProvider, "KIRA_ROUTER_DEFAULT_PROVIDER")
	boolean(&c.Router.EnableLocalFallback, "KIRA_ROUTER_ENABLE_LOCAL_FALLBACK")
	integer(&c.Agent.MaxToolCalls, "KIRA_AGENT_MAX_TOOL_CALLS")
	integer(&c.Agent.MaxTokens, "KIRA_AGENT_MAX_TOKENS")
	duration(&c.Agent.Timeout, "KIRA_AGENT_TIMEOUT")
	integer(&c.Memory.MaxExchanges, "KIRA_MEMORY_MAX_EXCHANGES")
	duration(&c.Memory.SessionTTL, "KIRA_MEMORY_SESSION_TTL")
	integer(&c.Memory.MaxSessions, "KIRA_MEMORY_MAX_SESSIONS")
	integer(&c.Sandbox.TimeoutMS, "KIRA_SANDBOX_TIMEOUT_MS")
	integer(&c.Sandbox.MemoryLimitMB, "KIRA_SANDBOX_MEMORY_LIMIT_MB")
	boolean(&c.Features.Timeboxing, "KIRA_FEATURES_TIMEBOXING")
	boolean(&c.Features.Clarifications, "KIRA_FEATURES_CLARIFICATIONS")
	boolean(&c.Features.GraphValidation, "KIRA_FEATURES_GRAPH_VALIDATION")
	str(&c.HTTP.Addr, "KIRA_HTTP_ADDR")
}

func str(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func boolean(dst *bool, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func integer(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func duration(dst *time.Duration, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
