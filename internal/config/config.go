// Package config loads the service configuration from YAML and environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voyago/llm-router/internal/classify"
	"github.com/voyago/llm-router/internal/limits"
	"github.com/voyago/llm-router/internal/middleware"
	"github.com/voyago/llm-router/internal/routing"
	"github.com/voyago/llm-router/internal/server"
	"github.com/voyago/llm-router/internal/types"
)

// Config is the full service configuration.
type Config struct {
	Server    server.Config             `yaml:"server"`
	Logging   LoggingConfig             `yaml:"logging"`
	Security  middleware.SecurityConfig `yaml:"security"`
	OpenAPI   middleware.OpenAPIConfig  `yaml:"openapi"`
	Redis     limits.RedisConfig        `yaml:"redis"`
	Limits    LimitsConfig              `yaml:"limits"`
	Routing   RoutingConfig             `yaml:"routing"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// LoggingConfig controls the logrus setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// LimitsConfig holds the global rate and budget ceilings. Per-provider
// ceilings live inside each ProviderConfig.
type LimitsConfig struct {
	Global limits.GlobalLimits `yaml:"global"`
}

// RoutingConfig is the routing policy table.
type RoutingConfig struct {
	Thresholds            classify.Thresholds                  `yaml:"complexity_thresholds"`
	Chains                map[types.ComplexityLevel][]string   `yaml:"chains"`
	BackoffBase           time.Duration                        `yaml:"backoff_base"`
	BackoffMax            time.Duration                        `yaml:"backoff_max"`
	EstimatedOutputTokens int                                  `yaml:"estimated_output_tokens"`
}

// ProviderConfig configures one provider: wire settings, keys, ceilings, and
// prices.
type ProviderConfig struct {
	Enabled    bool                   `yaml:"enabled"`
	BaseURL    string                 `yaml:"base_url"`
	Model      string                 `yaml:"model"`
	MaxTokens  int                    `yaml:"max_tokens"`
	Timeout    time.Duration          `yaml:"timeout"`
	Capacity   int                    `yaml:"capacity"`
	Keys       []KeyConfig            `yaml:"keys"`
	RateLimits limits.ProviderLimits  `yaml:"rate_limits"`
	Costs      routing.ProviderCost   `yaml:"costs"`
}

// KeyConfig configures one API key. Secrets are normally injected via
// SecretEnv so key material stays out of config files.
type KeyConfig struct {
	ID         string `yaml:"id"`
	Secret     string `yaml:"secret"`
	SecretEnv  string `yaml:"secret_env"`
	Type       string `yaml:"type"`
	QuotaLimit int64  `yaml:"quota_limit"`
}

// Load reads the config file (optional), applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Server = server.Config{ListenAddr: ":8080"}
	c.Logging = LoggingConfig{Level: "info", Format: "json"}
	c.Routing = RoutingConfig{
		Thresholds: classify.DefaultThresholds(),
		Chains: map[types.ComplexityLevel][]string{
			types.ComplexityLow:    {"cerebras", "groq", "gemini"},
			types.ComplexityMedium: {"groq", "gemini", "cerebras"},
			types.ComplexityHigh:   {"gemini", "groq", "cerebras"},
		},
		BackoffBase:           200 * time.Millisecond,
		BackoffMax:            3 * time.Second,
		EstimatedOutputTokens: 512,
	}
	c.Limits = LimitsConfig{
		Global: limits.GlobalLimits{
			RequestsPerMinute: 120,
			RequestsPerHour:   2000,
			DailyBudgetUSD:    25,
		},
	}
	c.Providers = map[string]ProviderConfig{
		"cerebras": {Enabled: true, RateLimits: limits.ProviderLimits{RequestsPerMinute: 30, TokensPerMinute: 60000}},
		"groq":     {Enabled: true, RateLimits: limits.ProviderLimits{RequestsPerMinute: 30, TokensPerMinute: 30000}},
		"gemini":   {Enabled: true, RateLimits: limits.ProviderLimits{RequestsPerMinute: 15, TokensPerMinute: 32000}},
	}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// loadFromEnv applies environment overrides on top of file values. Provider
// API keys are the main use: <PROVIDER>_API_KEY seeds a primary key when the
// file configured none.
func (c *Config) loadFromEnv() {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = addr
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Security.Auth.JWTSecret = secret
	}
	if keys := os.Getenv("API_KEYS"); keys != "" {
		c.Security.Auth.Enabled = true
		c.Security.Auth.APIKeys = strings.Split(keys, ",")
	}

	for name, pc := range c.Providers {
		envName := strings.ToUpper(name) + "_API_KEY"
		secret := os.Getenv(envName)

		for i, key := range pc.Keys {
			if key.Secret == "" && key.SecretEnv != "" {
				pc.Keys[i].Secret = os.Getenv(key.SecretEnv)
			}
		}
		if len(pc.Keys) == 0 && secret != "" {
			pc.Keys = []KeyConfig{{ID: name + "-primary", Secret: secret, Type: "primary"}}
		}
		c.Providers[name] = pc
	}
}

func (c *Config) validate() error {
	if c.Routing.Thresholds.Medium <= 0 || c.Routing.Thresholds.High <= c.Routing.Thresholds.Medium {
		return fmt.Errorf("complexity thresholds must satisfy 0 < medium < high")
	}

	enabled := c.EnabledProviders()
	if len(enabled) == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	enabledSet := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = true
	}
	for level, chain := range c.Routing.Chains {
		for _, name := range chain {
			if !enabledSet[name] {
				return fmt.Errorf("chain for %q references disabled provider %q", level, name)
			}
		}
	}

	if c.Security.Auth.Enabled && len(c.Security.Auth.APIKeys) == 0 && c.Security.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but no api keys or jwt secret are configured")
	}
	return nil
}

// EnabledProviders returns enabled provider names in a stable order.
func (c *Config) EnabledProviders() []string {
	order := []string{"cerebras", "groq", "gemini", "anthropic"}
	var out []string
	for _, name := range order {
		if pc, ok := c.Providers[name]; ok && pc.Enabled {
			out = append(out, name)
		}
	}
	for name, pc := range c.Providers {
		if pc.Enabled && !contains(order, name) {
			out = append(out, name)
		}
	}
	return out
}

// ProviderRateLimits assembles the per-provider ceiling table for the guard.
func (c *Config) ProviderRateLimits() map[string]limits.ProviderLimits {
	out := make(map[string]limits.ProviderLimits)
	for name, pc := range c.Providers {
		if pc.Enabled {
			out[name] = pc.RateLimits
		}
	}
	return out
}

// CostTable assembles the price sheet for the routing engine.
func (c *Config) CostTable() routing.CostTable {
	out := make(routing.CostTable)
	for name, pc := range c.Providers {
		if pc.Enabled {
			out[name] = pc.Costs
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
