// Package cerebras adapts the Cerebras inference API, the low-latency
// provider in the default routing tables.
package cerebras

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/providers/openaicompat"
)

const (
	Name           = "cerebras"
	DefaultBaseURL = "https://api.cerebras.ai/v1"
	DefaultModel   = "llama-3.3-70b"
)

// Config holds Cerebras-specific wire settings.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Capacity  int           `yaml:"capacity"`
}

// New creates the Cerebras adapter. Cerebras speaks the OpenAI wire format.
func New(cfg *Config, keys providers.KeySource, logger *logrus.Logger) *openaicompat.Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return openaicompat.New(openaicompat.Config{
		Provider:  Name,
		BaseURL:   baseURL,
		Model:     model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout,
		Capacity:  cfg.Capacity,
	}, keys, logger)
}
