// Package groq adapts the Groq inference API, the balanced provider in the
// default routing tables.
package groq

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/providers/openaicompat"
)

const (
	Name           = "groq"
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
)

// Config holds Groq-specific wire settings.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Capacity  int           `yaml:"capacity"`
}

// New creates the Groq adapter. Groq exposes an OpenAI-compatible endpoint.
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
