// Package gemini adapts Google's Gemini API through its OpenAI-compatible
// endpoint. Gemini is the high-capacity provider favored for complex
// reasoning in the default routing tables.
package gemini

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/providers/openaicompat"
)

const (
	Name           = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel   = "gemini-2.0-flash"
)

// Config holds Gemini-specific wire settings.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Capacity  int           `yaml:"capacity"`
}

// New creates the Gemini adapter.
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
