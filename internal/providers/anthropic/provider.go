// Package anthropic adapts the Anthropic Messages API. It is not part of
// the default provider set; configuring it demonstrates that the engine is
// provider-agnostic beyond the OpenAI wire format.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/types"
)

const (
	Name         = "anthropic"
	DefaultModel = "claude-3-5-haiku-latest"

	defaultMaxTokens = 1024
)

// Config holds Anthropic-specific wire settings.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Capacity  int           `yaml:"capacity"`
}

// Provider implements providers.Adapter over the Anthropic SDK.
type Provider struct {
	cfg    Config
	keys   providers.KeySource
	logger *logrus.Logger
}

// New creates the Anthropic adapter.
func New(cfg *Config, keys providers.KeySource, logger *logrus.Logger) *Provider {
	c := *cfg
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = 5
	}
	return &Provider{cfg: c, keys: keys, logger: logger}
}

// Name implements providers.Adapter.
func (p *Provider) Name() string { return Name }

// Capacity implements providers.Adapter.
func (p *Provider) Capacity() int { return p.cfg.Capacity }

// IsAvailable implements providers.Adapter.
func (p *Provider) IsAvailable(_ context.Context) bool {
	_, _, ok := p.keys.ActiveKey(Name)
	return ok
}

// Invoke implements providers.Adapter.
func (p *Provider) Invoke(ctx context.Context, req *types.LLMRequest) (*providers.Result, error) {
	_, secret, ok := p.keys.ActiveKey(Name)
	if !ok {
		return nil, providers.NewError(types.KindAuthFailure, Name, "no api key configured", nil)
	}

	opts := []option.RequestOption{option.WithAPIKey(secret)}
	if p.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	maxTokens := p.cfg.MaxTokens
	if o := req.Options; o != nil && o.MaxTokens > 0 && o.MaxTokens < maxTokens {
		maxTokens = o.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Query)),
		},
	}
	if o := req.Options; o != nil && len(o.StopSequences) > 0 {
		params.StopSequences = o.StopSequences
	}

	msg, err := client.Messages.New(callCtx, params)
	if err != nil {
		p.logger.WithError(err).WithField("provider", Name).Warn("provider call failed")
		return nil, p.mapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &providers.Result{
		Text:         sb.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := providers.KindFromStatus(apiErr.StatusCode)
		return providers.NewError(kind, Name, apiErr.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewError(types.KindTimeout, Name, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return providers.NewError(types.KindTimeout, Name, "request cancelled", err)
	}
	return providers.NewError(types.KindUnknown, Name, err.Error(), err)
}
