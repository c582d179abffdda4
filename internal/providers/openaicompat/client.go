// Package openaicompat implements the adapter contract for providers that
// speak the OpenAI chat-completion wire format (Cerebras, Groq, Gemini's
// OpenAI-compatible endpoint).
package openaicompat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/types"
)

// Config holds the wire settings for one OpenAI-compatible provider.
type Config struct {
	Provider  string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Capacity  int
}

// Client is a provider adapter over the go-openai SDK. API keys come from
// the KeySource on every call so key rotation takes effect immediately.
type Client struct {
	cfg        Config
	keys       providers.KeySource
	logger     *logrus.Logger
	httpClient *http.Client
}

// New creates an adapter for one OpenAI-compatible backend.
func New(cfg Config, keys providers.KeySource, logger *logrus.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	return &Client{
		cfg:    cfg,
		keys:   keys,
		logger: logger,
		// Shared transport across per-key SDK clients.
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements providers.Adapter.
func (c *Client) Name() string { return c.cfg.Provider }

// Capacity implements providers.Adapter.
func (c *Client) Capacity() int { return c.cfg.Capacity }

// IsAvailable reports whether the adapter could attempt a call at all.
// Rolling health lives in the registry; this only covers configuration.
func (c *Client) IsAvailable(_ context.Context) bool {
	_, _, ok := c.keys.ActiveKey(c.cfg.Provider)
	return ok
}

// Invoke implements providers.Adapter.
func (c *Client) Invoke(ctx context.Context, req *types.LLMRequest) (*providers.Result, error) {
	keyID, secret, ok := c.keys.ActiveKey(c.cfg.Provider)
	if !ok {
		return nil, providers.NewError(types.KindAuthFailure, c.cfg.Provider, "no api key configured", nil)
	}

	clientCfg := openai.DefaultConfig(secret)
	if c.cfg.BaseURL != "" {
		clientCfg.BaseURL = c.cfg.BaseURL
	}
	clientCfg.HTTPClient = c.httpClient
	sdk := openai.NewClientWithConfig(clientCfg)

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := sdk.CreateChatCompletion(callCtx, c.buildRequest(req))
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"provider": c.cfg.Provider,
			"key_id":   keyID,
		}).Warn("provider call failed")
		return nil, c.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewError(types.KindServerError, c.cfg.Provider, "response contained no choices", nil)
	}

	return &providers.Result{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) buildRequest(req *types.LLMRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Query},
		},
		MaxTokens: c.cfg.MaxTokens,
	}
	if o := req.Options; o != nil {
		if o.MaxTokens > 0 && (c.cfg.MaxTokens == 0 || o.MaxTokens < c.cfg.MaxTokens) {
			out.MaxTokens = o.MaxTokens
		}
		if o.Temperature != nil {
			out.Temperature = *o.Temperature
		}
		if o.TopP != nil {
			out.TopP = *o.TopP
		}
		if len(o.StopSequences) > 0 {
			out.Stop = o.StopSequences
		}
		if o.PresencePenalty != nil {
			out.PresencePenalty = *o.PresencePenalty
		}
		if o.FrequencyPenalty != nil {
			out.FrequencyPenalty = *o.FrequencyPenalty
		}
	}
	return out
}

func (c *Client) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := providers.KindFromStatus(apiErr.HTTPStatusCode)
		return providers.NewError(kind, c.cfg.Provider, apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewError(types.KindTimeout, c.cfg.Provider, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return providers.NewError(types.KindTimeout, c.cfg.Provider, "request cancelled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return providers.NewError(types.KindTimeout, c.cfg.Provider, "request timed out", err)
	}
	return providers.NewError(types.KindUnknown, c.cfg.Provider, err.Error(), err)
}
