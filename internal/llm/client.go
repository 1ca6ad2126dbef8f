// Package llm sends completion requests to the hosted language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"sitegen/internal/models"
	"sitegen/internal/version"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// CompletionRequest is one call to the model: a system prompt, the
// conversation so far and an output budget.
type CompletionRequest struct {
	System    string
	Messages  []models.Message
	MaxTokens int64
}

// Client produces a text completion.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// AnthropicClient calls the Anthropic Messages API. Outbound calls are paced
// by a process-local token bucket so a burst of admitted requests does not
// trip the provider's own limits.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	pacer  *rate.Limiter
	tracer trace.Tracer
}

// NewAnthropicClient builds a client from configuration. An empty API key
// leaves the SDK to read ANTHROPIC_API_KEY itself.
func NewAnthropicClient(cfg models.LLMConfig, ver version.Info) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHeader("User-Agent", ver.UserAgent()),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		pacer:  pacer,
		tracer: otel.Tracer("sitegen/llm"),
	}
}

// Complete sends the request and returns the concatenated text blocks of
// the reply.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.Complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int64("llm.max_tokens", req.MaxTokens),
			attribute.Int("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	text, err := c.complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetStatus(codes.Ok, "")
	return text, nil
}

func (c *AnthropicClient) complete(ctx context.Context, req CompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("at least one message is required")
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for outbound slot: %w", err)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: req.MaxTokens,
		Messages:  toMessageParams(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}

	return b.String(), nil
}

func toMessageParams(messages []models.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params
}
