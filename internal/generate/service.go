// Package generate holds the business logic behind the template and chat
// endpoints. It builds model requests from the embedded prompts and maps
// failures to ServiceError values the HTTP layer can render.
package generate

import (
	"context"
	"log/slog"
	"strings"

	"sitegen/internal/llm"
	"sitegen/internal/models"
	"sitegen/internal/prompts"
)

// Service handles template classification and chat completion
type Service struct {
	llm               llm.Client
	classifyMaxTokens int64
	chatMaxTokens     int64
}

// NewService creates a new generate service on top of the given model client
func NewService(client llm.Client, cfg models.LLMConfig) *Service {
	return &Service{
		llm:               client,
		classifyMaxTokens: cfg.ClassifyMaxTokens,
		chatMaxTokens:     cfg.ChatMaxTokens,
	}
}

// ClassifyTemplate determines the project type for a prompt and returns its
// prompt bundle. Answers other than node or react are refused.
func (s *Service) ClassifyTemplate(ctx context.Context, req *models.TemplateRequest) (*models.TemplateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid template request", err)
	}
	req.Normalize()

	answer, err := s.llm.Complete(ctx, llm.CompletionRequest{
		System:    prompts.ClassifySystemPrompt,
		Messages:  []models.Message{{Role: models.RoleUser, Content: req.Prompt}},
		MaxTokens: s.classifyMaxTokens,
	})
	if err != nil {
		return nil, NewUpstreamError("language model request failed", err)
	}

	projectType := strings.ToLower(strings.TrimSpace(answer))
	bundle, ok := prompts.ForProject(projectType)
	if !ok {
		slog.WarnContext(ctx, "Unrecognised project type from model", "answer", answer)
		return nil, NewForbiddenError("You can't access this")
	}

	return &models.TemplateResponse{
		Prompts:   bundle.Prompts,
		UIPrompts: bundle.UIPrompts,
	}, nil
}

// Chat forwards the transcript with the code-generation system prompt.
func (s *Service) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid chat request", err)
	}
	req.Normalize()

	reply, err := s.llm.Complete(ctx, llm.CompletionRequest{
		System:    prompts.System(),
		Messages:  req.Messages,
		MaxTokens: s.chatMaxTokens,
	})
	if err != nil {
		return nil, NewUpstreamError("language model request failed", err)
	}

	return &models.ChatResponse{Response: reply}, nil
}
