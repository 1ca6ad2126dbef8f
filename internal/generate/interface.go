package generate

import (
	"context"

	"sitegen/internal/models"
)

// ServiceInterface defines the interface for generate service operations
type ServiceInterface interface {
	// ClassifyTemplate asks the model whether a project is node or react and
	// returns the matching prompt bundle
	ClassifyTemplate(ctx context.Context, req *models.TemplateRequest) (*models.TemplateResponse, error)

	// Chat forwards a transcript to the model and returns its reply
	Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
