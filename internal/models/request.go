package models

import (
	"errors"
	"fmt"
	"strings"
)

// Chat roles accepted by the chat endpoint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TemplateRequest asks the service to pick a starter template for a project
// description.
type TemplateRequest struct {
	Prompt string `json:"prompt"`
}

// Message is one turn of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the full transcript; the service is stateless.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

func (r *TemplateRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

func (r *TemplateRequest) Normalize() {
	r.Prompt = strings.TrimSpace(r.Prompt)
}

func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages are required")
	}

	for i, m := range r.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != RoleUser && role != RoleAssistant {
			return fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message %d: content is required", i)
		}
	}

	if last := strings.ToLower(strings.TrimSpace(r.Messages[len(r.Messages)-1].Role)); last != RoleUser {
		return errors.New("last message must come from the user")
	}

	return nil
}

func (r *ChatRequest) Normalize() {
	for i := range r.Messages {
		r.Messages[i].Role = strings.ToLower(strings.TrimSpace(r.Messages[i].Role))
	}
}
