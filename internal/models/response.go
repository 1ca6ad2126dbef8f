package models

import (
	"fmt"
	"time"
)

// TemplateResponse is the prompt bundle for the detected project type.
// Field names follow what the browser client already consumes.
type TemplateResponse struct {
	Prompts   []string `json:"prompts"`
	UIPrompts []string `json:"uiPrompts"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse provides structured error information.
//
// Every non-2xx JSON body uses this shape so the client can branch on Code
// and show Message verbatim.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

// RateLimitResponse is the 429 body. RetryAt is the RFC 3339 instant at
// which the caller's window ends.
type RateLimitResponse struct {
	ErrorResponse
	RetryAt time.Time `json:"retryAt"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Message    string                     `json:"message"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
//
// StatusOK is the top-level liveness answer. Component entries use the
// finer healthy/degraded/unhealthy scale; a degraded counter store does not
// change the top-level status because admission fails open.
const (
	StatusOK        = "ok"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusUnknown   = "unknown"
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Request refused
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405: Wrong verb
	ErrorCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"   // 413: Body over the configured cap
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Admission rejected
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUpstreamError      = "UPSTREAM_ERROR"      // 502: LLM provider failed
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewRateLimitResponse builds the rejection body for a caller that may retry
// at retryAt.
func NewRateLimitResponse(retryAt time.Time) *RateLimitResponse {
	retryAt = retryAt.UTC()
	return &RateLimitResponse{
		ErrorResponse: *NewErrorResponse(
			fmt.Sprintf("Rate limit: try again after %s", retryAt.Format(time.RFC1123)),
			ErrorCodeRateLimitExceeded,
		),
		RetryAt: retryAt,
	}
}

func NewHealthCheckResponse(status, message string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// AddComponentDetail attaches a detail value to an existing component.
func (h *HealthCheckResponse) AddComponentDetail(name, key string, value interface{}) {
	c, ok := h.Components[name]
	if !ok {
		return
	}
	if c.Details == nil {
		c.Details = make(map[string]interface{})
	}
	c.Details[key] = value
	h.Components[name] = c
}
