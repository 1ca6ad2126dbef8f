package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sitegen/internal/generate"
	"sitegen/internal/logger"
	"sitegen/internal/models"
	"sitegen/internal/store"
	"sitegen/internal/version"
)

const (
	defaultMaxBodyBytes = 1 << 20
	healthPingTimeout   = 2 * time.Second
)

// Handlers contains HTTP handlers for the sitegen API
type Handlers struct {
	service      generate.ServiceInterface
	store        store.Store
	version      version.Info
	startedAt    time.Time
	maxBodyBytes int64
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithStore lets the health check report on the counter store.
func WithStore(s store.Store) HandlerOption {
	return func(h *Handlers) {
		h.store = s
	}
}

// WithVersion sets the build metadata reported by the health check.
func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// WithMaxBodyBytes caps the size of JSON request bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(service generate.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service:      service,
		startedAt:    time.Now(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Template handles project classification requests
// POST /template
func (h *Handlers) Template(w http.ResponseWriter, r *http.Request) {
	var req models.TemplateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	response, err := h.service.ClassifyTemplate(r.Context(), &req)
	if err != nil {
		h.writeServiceErrorResponse(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Chat handles chat completion requests
// POST /chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	response, err := h.service.Chat(r.Context(), &req)
	if err != nil {
		h.writeServiceErrorResponse(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
// The probe always answers 200; an unreachable counter store is reported as
// a degraded component because admission keeps working by failing open.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusOK, "Server is running!")
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	if h.version.InstanceID != "" {
		response.AddComponentDetail("api", "instance_id", h.version.InstanceID)
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "Counter store health check failed", "error", err)
			response.AddComponent("store", models.StatusDegraded, "Counter store unreachable, admitting requests: "+err.Error())
		} else {
			response.AddComponent("store", models.StatusHealthy, "Counter store is operational")
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// decodeJSON reads a size-capped JSON body into dst. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, models.ErrorCodePayloadTooLarge, "Request body too large")
			return false
		}
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, so the failure can only be logged.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response carrying the request id
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = logger.RequestIDFromContext(r.Context())

	h.writeJSONResponse(w, statusCode, errorResp)
}

// writeServiceErrorResponse maps a generate.ServiceError to its HTTP status.
// Anything else is reported as an internal error without leaking details.
func (h *Handlers) writeServiceErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *generate.ServiceError
	if !errors.As(err, &svcErr) {
		slog.ErrorContext(r.Context(), "Unexpected service error", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	if svcErr.StatusCode >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "code", svcErr.Code, "error", err)
	} else {
		slog.WarnContext(r.Context(), "Request rejected", "code", svcErr.Code, "error", err)
	}

	h.writeErrorResponse(w, r, svcErr.StatusCode, svcErr.Code, svcErr.Message)
}
