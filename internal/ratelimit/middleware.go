package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sitegen/internal/logger"
	"sitegen/internal/models"
)

// Admitter is the admission check the middleware consults. *Limiter
// implements it.
type Admitter interface {
	CheckAdmission(ctx context.Context, clientID, routeID string) (Decision, error)
}

type middlewareConfig struct {
	trustForwardedFor bool
	routeID           func(*http.Request) string
	now               func() time.Time
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithTrustForwardedFor makes the client id come from X-Forwarded-For or
// X-Real-IP. Enable it only behind a proxy that overwrites those headers.
func WithTrustForwardedFor(trust bool) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.trustForwardedFor = trust
	}
}

// WithRouteID overrides how the route id is derived from a request.
func WithRouteID(fn func(*http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.routeID = fn
	}
}

// WithMiddlewareClock replaces time.Now when computing Retry-After.
func WithMiddlewareClock(now func() time.Time) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.now = now
	}
}

// Middleware returns HTTP middleware that runs an admission check before the
// wrapped handler. Rejected requests get a 429 with Retry-After and a JSON
// body carrying retryAt; the wrapped handler is not called. Errors from the
// check other than store unavailability produce a 500.
func Middleware(a Admitter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		routeID: RouteTemplate,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ClientID(r, cfg.trustForwardedFor)
			routeID := cfg.routeID(r)

			d, err := a.CheckAdmission(r.Context(), clientID, routeID)
			if err != nil {
				slog.ErrorContext(r.Context(), "Admission check failed",
					"route", routeID,
					"client", clientID,
					"error", err,
				)
				writeJSON(w, http.StatusInternalServerError, withRequestID(
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError), r))
				return
			}

			if d.FailOpen {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining(), 10))

			if !d.Allowed {
				retryAfterSecs := int64(math.Ceil(d.RetryAfter(cfg.now()).Seconds()))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.RetryAt.Unix(), 10))
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSecs, 10))

				resp := models.NewRateLimitResponse(d.RetryAt)
				resp.RequestID = logger.RequestIDFromContext(r.Context())
				writeJSON(w, http.StatusTooManyRequests, resp)

				slog.WarnContext(r.Context(), "Rate limit exceeded",
					"key", d.Key,
					"count", d.Count,
					"limit", d.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RouteTemplate identifies the route by its mux path template, falling back
// to the request path for requests served outside a mux router.
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return r.URL.Path
}

// ClientID returns the socket peer address without the port. Forwarding
// headers are consulted only when trustForwarded is set; the first entry of
// X-Forwarded-For wins over X-Real-IP.
func ClientID(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func withRequestID(resp *models.ErrorResponse, r *http.Request) *models.ErrorResponse {
	resp.RequestID = logger.RequestIDFromContext(r.Context())
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
