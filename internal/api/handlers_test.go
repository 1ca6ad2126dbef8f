package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sitegen/internal/generate"
	"sitegen/internal/logger"
	"sitegen/internal/models"
	"sitegen/internal/store"
	"sitegen/internal/version"
)

// mockStore implements store.Store for health check tests
type mockStore struct {
	pingErr error
}

func (m *mockStore) Increment(context.Context, string, time.Duration) (int64, error) { return 1, nil }
func (m *mockStore) TTL(context.Context, string) (time.Duration, error)              { return 0, nil }
func (m *mockStore) Ping(context.Context) error                                      { return m.pingErr }
func (m *mockStore) Close() error                                                    { return nil }

// MockGenerateService implements generate.ServiceInterface for testing
type MockGenerateService struct {
	mock.Mock
}

func (m *MockGenerateService) ClassifyTemplate(ctx context.Context, req *models.TemplateRequest) (*models.TemplateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TemplateResponse), args.Error(1)
}

func (m *MockGenerateService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatResponse), args.Error(1)
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestNewHandlers(t *testing.T) {
	mockService := &MockGenerateService{}
	handlers := NewHandlers(mockService)

	assert.NotNil(t, handlers)
	assert.Equal(t, mockService, handlers.service)
	assert.Nil(t, handlers.store)
	assert.Equal(t, int64(defaultMaxBodyBytes), handlers.maxBodyBytes)
}

func TestNewHandlers_WithOptions(t *testing.T) {
	s := &mockStore{}
	handlers := NewHandlers(&MockGenerateService{},
		WithStore(s),
		WithVersion(version.Info{Version: "1.2.3"}),
		WithMaxBodyBytes(512),
	)

	assert.Equal(t, s, handlers.store)
	assert.Equal(t, "1.2.3", handlers.version.Version)
	assert.Equal(t, int64(512), handlers.maxBodyBytes)

	handlers = NewHandlers(&MockGenerateService{}, WithMaxBodyBytes(0))
	assert.Equal(t, int64(defaultMaxBodyBytes), handlers.maxBodyBytes)
}

func TestHandlers_Template_Success(t *testing.T) {
	mockService := &MockGenerateService{}
	handlers := NewHandlers(mockService)

	expected := &models.TemplateResponse{
		Prompts:   []string{"base", "artifact"},
		UIPrompts: []string{"react"},
	}
	mockService.On("ClassifyTemplate", mock.Anything, &models.TemplateRequest{Prompt: "todo app"}).Return(expected, nil)

	rr := httptest.NewRecorder()
	handlers.Template(rr, postJSON("/template", `{"prompt":"todo app"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp models.TemplateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, *expected, resp)
	mockService.AssertExpectations(t)
}

func TestHandlers_Template_ServiceErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
		expectedMsg    string
	}{
		{
			name:           "forbidden project type",
			err:            generate.NewForbiddenError("You can't access this"),
			expectedStatus: http.StatusForbidden,
			expectedCode:   models.ErrorCodeForbidden,
			expectedMsg:    "You can't access this",
		},
		{
			name:           "invalid request",
			err:            generate.NewInvalidRequestError("invalid template request", errors.New("prompt is required")),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeInvalidRequest,
			expectedMsg:    "invalid template request",
		},
		{
			name:           "upstream failure",
			err:            generate.NewUpstreamError("language model request failed", errors.New("529")),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   models.ErrorCodeUpstreamError,
			expectedMsg:    "language model request failed",
		},
		{
			name:           "unexpected error",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   models.ErrorCodeInternalError,
			expectedMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockGenerateService{}
			mockService.On("ClassifyTemplate", mock.Anything, mock.Anything).Return(nil, tt.err)
			handlers := NewHandlers(mockService)

			req := postJSON("/template", `{"prompt":"x"}`)
			req = req.WithContext(logger.WithRequestID(req.Context(), "req-7"))
			rr := httptest.NewRecorder()
			handlers.Template(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, "error", resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Code)
			assert.Equal(t, tt.expectedMsg, resp.Message)
			assert.Equal(t, "req-7", resp.RequestID)
		})
	}
}

func TestHandlers_Template_InvalidJSON(t *testing.T) {
	mockService := &MockGenerateService{}
	handlers := NewHandlers(mockService)

	rr := httptest.NewRecorder()
	handlers.Template(rr, postJSON("/template", `{"prompt":`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrorCodeBadRequest, decodeError(t, rr).Code)
	mockService.AssertNotCalled(t, "ClassifyTemplate", mock.Anything, mock.Anything)
}

func TestHandlers_Template_BodyTooLarge(t *testing.T) {
	mockService := &MockGenerateService{}
	handlers := NewHandlers(mockService, WithMaxBodyBytes(32))

	body := fmt.Sprintf(`{"prompt":"%s"}`, strings.Repeat("a", 100))
	rr := httptest.NewRecorder()
	handlers.Template(rr, postJSON("/template", body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, models.ErrorCodePayloadTooLarge, decodeError(t, rr).Code)
	mockService.AssertNotCalled(t, "ClassifyTemplate", mock.Anything, mock.Anything)
}

func TestHandlers_Chat_Success(t *testing.T) {
	mockService := &MockGenerateService{}
	handlers := NewHandlers(mockService)

	mockService.On("Chat", mock.Anything, mock.MatchedBy(func(req *models.ChatRequest) bool {
		return len(req.Messages) == 1 && req.Messages[0].Content == "build a blog"
	})).Return(&models.ChatResponse{Response: "<boltArtifact/>"}, nil)

	body, err := json.Marshal(models.ChatRequest{
		Messages: []models.Message{{Role: "user", Content: "build a blog"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handlers.Chat(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "<boltArtifact/>", resp.Response)
	mockService.AssertExpectations(t)
}

func TestHandlers_Chat_UpstreamError(t *testing.T) {
	mockService := &MockGenerateService{}
	mockService.On("Chat", mock.Anything, mock.Anything).
		Return(nil, generate.NewUpstreamError("language model request failed", errors.New("timeout")))
	handlers := NewHandlers(mockService)

	rr := httptest.NewRecorder()
	handlers.Chat(rr, postJSON("/chat", `{"messages":[{"role":"user","content":"hi"}]}`))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, models.ErrorCodeUpstreamError, decodeError(t, rr).Code)
}

func TestHandlers_HealthCheck(t *testing.T) {
	handlers := NewHandlers(&MockGenerateService{},
		WithVersion(version.Info{Version: "1.0.0", InstanceID: "inst-1"}))

	rr := httptest.NewRecorder()
	handlers.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "Server is running!", response["message"])
	assert.Equal(t, "1.0.0", response["version"])
	assert.NotEmpty(t, response["timestamp"])
	assert.NotEmpty(t, response["uptime"])

	components := response["components"].(map[string]interface{})
	apiComp := components["api"].(map[string]interface{})
	assert.Equal(t, "inst-1", apiComp["details"].(map[string]interface{})["instance_id"])
	assert.NotContains(t, components, "store")
}

func TestHandlers_HealthCheck_WithStore(t *testing.T) {
	handlers := NewHandlers(&MockGenerateService{}, WithStore(&mockStore{}))

	rr := httptest.NewRecorder()
	handlers.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	components := response["components"].(map[string]interface{})
	storeComp := components["store"].(map[string]interface{})
	assert.Equal(t, "healthy", storeComp["status"])
}

func TestHandlers_HealthCheck_StoreDegraded(t *testing.T) {
	s := &mockStore{pingErr: fmt.Errorf("ping: %w: connection refused", store.ErrUnavailable)}
	handlers := NewHandlers(&MockGenerateService{}, WithStore(s))

	rr := httptest.NewRecorder()
	handlers.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	// A lost store never fails the probe.
	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])

	components := response["components"].(map[string]interface{})
	storeComp := components["store"].(map[string]interface{})
	assert.Equal(t, "degraded", storeComp["status"])
	assert.Contains(t, storeComp["message"], "connection refused")
}
