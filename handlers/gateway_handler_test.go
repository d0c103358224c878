package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ribelo/prism-sub000/services"
	"github.com/ribelo/prism-sub000/services/dispatch"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req *dispatch.Request, w http.ResponseWriter) error {
	args := m.Called(ctx, req, w)
	return args.Error(0)
}

func gatewayRouter(h *GatewayHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Post("/v1/messages", h.HandleMessages)
	r.Post("/v1/chat/completions", h.HandleChatCompletions)
	r.Post("/v1beta/models/*", h.HandleGemini)
	return r
}

func TestGatewayHandler_PassesRequestToDispatcher(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		format providers.Format
		model  string
		stream *bool
	}{
		{name: "anthropic messages", path: "/v1/messages", format: providers.FormatAnthropic},
		{name: "openai chat completions", path: "/v1/chat/completions", format: providers.FormatOpenAI},
		{name: "gemini generate", path: "/v1beta/models/gemini-2.0-flash:generateContent", format: providers.FormatGemini, model: "gemini-2.0-flash", stream: boolPtr(false)},
		{name: "gemini stream with vendor prefix", path: "/v1beta/models/openrouter/meta-llama/llama-3:streamGenerateContent?alt=sse", format: providers.FormatGemini, model: "openrouter/meta-llama/llama-3", stream: boolPtr(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDispatcher := new(MockDispatcher)
			h := NewGatewayHandler(mockDispatcher, zap.NewNop())

			mockDispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req *dispatch.Request) bool {
				return req.Format == tt.format &&
					string(req.Body) == `{"x":1}` &&
					req.Model == tt.model &&
					assert.ObjectsAreEqual(tt.stream, req.Stream) &&
					req.VendorHint == "openai" &&
					req.RequestID != ""
			}), mock.Anything).Run(func(args mock.Arguments) {
				args.Get(2).(http.ResponseWriter).WriteHeader(http.StatusOK)
			}).Return(nil)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"x":1}`))
			req.Header.Set(HeaderVendorHint, "openai")
			w := httptest.NewRecorder()
			gatewayRouter(h).ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			mockDispatcher.AssertExpectations(t)
		})
	}
}

func TestGatewayHandler_ErrorEnvelopes(t *testing.T) {
	routingErr := services.RoutingFailure("no routing decision for nope", nil)

	t.Run("anthropic", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(routingErr)

		w := httptest.NewRecorder()
		gatewayRouter(NewGatewayHandler(mockDispatcher, zap.NewNop())).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusNotFound, w.Code)
		var body struct {
			Type  string `json:"type"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "error", body.Type)
		assert.Equal(t, "not_found_error", body.Error.Type)
		assert.Contains(t, body.Error.Message, "no routing decision")
	})

	t.Run("openai", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
			Return(services.ConversionFailure("invalid request body", nil))

		w := httptest.NewRecorder()
		gatewayRouter(NewGatewayHandler(mockDispatcher, zap.NewNop())).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body struct {
			Error struct {
				Type string `json:"type"`
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "invalid_request_error", body.Error.Type)
		assert.Equal(t, "conversion_failure", body.Error.Code)
	})

	t.Run("gemini", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
			Return(services.UpstreamFailure("upstream request to gemini failed", nil))

		w := httptest.NewRecorder()
		gatewayRouter(NewGatewayHandler(mockDispatcher, zap.NewNop())).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-pro:generateContent", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusBadGateway, w.Code)
		var body struct {
			Error struct {
				Code   int    `json:"code"`
				Status string `json:"status"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, http.StatusBadGateway, body.Error.Code)
		assert.Equal(t, "UNAVAILABLE", body.Error.Status)
	})
}

func TestGatewayHandler_RejectsBeforeDispatch(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   io.Reader
		limit  int64
		status int
	}{
		{"unknown gemini operation", "/v1beta/models/gemini-pro:countTokens", strings.NewReader(`{}`), 0, http.StatusNotFound},
		{"gemini path without operation", "/v1beta/models/gemini-pro", strings.NewReader(`{}`), 0, http.StatusNotFound},
		{"oversized body", "/v1/messages", strings.NewReader(strings.Repeat("x", 64)), 16, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDispatcher := new(MockDispatcher)
			h := NewGatewayHandler(mockDispatcher, zap.NewNop())
			if tt.limit > 0 {
				h.maxBodyBytes = tt.limit
			}

			w := httptest.NewRecorder()
			gatewayRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, tt.body))

			assert.Equal(t, tt.status, w.Code)
			mockDispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func boolPtr(b bool) *bool { return &b }
