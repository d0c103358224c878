package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ribelo/prism-sub000/app"
	"github.com/ribelo/prism-sub000/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testClientKey = "client-key"

func setupTestRouter(t *testing.T, anthropicURL string) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Environment: "test",
		Vendors: config.VendorsConfig{
			Anthropic:  config.VendorConfig{Name: "anthropic", APIKey: "sk-ant", BaseURL: anthropicURL, Timeout: 5 * time.Second},
			OpenAI:     config.VendorConfig{Name: "openai", Timeout: 5 * time.Second},
			OpenRouter: config.VendorConfig{Name: "openrouter", Timeout: 5 * time.Second},
			Gemini:     config.VendorConfig{Name: "gemini", Timeout: 5 * time.Second},
		},
		Routing: config.RoutingConfig{DefaultVendor: "anthropic", MinConfidence: 0.5, EnableFallback: true},
		Maintenance: config.MaintenanceConfig{
			Interval:   time.Minute,
			StaleAfter: time.Minute,
			Cooldown:   time.Second,
		},
		Auth:          config.AuthConfig{APIKeys: []string{testClientKey}},
		Observability: config.ObservabilityConfig{LogLevel: "info", MetricsEnabled: true},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	return SetupRoutes(deps, "test-version")
}

func TestSetupRoutes(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"Hello"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer vendor.Close()

	router := setupTestRouter(t, vendor.URL)
	messages := `{"model":"claude-sonnet-4","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header map[string]string
		status int
		check  func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:   "liveness",
			method: http.MethodGet,
			path:   "/healthz",
			status: http.StatusOK,
		},
		{
			name:   "readiness degraded before first maintenance pass",
			method: http.MethodGet,
			path:   "/readyz",
			status: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), `"degraded"`)
			},
		},
		{
			name:   "metrics",
			method: http.MethodGet,
			path:   "/metrics",
			status: http.StatusOK,
		},
		{
			name:   "messages without credentials",
			method: http.MethodPost,
			path:   "/v1/messages",
			body:   messages,
			status: http.StatusUnauthorized,
		},
		{
			name:   "messages with anthropic-style key",
			method: http.MethodPost,
			path:   "/v1/messages",
			body:   messages,
			header: map[string]string{"x-api-key": testClientKey},
			status: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "anthropic", rec.Header().Get("X-Prism-Vendor"))
				assert.Contains(t, rec.Body.String(), `"Hello"`)
			},
		},
		{
			name:   "status requires auth",
			method: http.MethodGet,
			path:   "/api/v1/status",
			status: http.StatusUnauthorized,
		},
		{
			name:   "status",
			method: http.MethodGet,
			path:   "/api/v1/status",
			header: map[string]string{"Authorization": "Bearer " + testClientKey},
			status: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body struct {
					Data struct {
						Version string   `json:"version"`
						Vendors []string `json:"vendors"`
					} `json:"data"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "test-version", body.Data.Version)
				assert.Len(t, body.Data.Vendors, 4)
			},
		},
		{
			name:   "route preview",
			method: http.MethodGet,
			path:   "/api/v1/routes/resolve?model=openrouter/z-ai/glm-4.5",
			header: map[string]string{"Authorization": "Bearer " + testClientKey},
			status: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), `"vendor":"openrouter"`)
			},
		},
		{
			name:   "unknown endpoint",
			method: http.MethodGet,
			path:   "/nope",
			status: http.StatusNotFound,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), "endpoint not found")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}
