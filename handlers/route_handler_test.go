package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter() *routing.RoutingService {
	logger := zap.NewNop()
	table := routing.NewRouteTable(map[string]routing.RouteAlias{
		"fast":  routing.Single("openai/gpt-4o-mini"),
		"smart": routing.Multiple("anthropic/claude-sonnet-4", "openai/gpt-4o"),
	}, logger)
	return routing.NewDefaultRoutingService(table, routing.DefaultCatalog(routing.VendorAnthropic), routing.CompositeConfig{
		EnableFallback: false,
		MinConfidence:  0.5,
	}, logger)
}

func TestHandleResolve(t *testing.T) {
	h := NewRouteHandler(newTestRouter(), zap.NewNop())

	t.Run("explicit vendor prefix", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleResolve(w, httptest.NewRequest(http.MethodGet, "/api/v1/routes/resolve?model=openai/gpt-4o", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data RouteResolveResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "openai/gpt-4o", body.Data.Model)
		require.Len(t, body.Data.Decisions, 1)
		assert.Equal(t, "openai", body.Data.Decisions[0].Vendor)
		assert.Equal(t, "gpt-4o", body.Data.Decisions[0].Model)
	})

	t.Run("multi-target alias expands in order", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleResolve(w, httptest.NewRequest(http.MethodGet, "/api/v1/routes/resolve?model=smart", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data RouteResolveResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Len(t, body.Data.Decisions, 2)
		assert.Equal(t, "anthropic", body.Data.Decisions[0].Vendor)
		assert.Equal(t, "openai", body.Data.Decisions[1].Vendor)
	})

	t.Run("missing model", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleResolve(w, httptest.NewRequest(http.MethodGet, "/api/v1/routes/resolve", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown vendor hint", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleResolve(w, httptest.NewRequest(http.MethodGet, "/api/v1/routes/resolve?model=gpt-4o&vendor=acme", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "routing_failure")
	})
}
