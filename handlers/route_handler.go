package handlers

import (
	"context"
	"net/http"

	"github.com/ribelo/prism-sub000/services"
	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/ribelo/prism-sub000/utils"
	"go.uber.org/zap"
)

// Router produces routing decisions without dispatching
type Router interface {
	Route(ctx context.Context, req *routing.RouteRequest) ([]*routing.RoutingDecision, error)
}

// RouteResolveResponse is the body of GET /api/v1/routes/resolve
type RouteResolveResponse struct {
	Model     string                     `json:"model"`
	Decisions []*routing.RoutingDecision `json:"decisions"`
}

// RouteHandler previews routing decisions
type RouteHandler struct {
	router Router
	logger *zap.Logger
}

// NewRouteHandler creates a new RouteHandler
func NewRouteHandler(router Router, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{router: router, logger: logger}
}

// HandleResolve handles GET /api/v1/routes/resolve?model=&vendor=&cap=
func (h *RouteHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	model := q.Get("model")
	if model == "" {
		_ = utils.WriteBadRequest(w, "model query parameter is required", nil)
		return
	}

	req := &routing.RouteRequest{Model: model, VendorHint: q.Get("vendor")}
	for _, c := range q["cap"] {
		req.Capabilities = append(req.Capabilities, routing.Capability(c))
	}

	decisions, err := h.router.Route(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if len(decisions) == 0 {
		HandleServiceError(w, services.RoutingFailure("no routing decision for "+model, nil), h.logger)
		return
	}

	_ = utils.WriteOK(w, RouteResolveResponse{Model: model, Decisions: decisions})
}
