package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ribelo/prism-sub000/app"
	"github.com/ribelo/prism-sub000/handlers"
	"github.com/ribelo/prism-sub000/utils"
)

// AdminScope guards the operational endpoints under /api/v1
const AdminScope = "admin"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies, version string) http.Handler {
	r := chi.NewRouter()

	// Core middleware. No global timeout: streamed responses run for minutes.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"X-Api-Key", "X-Goog-Api-Key", "Anthropic-Version", "Anthropic-Beta", handlers.HeaderVendorHint,
		},
		ExposedHeaders: []string{"X-Request-ID", "X-Prism-Vendor", "X-Prism-Model"},
		MaxAge:         300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, deps.Credentials, deps.Config.Maintenance.StaleAfter, deps.Logger)
	gateway := handlers.NewGatewayHandler(deps.Dispatcher, deps.Logger)
	status := handlers.NewStatusHandler(handlers.StatusInfo{
		Version:     version,
		Environment: deps.Config.Environment,
		StartedAt:   deps.StartedAt,
	}, deps.Registry, deps.Credentials, deps.Audit)
	resolve := handlers.NewRouteHandler(deps.Router, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Vendor-compatible inference endpoints
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Post("/v1/messages", gateway.HandleMessages)
		r.Post("/v1/chat/completions", gateway.HandleChatCompletions)
		r.Post("/v1beta/models/*", gateway.HandleGemini)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Use(deps.AuthMiddleware.RequireScope(AdminScope))
		r.Get("/status", status.HandleStatus)
		r.Get("/routes/resolve", resolve.HandleResolve)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
