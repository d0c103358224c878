package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/ribelo/prism-sub000/utils"
	"go.uber.org/zap"
)

// Readiness states
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// MaintenanceProbe reports when the credential maintenance loop last ran
type MaintenanceProbe interface {
	LastMaintenance() time.Time
	IsStale(d time.Duration) bool
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          *sql.DB
	maintenance MaintenanceProbe
	staleAfter  time.Duration
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and maintenance may be nil.
func NewHealthHandler(db *sql.DB, maintenance MaintenanceProbe, staleAfter time.Duration, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		maintenance: maintenance,
		staleAfter:  staleAfter,
		logger:      logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only: returns 200 while the process serves HTTP
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// An unreachable database makes the gateway not ready. A stale maintenance
// loop only degrades it: requests are still served but tokens may expire.
// A gateway configured without a database is ready.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := StatusReady
	httpStatus := http.StatusOK

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		status = StatusNotReady
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "healthy"
	}

	if h.maintenance != nil {
		if h.maintenance.IsStale(h.staleAfter) {
			checks["credential_maintenance"] = "stale"
			if status == StatusReady {
				status = StatusDegraded
			}
		} else {
			checks["credential_maintenance"] = "healthy"
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
