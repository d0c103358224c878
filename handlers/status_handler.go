package handlers

import (
	"net/http"
	"time"

	"github.com/ribelo/prism-sub000/services/audit"
	"github.com/ribelo/prism-sub000/services/credentials"
	"github.com/ribelo/prism-sub000/utils"
)

// VendorLister lists the vendors with a registered adapter
type VendorLister interface {
	ListProviders() []string
}

// CredentialReporter describes stored credentials without their secrets
type CredentialReporter interface {
	Snapshot() []credentials.Status
	LastMaintenance() time.Time
}

// AuditReporter reports dispatch-log pipeline counters
type AuditReporter interface {
	GetStats() audit.Stats
}

// StatusInfo is static process information
type StatusInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// StatusResponse is the body of GET /api/v1/status
type StatusResponse struct {
	Version         string               `json:"version"`
	Environment     string               `json:"environment"`
	Uptime          string               `json:"uptime"`
	Vendors         []string             `json:"vendors"`
	Credentials     []credentials.Status `json:"credentials"`
	LastMaintenance *time.Time           `json:"last_maintenance,omitempty"`
	Audit           *audit.Stats         `json:"audit,omitempty"`
}

// StatusHandler serves gateway status information
type StatusHandler struct {
	info    StatusInfo
	vendors VendorLister
	creds   CredentialReporter
	audit   AuditReporter
}

// NewStatusHandler creates a new StatusHandler. audit may be nil.
func NewStatusHandler(info StatusInfo, vendors VendorLister, creds CredentialReporter, audit AuditReporter) *StatusHandler {
	return &StatusHandler{info: info, vendors: vendors, creds: creds, audit: audit}
}

// HandleStatus handles GET /api/v1/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:     h.info.Version,
		Environment: h.info.Environment,
		Uptime:      time.Since(h.info.StartedAt).Round(time.Second).String(),
		Vendors:     h.vendors.ListProviders(),
		Credentials: h.creds.Snapshot(),
	}
	if last := h.creds.LastMaintenance(); !last.IsZero() {
		resp.LastMaintenance = &last
	}
	if h.audit != nil {
		stats := h.audit.GetStats()
		resp.Audit = &stats
	}
	_ = utils.WriteOK(w, resp)
}
