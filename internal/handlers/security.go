package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/incident"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// SecurityService is the operator-facing slice of the security coordinator
type SecurityService interface {
	ReportFinding(ctx context.Context, finding models.Finding) (*models.SecurityIncident, error)
	ResolveIncident(ctx context.Context, id, resolution string) error
	GetIncident(ctx context.Context, id string) (*models.SecurityIncident, error)
	ListIncidents(filter incident.ListFilter) ([]models.SecurityIncident, error)
	GetEmergencyResponse(ctx context.Context, incidentID string) (*models.EmergencyResponse, error)
	GetSecurityDashboard() models.Dashboard
	AuditTrail(n int) []models.AuditLogEntry
}

// SecurityHandler serves incident, dashboard and audit endpoints to
// security operators
type SecurityHandler struct {
	svc    SecurityService
	logger *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(svc SecurityService, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{svc: svc, logger: logger}
}

// ListIncidents handles GET /security/incidents?status=&severity=&type=
func (h *SecurityHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := incident.ListFilter{
		Status: models.IncidentStatus(q.Get("status")),
		Type:   models.IncidentType(q.Get("type")),
	}
	if raw := q.Get("severity"); raw != "" {
		severity, err := models.ParseSeverity(raw)
		if err != nil {
			writeServiceError(w, h.logger, "incident_list", err)
			return
		}
		filter.Severity = severity
	}
	if filter.Status != "" && filter.Status != models.IncidentStatusOpen && filter.Status != models.IncidentStatusResolved {
		pkghttp.WriteBadRequest(w, "status must be open or resolved")
		return
	}

	incidents, err := h.svc.ListIncidents(filter)
	if err != nil {
		writeServiceError(w, h.logger, "incident_list", err)
		return
	}
	if incidents == nil {
		incidents = []models.SecurityIncident{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, incidents)
}

// GetIncident handles GET /security/incidents/{id}
func (h *SecurityHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, "incident_get", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, inc)
}

// ReportFinding handles POST /security/incidents
func (h *SecurityHandler) ReportFinding(w http.ResponseWriter, r *http.Request) {
	var req ReportFindingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	details := req.Details
	if details == nil {
		details = map[string]any{}
	}
	if user := auth.GetUserFromContext(r); user != nil {
		details["reported_by"] = user.UserID
	}

	inc, err := h.svc.ReportFinding(r.Context(), models.Finding{
		Type:           models.IncidentType(req.Type),
		Severity:       models.Severity(req.Severity),
		SourceDetector: "manual",
		Source:         req.Source,
		Details:        details,
	})
	if err != nil {
		writeServiceError(w, h.logger, "incident_report", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, inc)
}

// ResolveIncident handles POST /security/incidents/{id}/resolve
func (h *SecurityHandler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req ResolveIncidentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.ResolveIncident(r.Context(), id, req.Resolution); err != nil {
		writeServiceError(w, h.logger, "incident_resolve", err)
		return
	}

	inc, err := h.svc.GetIncident(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "incident_get", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, inc)
}

// GetEmergencyResponse handles GET /security/incidents/{id}/emergency
func (h *SecurityHandler) GetEmergencyResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetEmergencyResponse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, "emergency_get", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Dashboard handles GET /security/dashboard
func (h *SecurityHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.svc.GetSecurityDashboard())
}

// AuditTrail handles GET /security/audit?limit=
func (h *SecurityHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 && l <= maxAuditLimit {
			limit = l
		}
	}

	entries := h.svc.AuditTrail(limit)
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, entries)
}
