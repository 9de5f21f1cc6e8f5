package routes

import (
	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	MFA      *handlers.MFAHandler
	Sessions *handlers.SessionHandler
	Security *handlers.SecurityHandler
}

// RegisterRoutes registers all application routes. Every route requires a
// bearer token from the identity provider.
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	verifier auth.IdentityVerifier,
	mfaVerifyLimit middleware.RateLimitConfig,
) {
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(verifier))
		r.Use(middleware.RecordUser)

		// MFA enrollment and verification for the calling user
		r.Get("/mfa/status", h.MFA.Status)
		r.Route("/mfa/{kind}", func(r chi.Router) {
			r.Delete("/", h.MFA.Remove)
			r.Post("/setup", h.MFA.Setup)
			r.Post("/backup-codes", h.MFA.RegenerateBackupCodes)
			r.Post("/challenge", h.MFA.Challenge)

			// Code guessing endpoints
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(mfaVerifyLimit))
				r.Post("/setup/verify", h.MFA.VerifySetup)
				r.Post("/verify", h.MFA.Verify)
			})
		})

		// Sessions and devices
		r.Post("/devices/identify", h.Sessions.IdentifyDevice)
		r.Post("/sessions", h.Sessions.Create)
		r.Get("/sessions/{id}", h.Sessions.Get)
		r.Get("/sessions/{id}/validate", h.Sessions.Validate)
		r.Delete("/sessions/{id}", h.Sessions.Terminate)

		// Security operators only
		r.Route("/security", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleSecurityOperator))
			r.Get("/dashboard", h.Security.Dashboard)
			r.Get("/audit", h.Security.AuditTrail)
			r.Get("/incidents", h.Security.ListIncidents)
			r.Post("/incidents", h.Security.ReportFinding)
			r.Get("/incidents/{id}", h.Security.GetIncident)
			r.Post("/incidents/{id}/resolve", h.Security.ResolveIncident)
			r.Get("/incidents/{id}/emergency", h.Security.GetEmergencyResponse)
		})
	})
}
