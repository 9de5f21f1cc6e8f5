package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers)
var validate = validator.New()

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// ValidateRequest validates a request struct using go-playground/validator.
// Only the first failing field is reported.
func ValidateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("%w: %s: %s", models.ErrValidation, ve[0].Field(), formatValidationError(ve[0]))
		}
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}

// decodeAndValidate reads a JSON body into req and validates it. It writes
// the 400 response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_without":
		return fmt.Sprintf("required when %s is absent", fe.Param())
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// writeServiceError maps a component error onto an HTTP response. Unknown
// errors are logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "invalid or expired token")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrIncidentResolved):
		pkghttp.WriteError(w, http.StatusConflict, "incident_resolved", "incident already resolved")
	case errors.Is(err, models.ErrUnsupportedMethod):
		pkghttp.WriteUnprocessable(w, "unsupported_method", err.Error())
	case errors.Is(err, models.ErrUnsupportedEnvironment):
		pkghttp.WriteUnprocessable(w, "unsupported_environment", "authenticator capability unavailable")
	case errors.Is(err, models.ErrShuttingDown):
		pkghttp.WriteServiceUnavailable(w, "service is shutting down")
	default:
		logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
