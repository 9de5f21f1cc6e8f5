package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Validation errors are always surfaced to the caller and never retried
	ErrValidation        = errors.New("validation failed")
	ErrInvalidIdentifier = fmt.Errorf("%w: malformed user identifier", ErrValidation)
	ErrInvalidContact    = fmt.Errorf("%w: malformed contact info", ErrValidation)

	// MFA capability errors
	ErrUnsupportedMethod      = errors.New("unsupported MFA method")
	ErrUnsupportedEnvironment = errors.New("platform lacks required authenticator capability")

	// Lifecycle errors
	ErrShuttingDown             = errors.New("security coordinator is shutting down")
	ErrIncidentResolved         = errors.New("incident already resolved")
	ErrBelowEscalationThreshold = errors.New("incident severity below escalation threshold")
)
