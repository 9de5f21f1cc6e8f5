package mfa

import (
	"fmt"
	"regexp"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/go-playground/validator/v10"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// A user identifier is either a UUID or a short opaque handle
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	return v
}

func validateUserID(userID string) error {
	if validate.Var(userID, "required,uuid") == nil {
		return nil
	}
	if validate.Var(userID, "required,identifier") == nil {
		return nil
	}
	return fmt.Errorf("%w: %q", models.ErrInvalidIdentifier, userID)
}

func validateContact(kind models.MFAKind, contact string) error {
	var tag string
	switch kind {
	case models.MFAKindSMS:
		tag = "required,e164"
	case models.MFAKindEmail:
		tag = "required,email,max=254"
	default:
		return nil
	}
	if err := validate.Var(contact, tag); err != nil {
		return fmt.Errorf("%w for %s", models.ErrInvalidContact, kind)
	}
	return nil
}
