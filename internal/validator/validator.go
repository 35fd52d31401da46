package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// New creates a validator instance with custom validations registered.
// Handlers and tests share this so validation behaves identically everywhere.
func New() *validator.Validate {
	v := validator.New()

	// "notblank" rejects whitespace-only strings. User and event identifiers
	// must carry meaningful content, not just pass "required".
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, let other validators handle it
		}
		return strings.TrimSpace(str) != ""
	})

	return v
}
