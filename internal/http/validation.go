package http

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Kind names key handler registries on workers, so they are constrained to
// identifier-ish strings rather than arbitrary JSON.
var kindPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

func validKind(fl validator.FieldLevel) bool {
	return kindPattern.MatchString(fl.Field().String())
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// Registration only fails for an empty tag name.
		_ = v.RegisterValidation("kind", validKind)
	}
}
