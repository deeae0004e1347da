package ir

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// specValidate is shared by every ModuleSpec validation.
var specValidate *validator.Validate

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	specValidate = validator.New()
	_ = specValidate.RegisterValidation("identifier", validateIdentifier)
}

// validateIdentifier accepts names usable as Lua globals and table keys.
func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

// Validate checks the structural rules of a spec: a name, a positive
// version, a known runtime, uniquely named typed fields and at least one
// uniquely named entry point. Runtime-specific checks live in the module
// package.
func (s ModuleSpec) Validate() error {
	err := specValidate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid module spec: %s", strings.Join(msgs, "; "))
}
