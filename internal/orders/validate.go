package orders

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
)

func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// keys are compared byte for byte; a blank key is missing, not trimmed
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// validateInput turns the first validation failure into INVALID_REQUEST.
func validateInput(v *validatorv10.Validate, in PlaceOrderInput) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return errs.Wrap(errs.InvalidRequest, "invalid request", err)
	}
	fe := ve[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return errs.New(errs.InvalidRequest, describe(field, fe))
}

func describe(field string, fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
