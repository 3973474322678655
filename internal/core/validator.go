package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"crowdpark/internal/types"
)

// Validator wraps go-playground/validator and reports failures as
// AppErrors keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that names fields by their json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct checks s against its validate tags. The first failing
// field decides the code: validation_missing_required_field for required
// rules, validation_out_of_range otherwise.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		v.logger.Error("struct validation misconfigured", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}

	first := verrs[0]
	code := types.ErrCodeValidationOutOfRange
	msg := fmt.Sprintf("%s failed %q validation", first.Field(), first.Tag())
	if strings.HasPrefix(first.Tag(), "required") {
		code = types.ErrCodeValidationMissingField
		msg = first.Field() + " is required"
	}
	return types.NewAppErrorWithDetails(code, msg, err, map[string]any{
		"field":  first.Field(),
		"rule":   first.Tag(),
		"fields": fields,
	})
}
