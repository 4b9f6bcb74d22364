package core

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"pitchcraft/internal/types"
)

// handlePattern constrains account handles to 3-30 lowercase letters, digits,
// and underscores, starting with a letter.
var handlePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,29}$`)

// Validator wraps go-playground/validator with domain-specific rules and
// translates validation failures into structured AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// "handle" validates account handle format.
	_ = v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return handlePattern.MatchString(fl.Field().String())
	})

	// "plantier" validates a purchasable plan tier name.
	_ = v.RegisterValidation("plantier", func(fl validator.FieldLevel) bool {
		switch types.PlanTier(fl.Field().String()) {
		case types.PlanPro, types.PlanAgency:
			return true
		}
		return false
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request DTO against its `validate` tags.
// On failure it returns a *types.AppError whose code reflects the first
// failed rule, with a details map of field name to failed rule for all
// violations.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the argument was not a struct. This is a
		// programming error, not client input.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldName(fe)] = fe.Tag()
	}

	first := fieldErrs[0]
	return types.NewAppError(
		codeForRule(first),
		"invalid value for field '"+fieldName(first)+"'",
		err,
	).WithDetails(details)
}

// fieldName returns the lowercased struct field name, matching the JSON
// casing convention of the request DTOs.
func fieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

// codeForRule maps a failed validation rule to the client-facing error code.
func codeForRule(fe validator.FieldError) types.ErrorCode {
	switch fe.Tag() {
	case "required":
		return types.ErrCodeValidationMissingField
	case "email":
		return types.ErrCodeValidationInvalidEmail
	case "handle":
		return types.ErrCodeValidationInvalidHandle
	case "plantier":
		return types.ErrCodeValidationInvalidPlan
	case "max":
		if strings.Contains(strings.ToLower(fe.Field()), "text") {
			return types.ErrCodeValidationBioTooLong
		}
		return types.ErrCodeValidationInvalidJSON
	default:
		return types.ErrCodeValidationInvalidJSON
	}
}
