package core

import (
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"facilitypm/internal/types"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects field errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid reports whether there are no errors. Warnings do not count.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the PM-specific tags:
//
//	pm_frequency  DAILY, WEEKLY, MONTHLY, QUARTERLY, SEMI_ANNUAL or ANNUAL
//	pm_priority   LOW, MEDIUM, HIGH or EMERGENCY
//	date_only     a YYYY-MM-DD calendar date
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags. Field
// names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("pm_frequency", func(fl validator.FieldLevel) bool {
		return types.Frequency(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("pm_priority", func(fl validator.FieldLevel) bool {
		return types.Priority(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("date_only", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and returns a *types.AppError whose code is that
// of the first failure, with every failure under details.validation_errors.
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(types.ErrorCode(first.Code), first.Message, nil,
		map[string]any{"validation_errors": result.Errors})
}

// ValidateStructWithWarnings validates s and returns every failure.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	var result ValidationResult

	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		v.logger.Error("validator misuse", "error", err)
		result.Errors = append(result.Errors, ValidationError{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidBody),
			Message: "request could not be validated",
		})
		return result
	}

	for _, fe := range errs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return result
}

func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_without", "required_if":
		return string(types.ErrCodeValidationMissingField)
	case "pm_frequency":
		return string(types.ErrCodeValidationInvalidFrequency)
	case "pm_priority":
		return string(types.ErrCodeValidationInvalidPriority)
	case "date_only":
		return string(types.ErrCodeValidationDateRange)
	default:
		return string(types.ErrCodeValidationInvalidBody)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return fe.Field() + " is required"
	case "pm_frequency":
		return fe.Field() + " must be one of DAILY, WEEKLY, MONTHLY, QUARTERLY, SEMI_ANNUAL, ANNUAL"
	case "pm_priority":
		return fe.Field() + " must be one of LOW, MEDIUM, HIGH, EMERGENCY"
	case "date_only":
		return fe.Field() + " must be a date in YYYY-MM-DD format"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
