package core

import (
	"errors"
	"testing"

	"facilitypm/internal/types"
)

type templateInput struct {
	Name      string  `json:"name" validate:"required,max=20"`
	SiteID    string  `json:"site_id" validate:"required"`
	Frequency *string `json:"frequency" validate:"omitempty,pm_frequency"`
	Priority  *string `json:"priority" validate:"omitempty,pm_priority"`
	StartDate string  `json:"start_date" validate:"omitempty,date_only"`
}

func strPtr(s string) *string { return &s }

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(nil)
	in := templateInput{
		Name:      "Boiler service",
		SiteID:    "site-1",
		Frequency: strPtr("SEMI_ANNUAL"),
		Priority:  strPtr("HIGH"),
		StartDate: "2024-02-29",
	}
	if err := v.ValidateStruct(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStruct_FirstFailureSetsCode(t *testing.T) {
	tests := []struct {
		name      string
		in        templateInput
		wantCode  types.ErrorCode
		wantField string
	}{
		{
			name:      "missing name",
			in:        templateInput{SiteID: "s"},
			wantCode:  types.ErrCodeValidationMissingField,
			wantField: "name",
		},
		{
			name:      "bad frequency",
			in:        templateInput{Name: "n", SiteID: "s", Frequency: strPtr("FORTNIGHTLY")},
			wantCode:  types.ErrCodeValidationInvalidFrequency,
			wantField: "frequency",
		},
		{
			name:      "lowercase frequency",
			in:        templateInput{Name: "n", SiteID: "s", Frequency: strPtr("monthly")},
			wantCode:  types.ErrCodeValidationInvalidFrequency,
			wantField: "frequency",
		},
		{
			name:      "bad priority",
			in:        templateInput{Name: "n", SiteID: "s", Priority: strPtr("URGENT")},
			wantCode:  types.ErrCodeValidationInvalidPriority,
			wantField: "priority",
		},
		{
			name:      "bad date",
			in:        templateInput{Name: "n", SiteID: "s", StartDate: "2024-02-30"},
			wantCode:  types.ErrCodeValidationDateRange,
			wantField: "start_date",
		},
		{
			name:      "too long",
			in:        templateInput{Name: "a name that is far too long", SiteID: "s"},
			wantCode:  types.ErrCodeValidationInvalidBody,
			wantField: "name",
		},
	}

	v := NewValidator(discardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.in)
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("err = %v, want *AppError", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", appErr.Code, tt.wantCode)
			}
			fieldErrs, ok := appErr.Details["validation_errors"].([]ValidationError)
			if !ok || len(fieldErrs) == 0 {
				t.Fatalf("details = %v", appErr.Details)
			}
			if fieldErrs[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", fieldErrs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidateStructWithWarnings_CollectsAll(t *testing.T) {
	v := NewValidator(nil)
	result := v.ValidateStructWithWarnings(templateInput{Frequency: strPtr("NEVER")})

	if result.IsValid() {
		t.Fatal("expected invalid result")
	}
	if len(result.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %+v", len(result.Errors), result.Errors)
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	v := NewValidator(nil)
	if !types.HasCode(v.ValidateStruct("not a struct"), types.ErrCodeValidationInvalidBody) {
		t.Error("expected validation_invalid_body for non-struct input")
	}
}
