package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"facilitypm/internal/types"
)

const maxRequestBodySize = 1 << 20

// APIResponse wraps every successful payload.
type APIResponse struct {
	Data any           `json:"data"`
	Meta *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries list metadata.
type ResponseMeta struct {
	Count int `json:"count"`
}

// APIErrorResponse wraps every error payload.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Data writes v inside the envelope.
func Data(w http.ResponseWriter, r *http.Request, status int, v any) {
	JSON(w, r, status, APIResponse{Data: v})
}

// List writes items inside the envelope with their count. A nil slice is
// written as [].
func List[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: items, Meta: &ResponseMeta{Count: len(items)}})
}

// JSON marshals v and writes it with status. A value that cannot be
// marshalled produces a 500 instead.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		types.LoggerFromContext(r.Context(), nil).ErrorContext(r.Context(), "failed to marshal response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(unexpectedError(r, "failed to marshal response"))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. An *types.AppError anywhere in the
// chain decides the status and code; anything else is an opaque 500 whose
// cause is logged but never returned to the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		types.LoggerFromContext(r.Context(), nil).ErrorContext(r.Context(), "unhandled error", "error", err)
		JSON(w, r, http.StatusInternalServerError, unexpectedError(r, "an unexpected error occurred"))
		return
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		types.LoggerFromContext(r.Context(), nil).ErrorContext(r.Context(), "request failed",
			"code", appErr.Code,
			"error", appErr,
		)
	}
	JSON(w, r, status, APIErrorResponse{Error: ErrorDetail{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: types.GetRequestID(r.Context()),
	}})
}

func unexpectedError(r *http.Request, msg string) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   msg,
		RequestID: types.GetRequestID(r.Context()),
	}}
}

// DecodeJSON strictly decodes a single JSON object from the request body into
// dst. Bodies over 1MB, unknown fields, trailing values and empty bodies are
// rejected with validation_invalid_body.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if dec.More() {
		return invalidBody("request body must contain a single JSON object", nil)
	}
	return nil
}

func bodyError(err error) *types.AppError {
	var (
		maxBytesErr *http.MaxBytesError
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return invalidBody("request body must not exceed 1MB", err)
	case errors.As(err, &syntaxErr):
		return invalidBody("malformed JSON in request body", err)
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return invalidBody("unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return invalidBody("request body must not be empty", err)
	default:
		return invalidBody("invalid JSON in request body", err)
	}
}

func invalidBody(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidBody, msg, err)
}
