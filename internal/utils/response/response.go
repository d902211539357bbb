// Package response provides helpers for writing consistent JSON HTTP responses.
//
// Every response, success or failure, uses the same envelope so API
// consumers always know what to expect:
//
//	{ "success": true,  "message": "...", "data": { ... } }
//	{ "success": false, "message": "event is full", "code": "event_full" }
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response is the standard envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// Code distinguishes failures that share a status, e.g. a duplicate
	// registration from a full event.
	Code string `json:"code,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Failure codes.
const (
	CodeValidation        = "validation_error"
	CodeUnauthenticated   = "unauthenticated"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeAlreadyRegistered = "already_registered"
	CodeEventFull         = "event_full"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// ─────────────────────────────────────────────────────────────────────────────
// WriteJSON writes a JSON-encoded response with the given HTTP status code.
//
// IMPORTANT ORDER: Header() → WriteHeader() → body writes.
// Once WriteHeader is called (or the first Write), headers are locked.
// ─────────────────────────────────────────────────────────────────────────────
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// OK wraps a payload in a success envelope.
func OK(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}

// Fail builds a failure envelope.
func Fail(code, message string) Response {
	return Response{Success: false, Code: code, Message: message}
}

// GeneralError wraps any Go error into a failure envelope.
func GeneralError(err error) Response {
	return Fail(CodeInternal, err.Error())
}

// ─────────────────────────────────────────────────────────────────────────────
// ValidationError converts a slice of validator.FieldError values into
// a single human-readable Response.
//
// Example output:
//
//	{ "success": false, "code": "validation_error",
//	  "message": "field title is required, field year is required" }
//
// ─────────────────────────────────────────────────────────────────────────────
func ValidationError(errs validator.ValidationErrors) Response {
	var errMessages []string

	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s is required", e.Field()))
		case "gt":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s must be greater than %s", e.Field(), e.Param()))
		default:
			errMessages = append(errMessages,
				fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}

	return Fail(CodeValidation, strings.Join(errMessages, ", "))
}
