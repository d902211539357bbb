package events

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error kinds. Every error the service returns either matches one of
// these with errors.Is or is a store failure the caller may retry.
var (
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrEventFull         = errors.New("event full")
)

// Error is a classified failure with a message fit for the caller.
type Error struct {
	Kind   error
	Msg    string
	Fields validator.ValidationErrors
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() []error {
	if e.Fields != nil {
		return []error{e.Kind, e.Fields}
	}
	return []error{e.Kind}
}

func invalid(msg string) error   { return &Error{Kind: ErrValidation, Msg: msg} }
func forbidden(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

var (
	errEventNotFound     = &Error{Kind: ErrNotFound, Msg: "event not found"}
	errAlreadyRegistered = &Error{Kind: ErrAlreadyRegistered, Msg: "already registered for this event"}
	errEventFull         = &Error{Kind: ErrEventFull, Msg: "event is full"}

	errRegistrationClosed = &Error{Kind: ErrValidation, Msg: "registration is closed: the event date has passed"}
)

// fieldErrors converts a validator failure into a validation Error.
func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid(err.Error())
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &Error{
		Kind:   ErrValidation,
		Msg:    "missing required fields: " + strings.Join(missing, ", "),
		Fields: verrs,
	}
}
