package errors

import (
	stderrors "errors"
	"fmt"
)

// Category groups error codes.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryTransport Category = "transport"
	CategoryRelay     Category = "relay"
	CategoryCLI       Category = "cli"
)

// Error is a coded error with operator guidance.
type Error struct {
	// Code is the registered identifier (e.g. "W101").
	Code string

	Category Category

	// Message is a short description.
	Message string

	// Detail explains the error in a sentence or two.
	Detail string

	// Field names the configuration field or flag at fault, if any.
	Field string

	// Suggestion tells the operator how to fix it.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithField records the field or flag at fault.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithSuggestion adds a fix suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail replaces the registered explanation.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// Wrap records the underlying error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{Code: code, Message: "Unknown error"}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates an uncoded Error with a formatted message.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError returns err as an *Error, wrapping it under code when it is
// not one already.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// Join combines several errors. Nil entries are dropped; nil is returned
// when nothing is left.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
