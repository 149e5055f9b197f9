package apikey

import (
	"errors"
	"fmt"
)

// Error is a domain error returned by Manager methods. Handlers map
// these to HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "invalid_request")
	Message string // human-readable message
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrValidation ErrorKind = iota // 400
	ErrInternal                    // 500
)

func NewValidation(code, message string) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrValidation
}
