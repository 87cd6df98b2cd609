package app

import (
	"errors"
	"fmt"
	"net/http"

	"quill/api/internal/store"
)

const (
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeServerError     = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func validationError(message string, fields map[string]string) *DomainError {
	return domainError(http.StatusBadRequest, CodeValidationError, message, fields)
}

func unauthorized(message string) *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// notFoundOr maps store.ErrNotFound to a NotFound with message and wraps any
// other error with op.
func notFoundOr(err error, message, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
