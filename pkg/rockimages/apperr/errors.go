// Package apperr defines the error kinds shared by the catalog services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("authentication required")
	ErrConflict        = errors.New("conflict")
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// DependencyError reports a failure of an external collaborator
// such as artifact storage.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// ConcealedError hides the existence of a resource from a caller who may not
// view it. It matches ErrNotFound but keeps the real cause for logs.
type ConcealedError struct {
	Cause error
}

func (e *ConcealedError) Error() string {
	return ErrNotFound.Error()
}

func (e *ConcealedError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *ConcealedError) Unwrap() error {
	return e.Cause
}

// Conceal wraps err so callers see a plain not-found.
func Conceal(err error) error {
	return &ConcealedError{Cause: err}
}

// FromDB maps well-known gorm errors onto the application kinds.
func FromDB(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case IsDuplicateKey(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// IsDuplicateKey reports unique constraint violations across drivers.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// HTTPStatus returns the status code for err.
func HTTPStatus(err error) int {
	var validation *ValidationError
	var dependency *DependencyError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &dependency):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
