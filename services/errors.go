package services

import (
	"errors"
	"fmt"
)

// ErrorType classifies a service failure. The HTTP layer picks the status
// code from it.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError is the error every service method returns. Message is safe to
// show to API clients; Err is the underlying cause and is only logged.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError of the same type, so the
// sentinels below match any error of their category.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Type == t.Type
}

// WithDetail attaches a client-visible detail
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{Type: errType, Message: message, Err: err}
}

// WrapInternal hides err behind a generic internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

func invalidField(field, message string, err error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, err).WithDetail(field, message)
}

var (
	ErrBookNotFound  = NewDomainError(ErrorTypeNotFound, "book not found", nil)
	ErrDuplicateBook = NewDomainError(ErrorTypeConflict, "book with this title and author already exists", nil)
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnauthorized  = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

func asDomainError(err error) (*DomainError, bool) {
	var domainErr *DomainError
	ok := errors.As(err, &domainErr)
	return domainErr, ok
}

// TypeOf returns the category of err, or "" for errors that did not come
// from a service.
func TypeOf(err error) ErrorType {
	if d, ok := asDomainError(err); ok {
		return d.Type
	}
	return ""
}

// MessageOf returns the client-facing message of err
func MessageOf(err error) string {
	if d, ok := asDomainError(err); ok {
		return d.Message
	}
	return ""
}

// DetailsOf returns the client-facing details of err, nil when there are none
func DetailsOf(err error) map[string]interface{} {
	if d, ok := asDomainError(err); ok && len(d.Details) > 0 {
		return d.Details
	}
	return nil
}
