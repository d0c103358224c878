package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeRoutingFailure    ErrorType = "routing_failure"
	ErrorTypeConversionFailure ErrorType = "conversion_failure"
	ErrorTypeUpstreamFailure   ErrorType = "upstream_failure"
	ErrorTypeCredentialFailure ErrorType = "credential_failure"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeUnauthorized      ErrorType = "unauthorized"
	ErrorTypeInternal          ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is comparisons. Only the type is compared.
var (
	ErrRoutingFailure    = NewDomainError(ErrorTypeRoutingFailure, "no route available", nil)
	ErrConversionFailure = NewDomainError(ErrorTypeConversionFailure, "request conversion failed", nil)
	ErrUpstreamFailure   = NewDomainError(ErrorTypeUpstreamFailure, "upstream vendor error", nil)
	ErrCredentialFailure = NewDomainError(ErrorTypeCredentialFailure, "no usable credential", nil)
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnauthorized      = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// RoutingFailure builds a routing_failure error.
func RoutingFailure(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeRoutingFailure, message, err)
}

// ConversionFailure builds a conversion_failure error. These are client errors and are never retried.
func ConversionFailure(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeConversionFailure, message, err)
}

// UpstreamFailure builds an upstream_failure error.
func UpstreamFailure(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeUpstreamFailure, message, err)
}

// CredentialFailure builds a credential_failure error.
func CredentialFailure(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeCredentialFailure, message, err)
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsRoutingFailure checks if an error is a routing failure
func IsRoutingFailure(err error) bool {
	return hasType(err, ErrorTypeRoutingFailure)
}

// IsConversionFailure checks if an error is a conversion failure
func IsConversionFailure(err error) bool {
	return hasType(err, ErrorTypeConversionFailure)
}

// IsUpstreamFailure checks if an error is an upstream failure
func IsUpstreamFailure(err error) bool {
	return hasType(err, ErrorTypeUpstreamFailure)
}

// IsCredentialFailure checks if an error is a credential failure
func IsCredentialFailure(err error) bool {
	return hasType(err, ErrorTypeCredentialFailure)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
