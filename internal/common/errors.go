// errors.go - Error taxonomy shared by the extraction pipeline

package common

import (
	"context"
	"errors"
	"fmt"
)

// Error classes exposed to callers so they can pick the right remedy.
const (
	ClassInvalidImage     = "invalid_image"     // could not read the image
	ClassProviderFailed   = "provider_failed"   // provider failed or rejected the request
	ClassUnreadableOutput = "unreadable_output" // provider output could not be interpreted
	ClassCancelled        = "cancelled"
	ClassInternal         = "internal"
)

// Provider error categories
const (
	CategoryBadRequest      = "bad_request"
	CategoryUnauthorized    = "unauthorized"
	CategoryForbidden       = "forbidden"
	CategoryNotFound        = "not_found"
	CategoryPayloadTooLarge = "payload_too_large"
	CategoryRateLimit       = "rate_limit"
	CategoryServerError     = "server_error"
	CategoryTimeout         = "timeout"
	CategoryCanceled        = "canceled"
	CategoryQuotaExceeded   = "quota_exceeded"
	CategoryNetworkError    = "network_error"
	CategorySafetyBlock     = "safety_block"
	CategoryEmptyResponse   = "empty_response"
	CategoryMalformed       = "malformed_envelope"
	CategoryUnknown         = "unknown"
)

// ErrMissingFullName is returned when a parsed record has no usable full_name.
var ErrMissingFullName = errors.New("full_name is missing")

// ValidationError means the source image could not be decoded.
type ValidationError struct {
	FileName string
	Message  string
	Cause    error
}

func (e *ValidationError) Error() string {
	msg := "invalid image"
	if e.FileName != "" {
		msg += " " + e.FileName
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ProviderError covers transport, HTTP status, safety blocks, empty or malformed envelopes
// and timeouts. Message carries the provider's diagnostic text and never credentials.
type ProviderError struct {
	Provider   string
	Category   string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s [%s] %s (status: %d, retryable: %v)", e.Provider, e.Category, e.Message, e.StatusCode, e.Retryable)
	}
	return fmt.Sprintf("provider %s [%s] %s (retryable: %v)", e.Provider, e.Category, e.Message, e.Retryable)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ParseError means the provider's text could not be turned into a valid object.
// Raw is capped to MaxPreviewLength.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse provider output: %v (raw: %q)", e.Cause, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// NewParseError builds a ParseError keeping a capped copy of raw.
func NewParseError(raw string, cause error) *ParseError {
	return &ParseError{Raw: Preview(raw), Cause: cause}
}

// NormalizationWarning is attached to successful results that look incomplete.
type NormalizationWarning struct {
	NonNullFields int
	Message       string
}

func (w NormalizationWarning) String() string {
	return fmt.Sprintf("%s (%d non-null fields)", w.Message, w.NonNullFields)
}

// ErrorClass maps any pipeline error to one of the Class* constants.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	var providerErr *ProviderError
	var parseErr *ParseError
	switch {
	case errors.As(err, &validationErr):
		return ClassInvalidImage
	case errors.As(err, &providerErr) && providerErr.Category == CategoryCanceled:
		return ClassCancelled
	case errors.As(err, &providerErr):
		return ClassProviderFailed
	case errors.As(err, &parseErr):
		return ClassUnreadableOutput
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	default:
		return ClassInternal
	}
}

// IsRetryable reports whether err is a provider failure worth another attempt.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.Retryable
}
