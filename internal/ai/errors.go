// errors.go - Categorising provider failures

package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"google.golang.org/api/googleapi"
)

// statusCategory maps an HTTP status to a category, a user-facing message and whether a
// retry could help.
func statusCategory(code int) (category, message string, retryable bool) {
	switch code {
	case http.StatusBadRequest:
		return common.CategoryBadRequest, "Invalid request format or parameters", false
	case http.StatusUnauthorized:
		return common.CategoryUnauthorized, "Invalid API key or authentication failed", false
	case http.StatusForbidden:
		return common.CategoryForbidden, "API key lacks required permissions", false
	case http.StatusNotFound:
		return common.CategoryNotFound, "Model not found or invalid endpoint", false
	case http.StatusRequestEntityTooLarge:
		return common.CategoryPayloadTooLarge, "Request size exceeds limit (reduce image size)", false
	case http.StatusTooManyRequests:
		return common.CategoryRateLimit, "Rate limit exceeded - too many requests", true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return common.CategoryServerError, fmt.Sprintf("Provider server error (%d)", code), true
	default:
		return common.CategoryUnknown, fmt.Sprintf("Unexpected status %d", code), code >= 500
	}
}

// categorizeError turns a transport or SDK error into a ProviderError. Text taken from err
// passes through redactor.
func categorizeError(provider string, err error, redactor *common.Redactor) *common.ProviderError {
	if err == nil {
		return nil
	}
	var existing *common.ProviderError
	if errors.As(err, &existing) {
		return existing
	}

	perr := &common.ProviderError{
		Provider: provider,
		Category: common.CategoryUnknown,
		Message:  redactor.Redact(err.Error()),
		Cause:    err,
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.Code
		perr.Category, perr.Message, perr.Retryable = statusCategory(apiErr.Code)
		if apiErr.Message != "" {
			perr.Message += ": " + redactor.Redact(apiErr.Message)
		}
		return perr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		perr.Category = common.CategoryTimeout
		perr.Message = "Request timeout - processing took too long"
		perr.Retryable = true
		return perr
	case errors.Is(err, context.Canceled):
		perr.Category = common.CategoryCanceled
		perr.Message = "Request was canceled"
		return perr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		perr.Category = common.CategoryTimeout
		perr.Message = "Request timeout"
		perr.Retryable = true
		return perr
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "quota"):
		perr.Category = common.CategoryQuotaExceeded
		perr.Message = "API quota exceeded - daily or monthly limit reached"
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		perr.Category = common.CategoryTimeout
		perr.Retryable = true
	case strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network"):
		perr.Category = common.CategoryNetworkError
		perr.Message = "Network connection error"
		perr.Retryable = true
	}
	return perr
}

func newProviderError(provider, category, message string) *common.ProviderError {
	return &common.ProviderError{Provider: provider, Category: category, Message: common.Redact(message)}
}
