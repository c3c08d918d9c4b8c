package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{Message: "decode failed"}, ClassInvalidImage},
		{"wrapped provider", fmt.Errorf("extract: %w", &ProviderError{Provider: "gemini", Category: CategoryServerError}), ClassProviderFailed},
		{"parse", NewParseError(`{"a":`, errors.New("unexpected end")), ClassUnreadableOutput},
		{"cancelled", fmt.Errorf("batch: %w", context.Canceled), ClassCancelled},
		{"provider call cancelled", fmt.Errorf("extract: %w", &ProviderError{Provider: "gemini", Category: CategoryCanceled, Cause: context.Canceled}), ClassCancelled},
		{"other", errors.New("boom"), ClassInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorClass(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ProviderError{Category: CategoryRateLimit, Retryable: true}))
	assert.False(t, IsRetryable(&ProviderError{Category: CategoryUnauthorized}))
	assert.False(t, IsRetryable(NewParseError("x", errors.New("bad"))))
}

func TestParseErrorCapsRawText(t *testing.T) {
	raw := strings.Repeat("x", 2000)
	err := NewParseError(raw, errors.New("bad"))

	assert.LessOrEqual(t, len(err.Raw), MaxPreviewLength+len("... (truncated)"))
	assert.True(t, strings.HasSuffix(err.Raw, "... (truncated)"))
	assert.ErrorContains(t, err, "bad")
}

func TestRedactor(t *testing.T) {
	const msg = `POST https://example.com/v1/models?key=abc123&alt=json failed with AIzaSyTestSecretValue`
	r := NewRedactor("AIzaSyTestSecretValue", "", "abc")

	got := r.Redact(msg)

	assert.NotContains(t, got, "abc123")
	assert.NotContains(t, got, "AIzaSyTestSecretValue")
	assert.Contains(t, got, "alt=json")
	assert.Equal(t, "monkey=banana", r.Redact("monkey=banana"))

	// redactors do not share state
	other := NewRedactor("m-secret-key")
	assert.Contains(t, other.Redact(msg), "AIzaSyTestSecretValue")
	assert.NotContains(t, other.Redact(msg), "abc123")

	extended := other.With("AIzaSyTestSecretValue")
	assert.NotContains(t, extended.Redact(msg), "AIzaSyTestSecretValue")
	assert.Contains(t, other.Redact(msg), "AIzaSyTestSecretValue")
	assert.Equal(t, "token [REDACTED]", extended.Redact("token m-secret-key"))

	var none *Redactor
	assert.NotContains(t, none.Redact(msg), "abc123")
	assert.Contains(t, Redact(msg), "AIzaSyTestSecretValue")
}

func TestPreviewKeepsUTF8Boundaries(t *testing.T) {
	s := strings.Repeat("ก", 400) // 3 bytes each
	got := Preview(s)

	assert.True(t, strings.HasSuffix(got, "... (truncated)"))
	body := strings.TrimSuffix(got, "... (truncated)")
	assert.Equal(t, 0, len(body)%3)
}
