package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() *processor.PreparedImage {
	return &processor.PreparedImage{Data: []byte{0xff, 0xd8, 0xff}, MimeType: processor.MimeJPEG, FileName: "id.jpg"}
}

func newTestMistral(t *testing.T, handler http.HandlerFunc) *MistralProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts := DefaultCallOptions()
	opts.Timeout = 2 * time.Second
	return NewMistralProvider("sk-mistral-test-key", "pixtral-test", srv.URL, opts)
}

func TestMistralExtractSendsContract(t *testing.T) {
	var got mistralChatRequest
	p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-mistral-test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"pixtral-test","choices":[{"index":0,"message":{"role":"assistant","content":"{\"full_name\":\"Jane Doe\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	res, err := p.Extract(context.Background(), testImage())

	require.NoError(t, err)
	assert.Equal(t, `{"full_name":"Jane Doe"}`, res.Text)
	assert.Equal(t, FinishComplete, res.FinishReason)
	assert.Equal(t, ProviderMistral, res.Provider)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 15, res.Usage.TotalTokens)

	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.InDelta(t, 0.1, got.Temperature, 1e-6)
	assert.EqualValues(t, 2048, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.True(t, strings.HasPrefix(got.Messages[0].Content[1].ImageURL, "data:image/jpeg;base64,"))
}

func TestMistralFinishReasons(t *testing.T) {
	tests := []struct {
		name         string
		finish       string
		wantFinish   string
		wantCategory string
	}{
		{"length is truncated", "length", FinishTruncated, ""},
		{"content filter is safety block", "content_filter", "", common.CategorySafetyBlock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"full_name\":\"Ja"},"finish_reason":"` + tt.finish + `"}]}`))
			})

			res, err := p.Extract(context.Background(), testImage())

			if tt.wantCategory != "" {
				var perr *common.ProviderError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, tt.wantCategory, perr.Category)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFinish, res.FinishReason)
			assert.True(t, res.Truncated())
		})
	}
}

func TestMistralErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCategory  string
		wantRetryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, common.CategoryRateLimit, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, common.CategoryUnauthorized, false},
		{"server error", http.StatusServiceUnavailable, `upstream down`, common.CategoryServerError, true},
		{"empty body", http.StatusOK, ``, common.CategoryEmptyResponse, false},
		{"not json", http.StatusOK, `<html>oops</html>`, common.CategoryMalformed, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, common.CategoryEmptyResponse, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Extract(context.Background(), testImage())

			var perr *common.ProviderError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.wantCategory, perr.Category)
			assert.Equal(t, tt.wantRetryable, perr.Retryable)
			assert.Equal(t, ProviderMistral, perr.Provider)
			assert.NotContains(t, perr.Error(), "sk-mistral-test-key")
		})
	}
}

func TestMistralRedactsConfiguredSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"rejected ` + r.Header.Get("Authorization") + ` for project minio-secret-value"}`))
	}))
	t.Cleanup(srv.Close)
	opts := DefaultCallOptions()
	opts.Redactor = common.NewRedactor("minio-secret-value")
	p := NewMistralProvider("sk-mistral-test-key", "pixtral-test", srv.URL, opts)

	_, err := p.Extract(context.Background(), testImage())

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sk-mistral-test-key")
	assert.NotContains(t, err.Error(), "minio-secret-value")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

func TestMistralTimeout(t *testing.T) {
	p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	p.opts.Timeout = 50 * time.Millisecond

	_, err := p.Extract(context.Background(), testImage())

	var perr *common.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, common.CategoryTimeout, perr.Category)
	assert.True(t, perr.Retryable)
	assert.Equal(t, common.ClassProviderFailed, common.ErrorClass(err))
}
