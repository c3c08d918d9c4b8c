// interface.go - Extraction provider interface for supporting multiple AI providers

package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ratelimit"
)

// Finish reasons recorded on every RawResult.
const (
	FinishComplete  = "complete"
	FinishTruncated = "truncated"
)

// Provider defines the interface that all extraction providers must implement.
// Implementations make exactly one call per Extract; retries belong to the caller.
type Provider interface {
	// Extract sends the image with the extraction contract and returns the raw text.
	// Failures are *common.ProviderError.
	Extract(ctx context.Context, img *processor.PreparedImage) (*RawResult, error)

	// Name returns the name of the provider (e.g., "gemini", "mistral")
	Name() string

	// Model returns the configured model identifier.
	Model() string
}

// RawResult is the provider's unparsed answer.
type RawResult struct {
	Text         string
	FinishReason string
	Provider     string
	Model        string
	Usage        *common.TokenUsage
	Latency      time.Duration
}

// Truncated reports whether the provider hit its output limit.
func (r *RawResult) Truncated() bool {
	return r.FinishReason == FinishTruncated
}

// CallOptions is the provider-call contract shared by every provider.
type CallOptions struct {
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration
	Limiter         *ratelimit.RateLimiter
	Logger          *slog.Logger
	Redactor        *common.Redactor // masks credentials in error text; nil masks key parameters only
}

// DefaultCallOptions are the contract values: temperature 0.1, 2048 output tokens, 30s.
func DefaultCallOptions() CallOptions {
	return CallOptions{
		Temperature:     0.1,
		MaxOutputTokens: 2048,
		Timeout:         30 * time.Second,
	}
}

func (o CallOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
