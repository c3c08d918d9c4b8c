// retry.go - Retry logic and backoff for provider calls

package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/ai"
	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
)

// RetryConfig defines retry behavior for provider calls
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig allows one retry of a retryable failure.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:      1,
	InitialDelay:    1 * time.Second,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

// callWithRetry executes one provider with retry on retryable ProviderErrors.
func callWithRetry(ctx context.Context, p ai.Provider, img *processor.PreparedImage, cfg RetryConfig, rc *common.RequestContext) (*ai.RawResult, error) {
	for attempt := 0; ; attempt++ {
		rc.StartStep("provider_call:" + p.Name())
		raw, err := p.Extract(ctx, img)
		if err == nil {
			rc.EndStep("success", raw.Usage, nil)
			if attempt > 0 {
				rc.Logger().Info("provider.retry.succeeded", "provider", p.Name(), "attempt", attempt+1)
			}
			return raw, nil
		}
		rc.EndStep("failed", nil, err)

		if !common.IsRetryable(err) || attempt >= cfg.MaxRetries {
			return nil, err
		}

		delay := calculateBackoff(attempt+1, cfg)
		var perr *common.ProviderError
		if errors.As(err, &perr) && perr.Category == common.CategoryRateLimit {
			delay *= 2
		}
		rc.Logger().Warn("provider.retry.wait", "provider", p.Name(), "attempt", attempt+1, "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("context canceled during retry wait: %w", errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}
}

// calculateBackoff computes exponential backoff delay
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.BackoffMultiple
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
