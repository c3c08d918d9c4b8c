// factory.go - Provider factory building the ordered strategy list

package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bosocmputer/identity_ocr_gemini/configs"
	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ratelimit"
)

// CallOptionsFromConfig builds the call contract from configuration.
func CallOptionsFromConfig(cfg configs.ProviderConfig, limiter *ratelimit.RateLimiter, logger *slog.Logger, redactor *common.Redactor) CallOptions {
	return CallOptions{
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Timeout:         cfg.Timeout,
		Limiter:         limiter,
		Logger:          logger,
		Redactor:        redactor,
	}
}

// CreateProviders returns the primary provider followed by the fallback, when the
// fallback has credentials configured.
func CreateProviders(ctx context.Context, cfg configs.ProviderConfig, opts CallOptions) ([]Provider, error) {
	var order []string
	switch cfg.Primary {
	case ProviderGemini:
		order = []string{ProviderGemini, ProviderMistral}
	case ProviderMistral:
		order = []string{ProviderMistral, ProviderGemini}
	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s (supported: gemini, mistral)", cfg.Primary)
	}

	log := opts.logger()
	providers := make([]Provider, 0, len(order))
	for i, name := range order {
		primary := i == 0
		switch name {
		case ProviderGemini:
			if cfg.GeminiAPIKey == "" {
				if primary {
					return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
				}
				continue
			}
			p, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, opts)
			if err != nil {
				if primary {
					return nil, err
				}
				log.Warn("provider.fallback.unavailable", "provider", name, "error", err)
				continue
			}
			providers = append(providers, p)
		case ProviderMistral:
			if cfg.MistralAPIKey == "" {
				if primary {
					return nil, fmt.Errorf("MISTRAL_API_KEY is required for the mistral provider")
				}
				continue
			}
			providers = append(providers, NewMistralProvider(cfg.MistralAPIKey, cfg.MistralModel, cfg.MistralBaseURL, opts))
		}
		log.Info("provider.configured", "provider", name, "primary", primary)
	}
	return providers, nil
}

// CloseProviders releases any provider holding a client.
func CloseProviders(providers []Provider) {
	for _, p := range providers {
		if c, ok := p.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
