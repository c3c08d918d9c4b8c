// gemini.go - Gemini vision provider

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ProviderGemini is the provider name used in provenance and errors.
const ProviderGemini = "gemini"

// generateFunc is the single SDK call a GeminiProvider makes.
type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// GeminiProvider implements Provider with the genai SDK.
type GeminiProvider struct {
	client    *genai.Client
	modelName string
	opts      CallOptions
	generate  generateFunc
}

// NewGeminiProvider creates the client and configures the model for JSON output.
func NewGeminiProvider(ctx context.Context, apiKey, modelName string, opts CallOptions) (*GeminiProvider, error) {
	opts.Redactor = opts.Redactor.With(apiKey)

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(opts.Temperature)
	model.SetMaxOutputTokens(opts.MaxOutputTokens)
	model.ResponseMIMEType = "application/json"
	model.SafetySettings = permissiveSafetySettings()

	return &GeminiProvider{
		client:    client,
		modelName: modelName,
		opts:      opts,
		generate:  model.GenerateContent,
	}, nil
}

// permissiveSafetySettings only blocks high-probability harm. Identity photos regularly
// trip the default thresholds (faces, official seals).
func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockOnlyHigh})
	}
	return settings
}

// Name returns "gemini"
func (g *GeminiProvider) Name() string { return ProviderGemini }

// Model returns the configured model name
func (g *GeminiProvider) Model() string { return g.modelName }

// Close releases the SDK client.
func (g *GeminiProvider) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Extract makes one generate call with the extraction prompt and the image.
func (g *GeminiProvider) Extract(ctx context.Context, img *processor.PreparedImage) (*RawResult, error) {
	log := g.opts.logger().With("provider", ProviderGemini, "model", g.modelName)

	if err := g.opts.Limiter.Wait(ctx); err != nil {
		return nil, categorizeError(ProviderGemini, err, g.opts.Redactor)
	}

	callCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	log.Debug("provider.call.start", "bytes", len(img.Data), "mime_type", img.MimeType)
	start := time.Now()
	resp, err := g.generate(callCtx,
		genai.Text(GetIdentityExtractionPrompt()),
		genai.Blob{MIMEType: img.MimeType, Data: img.Data},
	)
	latency := time.Since(start)
	if err != nil {
		perr := geminiError(err, g.opts.Redactor)
		log.Warn("provider.call.error", "category", perr.Category, "status", perr.StatusCode, "retryable", perr.Retryable, "error", perr.Message)
		return nil, perr
	}

	result, perr := interpretGeminiResponse(resp)
	if perr != nil {
		log.Warn("provider.call.error", "category", perr.Category, "error", perr.Message)
		return nil, perr
	}
	result.Model = g.modelName
	result.Latency = latency
	if result.Truncated() {
		log.Warn("provider.call.truncated", "chars", len(result.Text))
	}
	log.Debug("provider.call.done", "latency_ms", latency.Milliseconds(), "finish_reason", result.FinishReason)
	return result, nil
}

// geminiError maps SDK errors, treating blocked content as a safety block.
func geminiError(err error, redactor *common.Redactor) *common.ProviderError {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		perr := newProviderError(ProviderGemini, common.CategorySafetyBlock, "response blocked by safety filters: "+redactor.Redact(err.Error()))
		perr.Cause = err
		return perr
	}
	return categorizeError(ProviderGemini, err, redactor)
}

// interpretGeminiResponse extracts the text and finish reason from a response.
func interpretGeminiResponse(resp *genai.GenerateContentResponse) (*RawResult, *common.ProviderError) {
	if resp == nil {
		return nil, newProviderError(ProviderGemini, common.CategoryEmptyResponse, "no response from Gemini API")
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return nil, newProviderError(ProviderGemini, common.CategorySafetyBlock,
				fmt.Sprintf("prompt blocked (%v)", resp.PromptFeedback.BlockReason))
		}
		return nil, newProviderError(ProviderGemini, common.CategoryEmptyResponse, "no candidates from Gemini API")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, newProviderError(ProviderGemini, common.CategorySafetyBlock, "candidate blocked by safety filters")
	}

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, newProviderError(ProviderGemini, common.CategoryEmptyResponse,
			fmt.Sprintf("empty text from Gemini API (FinishReason: %v)", candidate.FinishReason))
	}

	result := &RawResult{
		Text:         text.String(),
		FinishReason: FinishComplete,
		Provider:     ProviderGemini,
	}
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		result.FinishReason = FinishTruncated
	}
	if resp.UsageMetadata != nil {
		result.Usage = &common.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}
