// mistral.go - Mistral chat-completions vision provider

package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
)

// ProviderMistral is the provider name used in provenance and errors.
const ProviderMistral = "mistral"

// DefaultMistralBaseURL is the public API root.
const DefaultMistralBaseURL = "https://api.mistral.ai/v1"

// MistralProvider implements Provider for Mistral AI
type MistralProvider struct {
	apiKey    string
	modelName string
	baseURL   string
	opts      CallOptions
	client    *http.Client
}

// NewMistralProvider creates a new Mistral AI provider
func NewMistralProvider(apiKey, modelName, baseURL string, opts CallOptions) *MistralProvider {
	opts.Redactor = opts.Redactor.With(apiKey)
	if baseURL == "" {
		baseURL = DefaultMistralBaseURL
	}
	return &MistralProvider{
		apiKey:    apiKey,
		modelName: modelName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		opts:      opts,
		client:    &http.Client{},
	}
}

// Name returns "mistral"
func (m *MistralProvider) Name() string { return ProviderMistral }

// Model returns the configured model name
func (m *MistralProvider) Model() string { return m.modelName }

// Mistral chat-completions request/response structures
type mistralContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // base64 data URL
}

type mistralMessage struct {
	Role    string               `json:"role"`
	Content []mistralContentPart `json:"content"`
}

type mistralResponseFormat struct {
	Type string `json:"type"`
}

type mistralChatRequest struct {
	Model          string                `json:"model"`
	Messages       []mistralMessage      `json:"messages"`
	Temperature    float32               `json:"temperature"`
	MaxTokens      int32                 `json:"max_tokens"`
	ResponseFormat mistralResponseFormat `json:"response_format"`
}

type mistralChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type mistralUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type mistralChatResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []mistralChoice `json:"choices"`
	Usage   *mistralUsage   `json:"usage"`
}

type mistralErrorResponse struct {
	Message string `json:"message"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract posts the prompt and the image as a data URL and reads the first choice.
func (m *MistralProvider) Extract(ctx context.Context, img *processor.PreparedImage) (*RawResult, error) {
	log := m.opts.logger().With("provider", ProviderMistral, "model", m.modelName)

	if err := m.opts.Limiter.Wait(ctx); err != nil {
		return nil, categorizeError(ProviderMistral, err, m.opts.Redactor)
	}

	callCtx := ctx
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	imageURL := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
	request := mistralChatRequest{
		Model: m.modelName,
		Messages: []mistralMessage{{
			Role: "user",
			Content: []mistralContentPart{
				{Type: "text", Text: GetIdentityExtractionPrompt()},
				{Type: "image_url", ImageURL: imageURL},
			},
		}},
		Temperature:    m.opts.Temperature,
		MaxTokens:      m.opts.MaxOutputTokens,
		ResponseFormat: mistralResponseFormat{Type: "json_object"},
	}

	log.Debug("provider.call.start", "bytes", len(img.Data), "mime_type", img.MimeType)
	start := time.Now()
	response, err := m.callChatAPI(callCtx, request)
	latency := time.Since(start)
	if err != nil {
		perr := categorizeError(ProviderMistral, err, m.opts.Redactor)
		log.Warn("provider.call.error", "category", perr.Category, "status", perr.StatusCode, "retryable", perr.Retryable, "error", perr.Message)
		return nil, perr
	}

	if len(response.Choices) == 0 {
		return nil, newProviderError(ProviderMistral, common.CategoryEmptyResponse, "no choices returned from Mistral API")
	}
	choice := response.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, newProviderError(ProviderMistral, common.CategorySafetyBlock, "response blocked by content filter")
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, newProviderError(ProviderMistral, common.CategoryEmptyResponse,
			fmt.Sprintf("empty content from Mistral API (finish_reason: %s)", choice.FinishReason))
	}

	result := &RawResult{
		Text:         choice.Message.Content,
		FinishReason: FinishComplete,
		Provider:     ProviderMistral,
		Model:        m.modelName,
		Latency:      latency,
	}
	if choice.FinishReason == "length" {
		result.FinishReason = FinishTruncated
		log.Warn("provider.call.truncated", "chars", len(result.Text))
	}
	if response.Usage != nil {
		result.Usage = &common.TokenUsage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
			TotalTokens:  response.Usage.TotalTokens,
		}
	}
	log.Debug("provider.call.done", "latency_ms", latency.Milliseconds(), "finish_reason", result.FinishReason)
	return result, nil
}

// callChatAPI makes the HTTP request and decodes the envelope
func (m *MistralProvider) callChatAPI(ctx context.Context, request mistralChatRequest) (*mistralChatResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		perr := &common.ProviderError{Provider: ProviderMistral, StatusCode: resp.StatusCode}
		perr.Category, perr.Message, perr.Retryable = statusCategory(resp.StatusCode)
		var errorResp mistralErrorResponse
		if json.Unmarshal(body, &errorResp) == nil {
			if msg := firstNonEmpty(errorResp.Message, errorResp.Error.Message); msg != "" {
				perr.Message += ": " + m.opts.Redactor.Redact(msg)
			}
		} else if len(body) > 0 {
			perr.Message += ": " + m.opts.Redactor.Redact(common.Preview(string(body)))
		}
		return nil, perr
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, newProviderError(ProviderMistral, common.CategoryEmptyResponse, "empty body from Mistral API")
	}

	var response mistralChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		perr := newProviderError(ProviderMistral, common.CategoryMalformed,
			"response is not a chat-completions envelope: "+m.opts.Redactor.Redact(common.Preview(string(body))))
		perr.Cause = err
		return nil, perr
	}
	return &response, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
