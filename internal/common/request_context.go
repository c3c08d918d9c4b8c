// request_context.go - Request tracking and logging system

package common

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestContext tracks a single extraction with step timings and token usage.
// It is safe for concurrent use.
type RequestContext struct {
	RequestID string
	FileName  string
	StartTime time.Time

	logger   *slog.Logger
	redactor *Redactor

	mu               sync.Mutex
	steps            []StepLog
	totalTokens      TokenUsage
	currentStep      string
	currentStepStart time.Time
}

// StepLog represents a single processing step
type StepLog struct {
	Name      string      `json:"name"`
	StartTime time.Time   `json:"start_time"`
	Duration  int64       `json:"duration_ms"`
	Status    string      `json:"status"` // "success", "failed", "skipped"
	Tokens    *TokenUsage `json:"tokens,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// TokenUsage tracks API token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewRequestContext creates a tracker. An empty requestID gets a fresh UUID. Step errors
// pass through redactor, which may be nil.
func NewRequestContext(requestID, fileName string, logger *slog.Logger, redactor *Redactor) *RequestContext {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := &RequestContext{
		RequestID: requestID,
		FileName:  fileName,
		StartTime: time.Now(),
		logger:    logger.With("request_id", requestID),
		redactor:  redactor,
	}
	rc.logger.Debug("request.start", "file", fileName)
	return rc
}

// Logger returns the request-scoped logger.
func (rc *RequestContext) Logger() *slog.Logger {
	return rc.logger
}

// StartStep begins tracking a new processing step
func (rc *RequestContext) StartStep(stepName string) {
	rc.mu.Lock()
	rc.currentStep = stepName
	rc.currentStepStart = time.Now()
	rc.mu.Unlock()

	rc.logger.Debug("step.start", "step", stepName)
}

// EndStep completes the current step and records timing
func (rc *RequestContext) EndStep(status string, tokens *TokenUsage, err error) {
	rc.mu.Lock()
	duration := time.Since(rc.currentStepStart)
	stepLog := StepLog{
		Name:      rc.currentStep,
		StartTime: rc.currentStepStart,
		Duration:  duration.Milliseconds(),
		Status:    status,
		Tokens:    tokens,
	}
	if tokens != nil {
		rc.totalTokens.InputTokens += tokens.InputTokens
		rc.totalTokens.OutputTokens += tokens.OutputTokens
		rc.totalTokens.TotalTokens += tokens.TotalTokens
	}
	if err != nil {
		stepLog.Error = rc.redactor.Redact(err.Error())
	}
	rc.steps = append(rc.steps, stepLog)
	rc.currentStep = ""
	rc.mu.Unlock()

	if err != nil {
		rc.logger.Warn("step.failed", "step", stepLog.Name, "duration_ms", stepLog.Duration, "error", stepLog.Error)
		return
	}
	rc.logger.Debug("step.done", "step", stepLog.Name, "status", status, "duration_ms", stepLog.Duration)
}

// GetSummary returns a final summary of the entire request. Repeated steps, such as
// retried provider calls, are summed in step_breakdown.
func (rc *RequestContext) GetSummary() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	totalDuration := time.Since(rc.StartTime).Milliseconds()
	stepBreakdown := make(map[string]int64, len(rc.steps))
	for _, step := range rc.steps {
		stepBreakdown[step.Name] += step.Duration
	}

	return map[string]interface{}{
		"request_id":        rc.RequestID,
		"file_name":         rc.FileName,
		"total_duration_ms": totalDuration,
		"step_breakdown":    stepBreakdown,
		"total_steps":       len(rc.steps),
		"token_usage":       rc.totalTokens,
	}
}
