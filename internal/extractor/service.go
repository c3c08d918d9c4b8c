// service.go - Single-image extraction pipeline

package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/configs"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ai"
	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/bosocmputer/identity_ocr_gemini/internal/monitor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/parser"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bosocmputer/identity_ocr_gemini/internal/extractor"

// DefaultSchemaVersion is part of every cache key.
const DefaultSchemaVersion = "identity-v1"

// ErrNoProviders is returned when the service has nothing to call.
var ErrNoProviders = errors.New("no extraction providers configured")

// Request is one extraction request.
type Request struct {
	Image         processor.SourceImage
	SchemaVersion string
	Provider      string // optional: try this provider first
	CorrelationID string
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Preprocessor  processor.Preprocessor
	Cache         *storage.ExtractionCache
	Monitor       *monitor.Monitor
	SchemaVersion string
	Retry         RetryConfig
	GroupSize     int
	ItemTimeout   time.Duration
	Logger        *slog.Logger
	Redactor      *common.Redactor
}

// OptionsFromConfig maps configuration onto Options. Cache and Monitor are left for the caller.
func OptionsFromConfig(cfg *configs.Config) Options {
	retry := DefaultRetryConfig
	retry.MaxRetries = cfg.Pipeline.RetryBudget
	retry.InitialDelay = cfg.Pipeline.RetryInitialDelay
	retry.MaxDelay = cfg.Pipeline.RetryMaxDelay
	return Options{
		Preprocessor:  processor.Preprocessor{MaxDimension: cfg.Pipeline.MaxImageDimension, JPEGQuality: cfg.Pipeline.JPEGQuality},
		SchemaVersion: cfg.Pipeline.SchemaVersion,
		Retry:         retry,
		GroupSize:     cfg.Pipeline.BatchGroupSize,
		ItemTimeout:   itemTimeout(cfg.Provider.Timeout, cfg.Pipeline.RetryBudget),
	}
}

// itemTimeout bounds one batch item: every attempt on both providers plus backoff.
func itemTimeout(callTimeout time.Duration, retries int) time.Duration {
	if callTimeout <= 0 {
		return 0
	}
	return 2*time.Duration(retries+1)*callTimeout + 30*time.Second
}

// Service runs the extraction pipeline. It is safe for concurrent use.
type Service struct {
	providers     []ai.Provider
	preprocessor  processor.Preprocessor
	cache         *storage.ExtractionCache
	monitor       *monitor.Monitor
	schemaVersion string
	retry         RetryConfig
	groupSize     int
	itemTimeout   time.Duration
	logger        *slog.Logger
	redactor      *common.Redactor
	tracer        trace.Tracer
	now           func() time.Time
}

// NewService wires the pipeline. providers is the ordered strategy list.
func NewService(providers []ai.Provider, opts Options) (*Service, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.Preprocessor.MaxDimension <= 0 {
		opts.Preprocessor = processor.DefaultPreprocessor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = storage.NewExtractionCache(storage.DefaultCacheSize, storage.DefaultCacheTTL, nil, opts.Logger)
	}
	if opts.Monitor == nil {
		opts.Monitor = monitor.New(nil)
	}
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = DefaultSchemaVersion
	}
	if opts.Retry.BackoffMultiple == 0 {
		opts.Retry.BackoffMultiple = DefaultRetryConfig.BackoffMultiple
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultGroupSize
	}
	return &Service{
		providers:     providers,
		preprocessor:  opts.Preprocessor,
		cache:         opts.Cache,
		monitor:       opts.Monitor,
		schemaVersion: opts.SchemaVersion,
		retry:         opts.Retry,
		groupSize:     opts.GroupSize,
		itemTimeout:   opts.ItemTimeout,
		logger:        opts.Logger,
		redactor:      opts.Redactor,
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
	}, nil
}

// Monitor returns the injected performance monitor.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

// ProviderNames lists the configured providers in strategy order.
func (s *Service) ProviderNames() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// Cache returns the injected extraction cache.
func (s *Service) Cache() *storage.ExtractionCache { return s.cache }

// Redactor returns the redactor applied to error text. It may be nil.
func (s *Service) Redactor() *common.Redactor { return s.redactor }

// Extract runs the pipeline for one image.
func (s *Service) Extract(ctx context.Context, src processor.SourceImage, correlationID string) (*identity.Record, error) {
	return s.ExtractRequest(ctx, Request{Image: src, CorrelationID: correlationID})
}

// ExtractRequest runs validation, preprocessing, the cached provider call, parsing and
// normalisation. Errors are classifiable with common.ErrorClass.
func (s *Service) ExtractRequest(ctx context.Context, req Request) (*identity.Record, error) {
	src := req.Image
	if src.Fingerprint == "" {
		src.Fingerprint = processor.Fingerprint(src.Data)
	}
	schemaVersion := req.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = s.schemaVersion
	}

	rc := common.NewRequestContext(req.CorrelationID, src.FileName, s.logger, s.redactor)
	ctx = common.WithRequestID(ctx, rc.RequestID)
	ctx, span := s.tracer.Start(ctx, "extractor.Extract", trace.WithAttributes(
		attribute.String("request_id", rc.RequestID),
		attribute.String("file_name", src.FileName),
		attribute.Int64("bytes", int64(len(src.Data))),
	))
	defer span.End()

	log := rc.Logger()
	log.Info("extract.start", "file", src.FileName, "bytes", len(src.Data))
	start := s.now()

	rc.StartStep("validate")
	report := processor.ValidateImage(src)
	rc.EndStep("success", nil, nil)

	rc.StartStep("preprocess")
	prepared, err := s.preprocessor.Preprocess(src)
	rc.EndStep(stepStatus(err), nil, err)
	if err != nil {
		return nil, s.fail(span, rc, start, err)
	}

	key := storage.CacheKey(src.Fingerprint, schemaVersion)
	rec, cached, err := s.cache.Do(ctx, key, func(ctx context.Context) (*identity.Record, error) {
		return s.extractUncached(ctx, rc, prepared, req.Provider, schemaVersion)
	})
	if cached {
		s.monitor.RecordCacheHit()
	} else {
		s.monitor.RecordCacheMiss()
	}
	if err != nil {
		return nil, s.fail(span, rc, start, err)
	}

	rec.Provenance.CorrelationID = rc.RequestID
	rec.Warnings = append(rec.Warnings, imageWarnings(report)...)
	latency := s.now().Sub(start)
	s.monitor.RecordLatency(rec.Provenance.Provider, latency, cached)

	span.SetAttributes(
		attribute.Bool("cached", cached),
		attribute.String("provider", rec.Provenance.Provider),
		attribute.String("finish_reason", rec.FinishReason),
	)
	log.Info("extract.done",
		"cached", cached,
		"provider", rec.Provenance.Provider,
		"latency_ms", latency.Milliseconds(),
		"non_null_fields", rec.Fields.NonNullCount(),
		"image_score", report.Score,
		"warnings", len(rec.Warnings),
		"summary", rc.GetSummary(),
	)
	return rec, nil
}

// extractUncached walks the provider list: a ProviderError moves on to the next provider,
// anything else ends the attempt.
func (s *Service) extractUncached(ctx context.Context, rc *common.RequestContext, img *processor.PreparedImage, preferred, schemaVersion string) (*identity.Record, error) {
	var lastErr error
	for i, p := range s.orderedProviders(preferred) {
		if i > 0 {
			rc.Logger().Warn("provider.fallback", "provider", p.Name(), "previous_error", s.redactor.Redact(lastErr.Error()))
		}

		pctx, span := s.tracer.Start(ctx, "provider.Extract", trace.WithAttributes(
			attribute.String("provider", p.Name()),
			attribute.String("model", p.Model()),
		))
		raw, err := callWithRetry(pctx, p, img, s.retry, rc)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, common.ErrorClass(err))
			span.End()
			var perr *common.ProviderError
			if errors.As(err, &perr) {
				lastErr = err
				continue
			}
			return nil, err
		}
		span.End()

		if raw.Truncated() {
			s.monitor.RecordTruncation(raw.Provider)
		}
		return s.buildRecord(rc, raw, img, schemaVersion)
	}
	return nil, lastErr
}

func (s *Service) buildRecord(rc *common.RequestContext, raw *ai.RawResult, img *processor.PreparedImage, schemaVersion string) (*identity.Record, error) {
	rc.StartStep("parse")
	parsed, err := parser.Parse(raw.Text)
	rc.EndStep(stepStatus(err), nil, err)
	if err != nil {
		rc.Logger().Warn("parse.failed", "provider", raw.Provider, "finish_reason", raw.FinishReason, "preview", common.Preview(raw.Text))
		return nil, err
	}

	rec := &identity.Record{
		Fields: parsed.Fields,
		Provenance: identity.Provenance{
			Provider:      raw.Provider,
			Model:         raw.Model,
			ExtractedAt:   s.now().UTC(),
			Confidence:    parsed.Fields.ConfidenceEstimate,
			Fingerprint:   img.Fingerprint,
			SchemaVersion: schemaVersion,
		},
		FinishReason: raw.FinishReason,
		Warnings:     parsed.Warnings,
	}
	if raw.Truncated() && !parsed.Repaired {
		rec.Warnings = append(rec.Warnings, "provider reported truncated output")
	}
	return rec, nil
}

// orderedProviders puts the preferred provider first when it is configured.
func (s *Service) orderedProviders(preferred string) []ai.Provider {
	if preferred == "" {
		return s.providers
	}
	out := make([]ai.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if p.Name() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range s.providers {
		if p.Name() != preferred {
			out = append(out, p)
		}
	}
	return out
}

// fail records a failed extraction: its class, its latency against the provider that
// failed (or "none" when no provider answered) and the request summary.
func (s *Service) fail(span trace.Span, rc *common.RequestContext, start time.Time, err error) error {
	class := common.ErrorClass(err)
	provider := "none"
	var perr *common.ProviderError
	if errors.As(err, &perr) {
		provider = perr.Provider
	}
	latency := s.now().Sub(start)
	s.monitor.RecordFailure(class)
	s.monitor.RecordLatency(provider, latency, false)
	span.RecordError(err)
	span.SetStatus(codes.Error, class)
	rc.Logger().Warn("extract.failed",
		"error_class", class,
		"provider", provider,
		"latency_ms", latency.Milliseconds(),
		"error", s.redactor.Redact(err.Error()),
		"summary", rc.GetSummary(),
	)
	return err
}

// imageWarnings turns validator recommendations for a decodable image into record warnings.
func imageWarnings(report processor.ValidationReport) []string {
	if !report.IsValid {
		return nil
	}
	var out []string
	for _, r := range report.Recommendations {
		out = append(out, "image: "+r)
	}
	return out
}

func stepStatus(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

// String makes Request readable in logs without dumping image bytes.
func (r Request) String() string {
	return fmt.Sprintf("Request{file=%s bytes=%d schema=%s provider=%s}", r.Image.FileName, len(r.Image.Data), r.SchemaVersion, r.Provider)
}
