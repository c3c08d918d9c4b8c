// handlers.go - HTTP handlers for image validation, identity extraction and monitoring.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/extractor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/storage"
	"github.com/gin-gonic/gin"
)

// CorrelationHeader carries the caller's correlation id in and out.
const CorrelationHeader = "X-Correlation-ID"

// DefaultMaxUploadBytes caps a single uploaded image.
const DefaultMaxUploadBytes int64 = 20 << 20

// RecordSaver persists flattened records.
type RecordSaver interface {
	Save(ctx context.Context, rec identity.FlattenedRecord) (identity.MergeResult, error)
}

// ImageUploader stores source images and returns their public URL.
type ImageUploader interface {
	Put(ctx context.Context, src processor.SourceImage) (string, error)
}

// Handler serves the HTTP API on top of an extraction service.
type Handler struct {
	service   *extractor.Service
	records   RecordSaver
	images    ImageUploader
	maxUpload int64
	checks    map[string]func(context.Context) error
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRecordStore enables persistence of successful extractions.
func WithRecordStore(s RecordSaver) Option {
	return func(h *Handler) { h.records = s }
}

// WithImageStore enables storage of source images.
func WithImageStore(s ImageUploader) Option {
	return func(h *Handler) { h.images = s }
}

// WithHealthCheck adds a dependency check reported by /health.
func WithHealthCheck(name string, check func(context.Context) error) Option {
	return func(h *Handler) {
		if h.checks == nil {
			h.checks = map[string]func(context.Context) error{}
		}
		h.checks[name] = check
	}
}

// WithMaxUploadBytes overrides DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler. Persistence and image storage stay off unless enabled.
func NewHandler(service *extractor.Service, opts ...Option) *Handler {
	h := &Handler{service: service, maxUpload: DefaultMaxUploadBytes, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health reports liveness, the configured providers and dependency checks. A failing
// dependency degrades the status but still answers 200.
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	deps := gin.H{}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"service":      "identity-ocr",
		"version":      "1.0.0",
		"providers":    h.service.ProviderNames(),
		"dependencies": deps,
	})
}

// ValidateImageHandler scores an uploaded image without calling a provider.
func (h *Handler) ValidateImageHandler(c *gin.Context) {
	src, err := h.readUpload(c, "image")
	if err != nil {
		h.badUpload(c, err)
		return
	}
	c.JSON(http.StatusOK, processor.ValidateImage(src))
}

// ExtractIDHandler runs the full pipeline for one uploaded image.
func (h *Handler) ExtractIDHandler(c *gin.Context) {
	requestID := RequestID(c)
	src, err := h.readUpload(c, "image")
	if err != nil {
		h.badUpload(c, err)
		return
	}

	ctx := c.Request.Context()
	imageURL := h.storeImage(ctx, src)

	rec, err := h.service.Extract(ctx, src, requestID)
	if err != nil {
		h.extractionFailed(c, requestID, err)
		return
	}

	flat := identity.Flatten(rec, imageURL)
	stored := h.persist(ctx, flat)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       rec.Fields.ToMap(),
		"record":     flat,
		"provenance": rec.Provenance,
		"cached":     rec.Cached,
		"warnings":   nonNil(rec.Warnings),
		"metadata": gin.H{
			"request_id":    requestID,
			"processed_at":  time.Now().Format(time.RFC3339),
			"finish_reason": rec.FinishReason,
			"stored":        stored,
		},
	})
}

// batchItem is one entry of the batch response.
type batchItem struct {
	Success    bool           `json:"success"`
	FileName   string         `json:"fileName"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorClass string         `json:"errorClass,omitempty"`
}

// ExtractBatchHandler runs the batch orchestrator over every uploaded image.
func (h *Handler) ExtractBatchHandler(c *gin.Context) {
	requestID := RequestID(c)
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "multipart form with images[] is required", "request_id": requestID})
		return
	}
	files := form.File["images[]"]
	if len(files) == 0 {
		files = form.File["images"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "images[] cannot be empty", "request_id": requestID})
		return
	}

	images := make([]processor.SourceImage, 0, len(files))
	for _, fh := range files {
		src, err := h.readFile(fh)
		if err != nil {
			h.badUpload(c, err)
			return
		}
		images = append(images, src)
	}

	ctx := c.Request.Context()
	res := h.service.ProcessBatch(ctx, images, extractor.BatchOptions{
		OnProgress: func(p extractor.Progress) {
			h.logger.Debug("batch.progress", "request_id", requestID, "completed", p.Completed, "total", p.Total, "file", p.CurrentFile)
		},
	})

	items := make([]batchItem, len(res.Results))
	for i, r := range res.Results {
		items[i] = batchItem{Success: r.Success, FileName: r.FileName, Error: r.Error, ErrorClass: r.ErrorClass}
		if r.Success {
			items[i].Data = r.Record.Fields.ToMap()
			h.persist(ctx, identity.Flatten(r.Record, ""))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results": items,
		"summary": gin.H{
			"total":         res.Summary.Total,
			"successful":    res.Summary.Successful,
			"failed":        res.Summary.Failed,
			"totalTimeMs":   res.Summary.TotalTime.Milliseconds(),
			"averageTimeMs": res.Summary.AverageTime.Milliseconds(),
		},
		"status":     res.Status,
		"request_id": requestID,
	})
}

// PerformanceHandler returns the monitor report and cache counters.
func (h *Handler) PerformanceHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"report": h.service.Monitor().Report(),
		"cache":  h.service.Cache().Stats(),
	})
}

// ResetPerformanceHandler clears the monitor. With ?older_than=<duration> only older
// samples are dropped.
func (h *Handler) ResetPerformanceHandler(c *gin.Context) {
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration such as 1h"})
			return
		}
		removed := h.service.Monitor().Cleanup(d)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "removed": removed})
		return
	}
	h.service.Monitor().Reset()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusForClass maps an error class to its HTTP status.
func statusForClass(class string) int {
	switch class {
	case common.ClassInvalidImage, common.ClassUnreadableOutput:
		return http.StatusUnprocessableEntity
	case common.ClassProviderFailed:
		return http.StatusBadGateway
	case common.ClassCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) extractionFailed(c *gin.Context, requestID string, err error) {
	class := common.ErrorClass(err)
	body := gin.H{
		"success":     false,
		"error":       h.service.Redactor().Redact(err.Error()),
		"error_class": class,
		"request_id":  requestID,
	}
	var perr *common.ProviderError
	if errors.As(err, &perr) {
		body["provider"] = perr.Provider
		body["category"] = perr.Category
	}
	c.JSON(statusForClass(class), body)
}

// uploadError is a client mistake in the multipart request.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

func (h *Handler) badUpload(c *gin.Context, err error) {
	status := http.StatusBadRequest
	var ue *uploadError
	if errors.As(err, &ue) {
		status = ue.status
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error(), "request_id": RequestID(c)})
}

func (h *Handler) readUpload(c *gin.Context, field string) (processor.SourceImage, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return processor.SourceImage{}, &uploadError{status: http.StatusBadRequest, msg: fmt.Sprintf("multipart field %q is required", field)}
	}
	return h.readFile(fh)
}

func (h *Handler) readFile(fh *multipart.FileHeader) (processor.SourceImage, error) {
	if fh.Size > h.maxUpload {
		return processor.SourceImage{}, &uploadError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("%s exceeds the %d byte upload limit", fh.Filename, h.maxUpload)}
	}
	f, err := fh.Open()
	if err != nil {
		return processor.SourceImage{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return processor.SourceImage{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > h.maxUpload {
		return processor.SourceImage{}, &uploadError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("%s exceeds the %d byte upload limit", fh.Filename, h.maxUpload)}
	}
	return processor.NewSourceImage(data, fh.Filename, fh.Header.Get("Content-Type")), nil
}

// storeImage uploads the source image when image storage is enabled. Failures only log.
func (h *Handler) storeImage(ctx context.Context, src processor.SourceImage) string {
	if h.images == nil {
		return ""
	}
	url, err := h.images.Put(ctx, src)
	if err != nil {
		h.logger.Warn("image.store_failed", "file", src.FileName, "error", err)
		return ""
	}
	return url
}

// persist saves rec when persistence is enabled and reports whether it was written.
func (h *Handler) persist(ctx context.Context, rec identity.FlattenedRecord) bool {
	if h.records == nil {
		return false
	}
	if _, err := h.records.Save(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrNoDocumentNumber) {
			h.logger.Debug("record.skip", "reason", "no document number")
		} else {
			h.logger.Warn("record.save_failed", "error", err)
		}
		return false
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
