package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bosocmputer/identity_ocr_gemini/internal/ai"
	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/extractor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/bosocmputer/identity_ocr_gemini/internal/monitor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Name() string  { return "gemini" }
func (p *stubProvider) Model() string { return "gemini-test" }

func (p *stubProvider) Extract(context.Context, *processor.PreparedImage) (*ai.RawResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &ai.RawResult{Text: p.text, FinishReason: ai.FinishComplete, Provider: "gemini", Model: "gemini-test"}, nil
}

type memorySaver struct {
	mu    sync.Mutex
	saved []identity.FlattenedRecord
}

func (m *memorySaver) Save(_ context.Context, rec identity.FlattenedRecord) (identity.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, rec)
	return identity.MergeResult{Record: rec}, nil
}

type brokenUploader struct{}

func (brokenUploader) Put(context.Context, processor.SourceImage) (string, error) {
	return "", errors.New("bucket unavailable")
}

type fixedUploader struct{ url string }

func (u fixedUploader) Put(context.Context, processor.SourceImage) (string, error) {
	return u.url, nil
}

func testRouter(t *testing.T, p ai.Provider, opts ...Option) (*gin.Engine, *extractor.Service) {
	t.Helper()
	svc, err := extractor.NewService([]ai.Provider{p}, extractor.Options{
		Monitor: monitor.New(nil),
		Retry:   extractor.RetryConfig{MaxRetries: 0},
	})
	require.NoError(t, err)
	return NewRouter(NewHandler(svc, opts...), "*", prometheus.NewRegistry()), svc
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, field string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

const passportJSON = `{"document_type":"passport","full_name":"Jane Doe","document_number":"P1234567","date_of_birth":"1990-01-02"}`

func TestHealth(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"gemini"}, body["providers"])
	assert.NotEmpty(t, w.Header().Get(CorrelationHeader))
}

func TestValidateImageEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, multipartRequest(t, "/api/v1/validate-image", "image", map[string][]byte{"id.png": pngBytes(t, 1200, 1600)}))

	require.Equal(t, http.StatusOK, w.Code)
	var report processor.ValidationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.IsValid)
	assert.Equal(t, 100, report.Score)
}

func TestValidateImageRequiresFile(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, multipartRequest(t, "/api/v1/validate-image", "other", map[string][]byte{"id.png": {1}}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractIDSuccess(t *testing.T) {
	saver := &memorySaver{}
	router, _ := testRouter(t, &stubProvider{text: passportJSON},
		WithRecordStore(saver),
		WithImageStore(fixedUploader{url: "http://minio/identity/ab/abc.png"}))
	req := multipartRequest(t, "/api/v1/extract-id", "image", map[string][]byte{"id.png": pngBytes(t, 40, 40)})
	req.Header.Set(CorrelationHeader, "corr-42")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "corr-42", w.Header().Get(CorrelationHeader))
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Jane Doe", data[identity.FieldFullName])
	assert.Len(t, data, len(identity.FieldNames))
	record := body["record"].(map[string]any)
	assert.Equal(t, "http://minio/identity/ab/abc.png", record["image_url"])
	assert.Equal(t, "corr-42", body["provenance"].(map[string]any)["correlation_id"])

	require.Len(t, saver.saved, 1)
	assert.Equal(t, "P1234567", saver.saved[0].DocumentNumber())
}

func TestExtractIDImageStoreFailureDoesNotFailRequest(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON}, WithImageStore(brokenUploader{}))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, multipartRequest(t, "/api/v1/extract-id", "image", map[string][]byte{"id.png": pngBytes(t, 41, 41)}))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtractIDErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		image    []byte
		status   int
		class    string
	}{
		{"invalid image", &stubProvider{text: passportJSON}, []byte("not an image"), http.StatusUnprocessableEntity, common.ClassInvalidImage},
		{"provider failed", &stubProvider{err: &common.ProviderError{Provider: "gemini", Category: common.CategoryUnauthorized, Message: "bad key"}}, nil, http.StatusBadGateway, common.ClassProviderFailed},
		{"unreadable output", &stubProvider{text: "no json here"}, nil, http.StatusUnprocessableEntity, common.ClassUnreadableOutput},
		{"client went away", &stubProvider{err: &common.ProviderError{Provider: "gemini", Category: common.CategoryCanceled, Message: "Request was canceled"}}, nil, http.StatusRequestTimeout, common.ClassCancelled},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := testRouter(t, tt.provider)
			img := tt.image
			if img == nil {
				img = pngBytes(t, 50+i, 50)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, multipartRequest(t, "/api/v1/extract-id", "image", map[string][]byte{"id.png": img}))

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.class, body["error_class"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestExtractBatch(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON})
	req := multipartRequest(t, "/api/v1/extract-id/batch", "images[]", map[string][]byte{
		"good.png": pngBytes(t, 60, 60),
		"bad.png":  []byte("corrupt"),
	})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["total"])
	assert.EqualValues(t, 1, summary["successful"])
	assert.EqualValues(t, 1, summary["failed"])
	assert.Equal(t, extractor.BatchPartial, body["status"])
}

func TestPerformanceEndpoints(t *testing.T) {
	router, svc := testRouter(t, &stubProvider{text: passportJSON})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t, "/api/v1/extract-id", "image", map[string][]byte{"id.png": pngBytes(t, 70, 70)}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/performance", nil))
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)["report"].(map[string]any)
	assert.EqualValues(t, 1, report["sampleCount"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/performance", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, svc.Monitor().Report().SampleCount)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/performance?older_than=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/extract-id", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthReportsDegradedDependency(t *testing.T) {
	router, _ := testRouter(t, &stubProvider{text: passportJSON},
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["redis"])
}
