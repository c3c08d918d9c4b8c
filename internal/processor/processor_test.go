package processor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(w/2, h/2, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}))
	return buf.Bytes()
}

func TestValidateImageCompliantScoresFull(t *testing.T) {
	src := NewSourceImage(makePNG(t, 1200, 1600), "id.png", "image/png")

	report := ValidateImage(src)

	assert.True(t, report.IsValid)
	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Recommendations)
	assert.Equal(t, 1_920_000, report.Metrics.Resolution)
	assert.Equal(t, 0.75, report.Metrics.AspectRatio)
	assert.Equal(t, "2-4 seconds", report.EstimatedProcessingTime)
}

func TestValidateImageLowResolution(t *testing.T) {
	report := ValidateImage(NewSourceImage(makePNG(t, 400, 500), "small.png", ""))

	assert.True(t, report.IsValid)
	assert.LessOrEqual(t, report.Score, 80)
	assert.Contains(t, report.Recommendations, RecommendLowRes)
}

func TestValidateImageUndecodable(t *testing.T) {
	report := ValidateImage(NewSourceImage([]byte("definitely not an image"), "x.jpg", "image/jpeg"))

	assert.False(t, report.IsValid)
	assert.Equal(t, 0, report.Score)
	assert.Equal(t, []string{RecommendValidImage}, report.Recommendations)
}

func TestValidateImagePenaltiesAccumulate(t *testing.T) {
	// wide strip: low resolution and bad aspect ratio
	data := makePNG(t, 1000, 200)
	// pad past 5MB; DecodeConfig only reads the header
	data = append(data, make([]byte, LargeFileBytes)...)

	report := ValidateImage(NewSourceImage(data, "strip.png", ""))

	assert.True(t, report.IsValid)
	assert.Equal(t, 100-10-20-10, report.Score)
	assert.Equal(t, []string{RecommendCompress, RecommendLowRes, RecommendOrientation}, report.Recommendations)
	assert.Equal(t, "8-15 seconds", report.EstimatedProcessingTime)
}

func TestEstimateProcessingTime(t *testing.T) {
	assert.Equal(t, "2-4 seconds", EstimateProcessingTime(1024))
	assert.Equal(t, "4-8 seconds", EstimateProcessingTime(2*MediumFileBytes))
	assert.Equal(t, "8-15 seconds", EstimateProcessingTime(LargeFileBytes))
}

func TestResolveMimeType(t *testing.T) {
	tests := []struct {
		declared, file, want string
	}{
		{"image/PNG; charset=binary", "a.jpg", MimePNG},
		{"image/webp", "", MimeWebP},
		{"application/octet-stream", "scan.JPEG", MimeJPEG},
		{"", "card.webp", MimeWebP},
		{"text/plain", "card.bmp", MimeJPEG},
		{"", "", MimeJPEG},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveMimeType(tt.declared, tt.file), "%q %q", tt.declared, tt.file)
	}
}

func TestFingerprintIsExactByteIdentity(t *testing.T) {
	a := []byte("abc")
	assert.Equal(t, Fingerprint(a), Fingerprint([]byte("abc")))
	assert.NotEqual(t, Fingerprint(a), Fingerprint([]byte("abd")))
	assert.Len(t, Fingerprint(a), 64)
}

func TestPreprocessPassesCompliantImageThrough(t *testing.T) {
	data := makeJPEG(t, 800, 600)
	src := NewSourceImage(data, "id.jpg", "")

	prepared, err := PreprocessImage(src)

	require.NoError(t, err)
	assert.False(t, prepared.Resized)
	assert.Equal(t, data, prepared.Data)
	assert.Equal(t, MimeJPEG, prepared.MimeType)
	assert.Equal(t, src.Fingerprint, prepared.Fingerprint)
}

func TestPreprocessDownsizesAndIsIdempotent(t *testing.T) {
	p := Preprocessor{MaxDimension: 300, JPEGQuality: 85}
	src := NewSourceImage(makePNG(t, 450, 900), "tall.png", "image/png")

	first, err := p.Preprocess(src)
	require.NoError(t, err)
	assert.True(t, first.Resized)
	assert.Equal(t, MimePNG, first.MimeType)
	assert.Equal(t, 150, first.Width)
	assert.Equal(t, 300, first.Height)

	second, err := p.Preprocess(NewSourceImage(first.Data, "tall.png", first.MimeType))
	require.NoError(t, err)
	assert.False(t, second.Resized)
	assert.Equal(t, first.Data, second.Data)
}

func TestPreprocessReencodesWideJPEG(t *testing.T) {
	p := Preprocessor{MaxDimension: 200, JPEGQuality: 85}

	out, err := p.Preprocess(NewSourceImage(makeJPEG(t, 400, 100), "wide.jpg", ""))

	require.NoError(t, err)
	assert.Equal(t, 200, out.Width)
	assert.Equal(t, 50, out.Height)
	assert.Equal(t, MimeJPEG, out.MimeType)
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	_, err := PreprocessImage(NewSourceImage([]byte("nope"), "x.png", ""))

	var verr *common.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, common.ClassInvalidImage, common.ErrorClass(err))

	_, err = PreprocessImage(SourceImage{})
	require.Error(t, err)
}
