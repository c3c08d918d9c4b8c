// validator.go - Image quality scoring before extraction

package processor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"
)

// Scoring thresholds
const (
	LargeFileBytes     = 5 * 1024 * 1024
	MediumFileBytes    = 1 * 1024 * 1024
	MinResolution      = 300_000
	MaxResolution      = 8_000_000
	MinAspectRatio     = 0.5
	MaxAspectRatio     = 2.0
	largeFilePenalty   = 10
	lowResPenalty      = 20
	highResPenalty     = 5
	aspectRatioPenalty = 10
)

// Recommendation texts, in the order they are emitted.
const (
	RecommendValidImage  = "Provide a valid JPEG, PNG or WebP image"
	RecommendCompress    = "File is larger than 5MB and will be compressed before extraction"
	RecommendLowRes      = "Resolution is below 300,000 pixels; extraction accuracy is at risk, retake the photo closer to the document"
	RecommendDownsample  = "Resolution is above 8,000,000 pixels and will be downsampled"
	RecommendOrientation = "Aspect ratio is outside 0.5-2.0; the image is likely misoriented or badly cropped"
)

// SourceImage is an uploaded image as received.
type SourceImage struct {
	Data        []byte
	FileName    string
	ContentType string
	Size        int64
	Fingerprint string
}

// NewSourceImage wraps raw bytes and computes their fingerprint.
func NewSourceImage(data []byte, fileName, contentType string) SourceImage {
	return SourceImage{
		Data:        data,
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		Fingerprint: Fingerprint(data),
	}
}

// Fingerprint is the sha256 hex digest of the exact bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ImageMetrics describes the decoded image.
type ImageMetrics struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FileSize    int64   `json:"fileSize"`
	AspectRatio float64 `json:"aspectRatio"`
	Resolution  int     `json:"resolution"`
}

// ValidationReport is the quality assessment of one image.
type ValidationReport struct {
	IsValid                 bool         `json:"isValid"`
	Score                   int          `json:"score"`
	Metrics                 ImageMetrics `json:"metrics"`
	Recommendations         []string     `json:"recommendations"`
	EstimatedProcessingTime string       `json:"estimatedProcessingTime"`
}

// ValidateImage scores an image. Only an undecodable image is invalid; every other issue
// lowers the score and adds a recommendation.
func ValidateImage(src SourceImage) ValidationReport {
	size := int64(len(src.Data))
	report := ValidationReport{
		Recommendations:         []string{},
		EstimatedProcessingTime: EstimateProcessingTime(size),
		Metrics:                 ImageMetrics{FileSize: size},
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		report.Recommendations = []string{RecommendValidImage}
		return report
	}

	report.IsValid = true
	m := &report.Metrics
	m.Width = cfg.Width
	m.Height = cfg.Height
	m.Resolution = cfg.Width * cfg.Height
	m.AspectRatio = math.Round(float64(cfg.Width)/float64(cfg.Height)*1000) / 1000

	score := 100
	if size > LargeFileBytes {
		score -= largeFilePenalty
		report.Recommendations = append(report.Recommendations, RecommendCompress)
	}
	if m.Resolution < MinResolution {
		score -= lowResPenalty
		report.Recommendations = append(report.Recommendations, RecommendLowRes)
	}
	if m.Resolution > MaxResolution {
		score -= highResPenalty
		report.Recommendations = append(report.Recommendations, RecommendDownsample)
	}
	ratio := float64(cfg.Width) / float64(cfg.Height)
	if ratio < MinAspectRatio || ratio > MaxAspectRatio {
		score -= aspectRatioPenalty
		report.Recommendations = append(report.Recommendations, RecommendOrientation)
	}

	report.Score = max(0, min(100, score))
	return report
}

// EstimateProcessingTime buckets the expected end-to-end time by file size.
func EstimateProcessingTime(size int64) string {
	switch {
	case size < MediumFileBytes:
		return "2-4 seconds"
	case size < LargeFileBytes:
		return "4-8 seconds"
	default:
		return "8-15 seconds"
	}
}
