// imageprocessor.go - Image preprocessing before the provider call

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/disintegration/imaging"
)

// Supported mime types
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

var extensionMimeTypes = map[string]string{
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".png":  MimePNG,
	".webp": MimeWebP,
}

// ResolveMimeType picks the declared content type when supported, then the file
// extension, then image/jpeg.
func ResolveMimeType(declared, fileName string) string {
	if declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err == nil {
			switch mt := strings.ToLower(mediaType); mt {
			case MimeJPEG, MimePNG, MimeWebP:
				return mt
			}
		}
	}
	if mt, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return mt
	}
	return MimeJPEG
}

// PreparedImage is what gets sent to a provider.
type PreparedImage struct {
	Data        []byte
	MimeType    string
	Width       int
	Height      int
	Resized     bool
	FileName    string
	Fingerprint string // of the source bytes
}

// Preprocessor bounds the image size sent to providers.
type Preprocessor struct {
	MaxDimension int
	JPEGQuality  int
}

// DefaultPreprocessor matches the provider contract: 2400px longest edge, JPEG quality 85.
var DefaultPreprocessor = Preprocessor{MaxDimension: 2400, JPEGQuality: 85}

// PreprocessImage runs DefaultPreprocessor.
func PreprocessImage(src SourceImage) (*PreparedImage, error) {
	return DefaultPreprocessor.Preprocess(src)
}

// Preprocess downsizes images whose longest edge exceeds MaxDimension. Compliant images
// are returned byte-identical, so the operation is idempotent.
func (p Preprocessor) Preprocess(src SourceImage) (*PreparedImage, error) {
	if len(src.Data) == 0 {
		return nil, &common.ValidationError{FileName: src.FileName, Message: "image is empty"}
	}
	fingerprint := src.Fingerprint
	if fingerprint == "" {
		fingerprint = Fingerprint(src.Data)
	}
	mimeType := ResolveMimeType(src.ContentType, src.FileName)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &common.ValidationError{FileName: src.FileName, Message: "cannot decode image", Cause: err}
	}

	prepared := &PreparedImage{
		Data:        src.Data,
		MimeType:    mimeType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FileName:    src.FileName,
		Fingerprint: fingerprint,
	}
	if max(cfg.Width, cfg.Height) <= p.MaxDimension {
		return prepared, nil
	}

	img, err := imaging.Decode(bytes.NewReader(src.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &common.ValidationError{FileName: src.FileName, Message: "cannot decode image", Cause: err}
	}

	bounds := img.Bounds()
	if bounds.Dx() >= bounds.Dy() {
		img = imaging.Resize(img, p.MaxDimension, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, p.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch mimeType {
	case MimePNG:
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.JPEGQuality})
		mimeType = MimeJPEG
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode processed image: %w", err)
	}

	bounds = img.Bounds()
	prepared.Data = buf.Bytes()
	prepared.MimeType = mimeType
	prepared.Width = bounds.Dx()
	prepared.Height = bounds.Dy()
	prepared.Resized = true
	return prepared, nil
}
