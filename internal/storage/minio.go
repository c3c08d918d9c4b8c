package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bosocmputer/identity_ocr_gemini/configs"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ImageStore keeps source images in object storage, addressed by fingerprint.
type ImageStore struct {
	client *minio.Client
	bucket string
	config configs.MinioConfig
}

// NewImageStore creates the client. The connection is tested on first operation.
func NewImageStore(cfg configs.MinioConfig) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &ImageStore{client: client, bucket: cfg.Bucket, config: cfg}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// ObjectName derives the object key: identical bytes share one object.
func ObjectName(src processor.SourceImage) string {
	fingerprint := src.Fingerprint
	if fingerprint == "" {
		fingerprint = processor.Fingerprint(src.Data)
	}
	ext := strings.ToLower(filepath.Ext(src.FileName))
	if ext == "" {
		ext = ".jpg"
	}
	return "identity/" + fingerprint[:2] + "/" + fingerprint + ext
}

// Put uploads the source image and returns its URL.
func (s *ImageStore) Put(ctx context.Context, src processor.SourceImage) (string, error) {
	objectName := ObjectName(src)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(src.Data), int64(len(src.Data)), minio.PutObjectOptions{
		ContentType: processor.ResolveMimeType(src.ContentType, src.FileName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return s.PublicURL(objectName), nil
}

// PublicURL returns a URL for the object (if bucket policy allows)
func (s *ImageStore) PublicURL(objectName string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}
