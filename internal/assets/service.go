// Package assets stores binary avatar images in object storage.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the externally reachable base URL for uploaded
	// objects, e.g. a CDN or the MinIO endpoint itself.
	PublicURL string
}

// Service provides avatar uploads backed by MinIO
type Service struct {
	client *minio.Client
	config Config
}

// NewService creates the object storage client and ensures the bucket
// exists. Returns nil when unconfigured; callers fall back to generated
// avatars.
func NewService(ctx context.Context, config Config) (*Service, error) {
	if config.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &Service{client: client, config: config}, nil
}

// Upload stores the bytes and returns the object's public URL.
func (s *Service) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.config.Bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}

	base := strings.TrimSuffix(s.config.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if s.config.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + s.config.Endpoint
	}
	return fmt.Sprintf("%s/%s/%s", base, s.config.Bucket, path), nil
}

// DefaultAvatarURL builds the generated-initials avatar used until a
// real image is uploaded.
func DefaultAvatarURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}
