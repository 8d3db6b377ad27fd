// Package blob stores export archives in S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxSignedURLTTL is the longest presign lifetime S3 accepts.
const MaxSignedURLTTL = 7 * 24 * time.Hour

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

type MinioStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinioStore(opts Options) (*MinioStore, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("blob bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &MinioStore{client: client, bucket: opts.Bucket, now: time.Now}, nil
}

// EnsureBucket creates the export bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload writes body to path and returns the stored byte count.
func (s *MinioStore) Upload(ctx context.Context, path string, body []byte) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", path, err)
	}
	return info.Size, nil
}

// SignedURL presigns a GET for path. ttl is clamped to MaxSignedURLTTL.
func (s *MinioStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("sign %s: ttl must be positive", path)
	}
	if ttl > MaxSignedURLTTL {
		ttl = MaxSignedURLTTL
	}
	ttl = ttl.Truncate(time.Second)
	if ttl < time.Second {
		ttl = time.Second
	}

	issued := s.now().UTC()
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, path, ttl, url.Values{})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s: %w", path, err)
	}
	return signed.String(), issued.Add(ttl), nil
}

// Remove deletes the archive at path.
func (s *MinioStore) Remove(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
