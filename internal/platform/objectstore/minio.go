// Package objectstore uploads generated artefacts such as report archives to
// S3 compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store writes objects into one bucket.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore is a Store backed by minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinio builds a MinIO client. It does not contact the server.
func NewMinio(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("objectstore: endpoint required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: new client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Bucket returns the target bucket name.
func (s *MinioStore) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket when missing.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	found, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: bucket exists: %w", err)
	}
	if found {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("objectstore: make bucket: %w", err)
	}
	return nil
}

// Put uploads one object, overwriting any previous version.
func (s *MinioStore) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", objectName, err)
	}
	return nil
}
