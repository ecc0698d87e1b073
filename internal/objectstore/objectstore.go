// Package objectstore provides presigned-URL and object operations against
// an S3-compatible store, used for document uploads and oversized results.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/calliope-ai/calliope/internal/config"
)

// Store is the object-store surface consumed by the document pipeline.
type Store interface {
	// PresignUpload returns a presigned PUT URL for a single-shot upload.
	PresignUpload(ctx context.Context, key string, expires time.Duration) (string, error)

	// StartMultipart begins a multipart upload and returns its id.
	StartMultipart(ctx context.Context, key string) (string, error)

	// PresignPart returns a presigned URL for one part of a multipart upload.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (string, error)

	// CompleteMultipart assembles the uploaded parts.
	CompleteMultipart(ctx context.Context, key, uploadID string) error

	// AbortMultipart discards an in-progress multipart upload.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// PresignDownload returns a presigned GET URL.
	PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error)

	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MinioStore implements Store over any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	core   *minio.Core
	bucket string
}

var _ Store = (*MinioStore)(nil)

// New connects to the configured endpoint and ensures the bucket exists.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*MinioStore, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store core client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, core: core, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) PresignUpload(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expires)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioStore) StartMultipart(ctx context.Context, key string) (string, error) {
	return s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{})
}

func (s *MinioStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (string, error) {
	params := url.Values{}
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))
	u, err := s.client.Presign(ctx, "PUT", s.bucket, key, expires, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioStore) CompleteMultipart(ctx context.Context, key, uploadID string) error {
	result, err := s.core.ListObjectParts(ctx, s.bucket, key, uploadID, 0, 10000)
	if err != nil {
		return fmt.Errorf("failed to list uploaded parts: %w", err)
	}

	parts := make([]minio.CompletePart, len(result.ObjectParts))
	for i, p := range result.ObjectParts {
		parts[i] = minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	_, err = s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, parts, minio.PutObjectOptions{})
	return err
}

func (s *MinioStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID)
}

func (s *MinioStore) PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expires, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
