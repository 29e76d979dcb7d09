package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/pkg/client/s3"
)

type S3Repo struct {
	StorageS3 *s3.StorageS3
}

func NewS3Repo(storageS3 *s3.StorageS3) *S3Repo {
	return &S3Repo{
		StorageS3: storageS3,
	}
}

func (s *S3Repo) ready() error {
	if s.StorageS3 == nil || s.StorageS3.Client == nil {
		return fmt.Errorf("s3 client not initialized")
	}
	return nil
}

func (s *S3Repo) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.StorageS3.Client.PutObject(
		ctx,
		s.StorageS3.Bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (s *S3Repo) GetFileReader(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	obj, err := s.StorageS3.Client.GetObject(ctx, s.StorageS3.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return obj, nil
}

// Stat returns size and content type of an uploaded object.
func (s *S3Repo) Stat(ctx context.Context, key string) (int64, string, error) {
	if err := s.ready(); err != nil {
		return 0, "", err
	}
	info, err := s.StorageS3.Client.StatObject(ctx, s.StorageS3.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, "", fmt.Errorf("object %s: %w", key, entity.ErrNotFound)
		}
		return 0, "", fmt.Errorf("s3 stat object: %w", err)
	}
	return info.Size, info.ContentType, nil
}

func (s *S3Repo) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	presignedURL, err := s.StorageS3.Client.PresignedGetObject(ctx, s.StorageS3.Bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigned get object: %w", err)
	}
	return presignedURL.String(), nil
}

func (s *S3Repo) PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	presignedURL, err := s.StorageS3.Client.PresignedPutObject(ctx, s.StorageS3.Bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presigned put object: %w", err)
	}
	return presignedURL.String(), nil
}
