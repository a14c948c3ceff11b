package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore persists immutable blobs
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// uploadAPI is the subset of manager.Uploader used here
type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store writes objects into a single bucket using the multipart-aware uploader
type S3Store struct {
	uploader uploadAPI
	bucket   string
}

// NewS3Store creates an S3-backed object store
func NewS3Store(cfg aws.Config, bucket string) *S3Store {
	return &S3Store{
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		bucket:   bucket,
	}
}

func newS3StoreWithUploader(uploader uploadAPI, bucket string) *S3Store {
	return &S3Store{uploader: uploader, bucket: bucket}
}

// Upload stores body under key and returns the object location
func (s *S3Store) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return out.Location, nil
}
