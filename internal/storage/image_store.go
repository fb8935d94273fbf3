// Package storage keeps product images in S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/voltmoto/site/backend/internal/config"
)

// ImagePrefix is the key prefix of every product image
const ImagePrefix = "products/"

// ErrUnsupportedImageType is returned for uploads that are not jpeg, png or webp
var ErrUnsupportedImageType = errors.New("unsupported image type")

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// S3API is the subset of the S3 client the image store uses
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Presigner creates time-limited download URLs
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ImageStore handles S3/MinIO operations for product images
type ImageStore struct {
	client             S3API
	presigner          Presigner
	bucket             string
	presignedURLExpiry time.Duration
}

// NewImageStore creates an ImageStore with an S3 client configured for MinIO compatibility
func NewImageStore(cfg config.StorageConfig) *ImageStore {
	endpointURL := cfg.Endpoint
	if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + endpointURL
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true,
	})

	return NewImageStoreWithClient(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignedURLExpiry)
}

// NewImageStoreWithClient wires an ImageStore around existing clients
func NewImageStoreWithClient(client S3API, presigner Presigner, bucket string, expiry time.Duration) *ImageStore {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &ImageStore{
		client:             client,
		presigner:          presigner,
		bucket:             bucket,
		presignedURLExpiry: expiry,
	}
}

// ImageKey builds a fresh object key for a product image. Every upload gets a new
// key so cached URLs of the previous image stay valid until it is deleted.
func ImageKey(productID uuid.UUID, contentType string) (string, error) {
	ext, ok := imageExtensions[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImageType, contentType)
	}
	return path.Join(ImagePrefix, productID.String(), uuid.NewString()+ext), nil
}

// Put uploads an image
func (s *ImageStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// Delete removes a single object
func (s *ImageStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// PresignedURL generates a download URL valid for the configured expiry
func (s *ImageStore) PresignedURL(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignedURLExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}
	return req.URL, nil
}

// Ping checks that the bucket is reachable
func (s *ImageStore) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}

// Bucket returns the configured bucket name
func (s *ImageStore) Bucket() string {
	return s.bucket
}
