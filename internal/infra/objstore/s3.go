// Package objstore wraps S3-compatible object storage for the lake source and
// the genesis snapshot.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// Config holds S3 connection settings.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Store reads objects from buckets.
type Store interface {
	// Get returns the object body. Callers must close it.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// FirstKeyAfter returns the first key lexically after startAfter, if any.
	FirstKeyAfter(ctx context.Context, bucket, startAfter string) (string, bool, error)
}

// S3Store implements Store with the AWS SDK.
type S3Store struct {
	client *s3.Client
}

// NewS3Store creates an S3 client. A custom endpoint switches to path-style
// addressing for S3-compatible servers.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client}, nil
}

// Get fetches an object.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		RequestPayer: types.RequestPayerRequester,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// FirstKeyAfter lists at most one key after startAfter.
func (s *S3Store) FirstKeyAfter(ctx context.Context, bucket, startAfter string) (string, bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:       aws.String(bucket),
		StartAfter:   aws.String(startAfter),
		MaxKeys:      aws.Int32(1),
		RequestPayer: types.RequestPayerRequester,
	})
	if err != nil {
		return "", false, fmt.Errorf("list s3://%s after %s: %w", bucket, startAfter, err)
	}
	if len(out.Contents) == 0 {
		return "", false, nil
	}
	return aws.ToString(out.Contents[0].Key), true, nil
}
