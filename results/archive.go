package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrArchived is returned when the archive already holds a key.
var ErrArchived = errors.New("already archived")

// Archiver stores finished datasets off the local machine.
type Archiver interface {
	Put(ctx context.Context, name string, r io.ReadSeeker) error
}

// ArchiveConfig selects an S3-compatible bucket.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. a MinIO URL
	PathStyle bool
	Prefix    string
}

// S3Archive uploads datasets to a single bucket without overwriting.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive builds an archive using the default AWS credential chain.
func NewS3Archive(ctx context.Context, cfg ArchiveConfig, optFns ...func(*config.LoadOptions) error) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := append([]func(*config.LoadOptions) error{config.WithRegion(region)}, optFns...)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for a dataset file name.
func (a *S3Archive) Key(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Put uploads r under name, refusing to replace an existing object.
func (a *S3Archive) Put(ctx context.Context, name string, r io.ReadSeeker) error {
	key := a.Key(name)
	// Emulate create-only via Head first.
	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &a.bucket, Key: &key}); err == nil {
		return fmt.Errorf("%w: s3://%s/%s", ErrArchived, a.bucket, key)
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        r,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
