package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config configures an S3-compatible blob store.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint selects an S3-compatible service (MinIO, Wasabi) with path-style addressing.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// PartSize is the multipart part size; zero uses the SDK default.
	PartSize    int64
	Concurrency int
}

// S3Store uploads blobs to an S3 bucket.
type S3Store struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
	logger   zerolog.Logger
}

// NewS3Store creates an S3Store. Without static credentials the default AWS
// credential chain is used.
func NewS3Store(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		awsOpts = append(awsOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	return &S3Store{
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		uploader: uploader,
		logger:   logger.With().Str("component", "s3_blobstore").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Put uploads srcPath and removes it once the upload succeeded.
func (s *S3Store) Put(ctx context.Context, key, srcPath string) (string, error) {
	objectKey := cleanName(key)
	if s.prefix != "" {
		objectKey = s.prefix + "/" + objectKey
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	f.Close()
	if err := os.Remove(srcPath); err != nil {
		s.logger.Warn().Err(err).Str("path", srcPath).Msg("failed to remove uploaded file")
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, objectKey)
	s.logger.Debug().Str("location", location).Msg("blob stored")
	return location, nil
}
