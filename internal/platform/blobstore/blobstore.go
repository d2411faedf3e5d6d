// Package blobstore archives generated reports to S3-compatible object storage
// (AWS S3 or MinIO).
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// Archive stores report files under a key.
type Archive interface {
	Put(ctx context.Context, key string, r io.ReadSeeker, contentType string) error
}

// Config selects the bucket and endpoint. Credentials fall back to the default
// AWS chain when AccessKeyID is empty.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3Archive is an Archive backed by a single bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(ctx context.Context, cfg Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads r to prefix+key, overwriting any existing object.
func (a *S3Archive) Put(ctx context.Context, key string, r io.ReadSeeker, contentType string) error {
	full := a.prefix + key
	input := &s3.PutObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(full), Body: r}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, full, err)
	}
	return nil
}

// ReportKey is the object key of a report file: <domain>/<file name>.
func ReportKey(domain, file string) string {
	return path.Join(domain, filepath.Base(file))
}

// UploadReport archives the CSV report at file under ReportKey and returns the key.
func UploadReport(ctx context.Context, a Archive, domain, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	key := ReportKey(domain, file)
	contentType := ""
	if strings.HasSuffix(file, ".csv") {
		contentType = "text/csv"
	}
	if err := a.Put(ctx, key, f, contentType); err != nil {
		return "", err
	}
	return key, nil
}
