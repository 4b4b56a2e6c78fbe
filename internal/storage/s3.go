package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// objectAPI is the subset of the S3 client used by S3Disk
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config describes an S3 compatible object store
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Disk serves files stored under a key prefix of a bucket
type S3Disk struct {
	client objectAPI
	bucket string
	prefix string
	logger logger.Logger
}

var _ Backend = (*S3Disk)(nil)

// S3DiskOption is a functional option for configuring S3Disk
type S3DiskOption func(*S3Disk)

// WithLogger sets the logger used for backend errors
func WithLogger(l logger.Logger) S3DiskOption {
	return func(d *S3Disk) {
		d.logger = l
	}
}

// WithPrefix stores the disk below prefix inside the bucket
func WithPrefix(prefix string) S3DiskOption {
	return func(d *S3Disk) {
		d.prefix = strings.Trim(prefix, "/")
	}
}

// NewS3Client builds an S3 client from static credentials
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewS3Disk creates a disk backed by bucket
func NewS3Disk(client objectAPI, bucket string, opts ...S3DiskOption) *S3Disk {
	d := &S3Disk{
		client: client,
		bucket: bucket,
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *S3Disk) key(p string) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if strings.TrimSpace(p) == "" || clean == "" {
		return "", ErrInvalidPath
	}
	if d.prefix == "" {
		return clean, nil
	}
	return d.prefix + "/" + clean, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}

	// Some S3 compatible services only report the code
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (d *S3Disk) head(ctx context.Context, p string) (*s3.HeadObjectOutput, error) {
	key, err := d.key(p)
	if err != nil {
		return nil, err
	}

	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrFileNotFound
		}
		d.logger.Error("Failed to head object", "error", err, "bucket", d.bucket, "key", key)
		return nil, fmt.Errorf("failed to check object existence: %w", err)
	}

	return out, nil
}

// Exists reports whether the object exists
func (d *S3Disk) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.head(ctx, p)
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the object content length
func (d *S3Disk) Size(ctx context.Context, p string) (int64, error) {
	out, err := d.head(ctx, p)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Open streams the object body
func (d *S3Disk) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := d.key(p)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrFileNotFound
		}
		d.logger.Error("Failed to get object", "error", err, "bucket", d.bucket, "key", key)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return out.Body, nil
}
