package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/pkg/config"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// S3Archive stores exports in a single S3 (or S3-compatible) bucket
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ providers.ExportArchive = (*S3Archive)(nil)

// S3Options holds explicit construction parameters
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
	Prefix    string // prepended to every key

	// static credentials, optional; the default chain is used when empty
	AccessKeyID     string
	SecretAccessKey string

	// HTTPClient overrides the transport, used by tests
	HTTPClient s3.HTTPClient
}

// NewS3Archive creates an S3 archive from options
func NewS3Archive(ctx context.Context, opts S3Options) (*S3Archive, error) {
	if opts.Bucket == "" {
		return nil, apperrors.NewValidationError("s3 bucket required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.HTTPClient != nil {
			o.HTTPClient = opts.HTTPClient
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Archive{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// NewS3ArchiveFromConfig maps the archive config section to S3Options
func NewS3ArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	return NewS3Archive(ctx, S3Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
		Prefix:    cfg.S3Prefix,
	})
}

// Driver names the archive backend
func (a *S3Archive) Driver() string { return DriverS3 }

// Put uploads data under key, overwriting any existing object
func (a *S3Archive) Put(ctx context.Context, key string, data []byte, contentType string) (providers.ArchivedObject, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return providers.ArchivedObject{}, err
	}
	objectKey := a.objectKey(clean)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return providers.ArchivedObject{}, fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}

	return providers.ArchivedObject{
		Key:         clean,
		Size:        int64(len(data)),
		ContentType: contentType,
		Location:    fmt.Sprintf("s3://%s/%s", a.bucket, objectKey),
	}, nil
}

// Get downloads the object stored under key
func (a *S3Archive) Get(ctx context.Context, key string) ([]byte, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	objectKey := a.objectKey(clean)

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("archived export %s not found", key))
		}
		return nil, fmt.Errorf("failed to download %s: %w", objectKey, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectKey, err)
	}
	return data, nil
}

// List returns the keys under prefix in lexical order, following continuation tokens
func (a *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := a.objectKey(prefix)
	var (
		keys  []string
		token *string
	)
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", fullPrefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, a.relativeKey(aws.ToString(obj.Key)))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *S3Archive) objectKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

func (a *S3Archive) relativeKey(objectKey string) string {
	if a.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, a.prefix+"/")
}
