package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"custdoc/internal/docs"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps files as objects in a bucket. The object ETag serves as the
// version token; updates use If-Match and creates use If-None-Match: *.
// Each call, including reading the object body, is bounded by timeout.
type S3Store struct {
	name    string
	client  S3API
	bucket  string
	prefix  string
	timeout time.Duration
}

// S3Options configures NewS3Client.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client from the default AWS configuration,
// optionally with static credentials and a custom endpoint.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates a store over bucket, keeping every object under prefix.
// A zero timeout leaves calls bounded only by the caller's context.
func NewS3Store(name string, client S3API, bucket, prefix string, timeout time.Duration) *S3Store {
	return &S3Store{name: name, client: client, bucket: bucket, prefix: prefix, timeout: timeout}
}

func (s *S3Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *S3Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// ReadFile downloads the object at path and returns its ETag as the version.
func (s *S3Store) ReadFile(ctx context.Context, p string) ([]byte, string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, "", mapS3Error(p, "", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", fmt.Errorf("reading object %s: %w", p, ctxErr)
		}
		return nil, "", fmt.Errorf("reading object %s: %w", p, err)
	}
	return data, aws.ToString(out.ETag), nil
}

// WriteFile uploads content with a conditional PutObject.
func (s *S3Store) WriteFile(ctx context.Context, p string, content []byte, version string, message string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(p)),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}
	if version == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(version)
	}
	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		mapped := mapS3Error(p, version, err)
		if version != "" && errors.Is(mapped, docs.ErrNotFound) {
			return "", &docs.ConflictError{Path: p, Version: version}
		}
		return "", mapped
	}
	return aws.ToString(out.ETag), nil
}

// DeleteFile removes the object at path. S3 deletes are idempotent, so the
// object is checked first to report a missing path as NotFound.
func (s *S3Store) DeleteFile(ctx context.Context, p string, message string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return mapS3Error(p, "", err)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(s.key(p)),
		IfMatch: head.ETag,
	})
	if err != nil {
		return mapS3Error(p, aws.ToString(head.ETag), err)
	}
	return nil
}

func mapS3Error(p, version string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %s", docs.ErrNotFound, p)
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", docs.ErrNotFound, p)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", docs.ErrNotFound, p)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return &docs.ConflictError{Path: p, Version: version}
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %s", docs.ErrUnauthorized, apiErr.ErrorMessage())
		}
		return &docs.TransientError{Message: apiErr.ErrorMessage()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("s3 request for %s: %w", p, err)
	}
	return &docs.TransientError{Message: err.Error()}
}

// Compile-time check that S3Store implements docs.ContentStore
var _ docs.ContentStore = (*S3Store)(nil)
