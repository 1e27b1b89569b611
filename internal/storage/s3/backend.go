package s3

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectfs/assetresolver/internal/storage"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// BackendName is the name S3 assets are cached under.
const BackendName = "s3"

// objectAPI is the subset of the S3 client the backend uses.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend implements types.Backend for one S3 bucket.
type Backend struct {
	api    objectAPI
	http   *http.Client
	bucket string
	logger *slog.Logger

	metrics metricsRecorder
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger the backend derives its own from.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackend creates a new S3 backend for bucket.
func NewBackend(ctx context.Context, bucket string, cfg *Config, opts ...Option) (*Backend, error) {
	if bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "build http client").
			WithComponent("s3").
			WithCause(err)
	}
	client, err := newClient(ctx, cfg, httpClient)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeBackendUnavailable, "create s3 client").
			WithComponent("s3").
			WithTarget(BackendName, bucket).
			WithCause(err)
	}

	b := newBackend(bucket, client, opts...)
	b.http = httpClient

	if cfg.VerifyBucket {
		if err := b.HealthCheck(ctx); err != nil {
			return nil, err
		}
	}

	b.logger.Info("S3 backend initialized",
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.ForcePathStyle)
	return b, nil
}

func newBackend(bucket string, api objectAPI, opts ...Option) *Backend {
	b := &Backend{
		api:    api,
		bucket: bucket,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "s3-backend", "bucket", bucket)
	return b
}

// Factory returns a BackendFactory that builds one Backend per bucket.
func Factory(cfg *Config, opts ...Option) types.BackendFactory {
	return func(ctx context.Context, bucket string) (types.Backend, error) {
		return NewBackend(ctx, bucket, cfg, opts...)
	}
}

// Bucket returns the bucket this backend serves.
func (b *Backend) Bucket() string { return b.bucket }

// CheckRemote reports whether key exists and its modification marker.
func (b *Backend) CheckRemote(ctx context.Context, key string) (types.RemoteInfo, error) {
	start := time.Now()
	b.metrics.recordProbe()

	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			b.metrics.record(time.Since(start), false)
			return types.RemoteInfo{Exists: false}, nil
		}
		b.metrics.record(time.Since(start), true)
		b.metrics.recordError(err)
		return types.RemoteInfo{}, b.translateError(err, "head", key, errors.ErrCodeBackendUnavailable)
	}
	b.metrics.record(time.Since(start), false)

	return types.RemoteInfo{
		Exists:    true,
		Timestamp: types.TimestampFromTime(aws.ToTime(out.LastModified)),
		Version:   objectVersion(out.VersionId, out.ETag),
		Size:      aws.ToInt64(out.ContentLength),
	}, nil
}

// FetchContent downloads key to destPath.
func (b *Backend) FetchContent(ctx context.Context, key, destPath string) (types.FetchResult, error) {
	start := time.Now()

	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		b.metrics.record(time.Since(start), true)
		b.metrics.recordError(err)
		return types.FetchResult{}, b.translateError(err, "get", key, errors.ErrCodeFetchFailed)
	}
	defer out.Body.Close()

	n, err := storage.WriteFile(destPath, out.Body)
	if err != nil {
		b.metrics.record(time.Since(start), true)
		b.metrics.recordError(err)
		return types.FetchResult{}, annotate(err, b.bucket, key)
	}
	b.metrics.record(time.Since(start), false)
	b.metrics.recordDownload(n)

	b.logger.Debug("Object downloaded", "key", key, "bytes", n, "duration", time.Since(start))
	return types.FetchResult{
		BytesWritten: n,
		Timestamp:    types.TimestampFromTime(aws.ToTime(out.LastModified)),
		Version:      objectVersion(out.VersionId, out.ETag),
	}, nil
}

// HealthCheck verifies the bucket is reachable with the configured credentials.
func (b *Backend) HealthCheck(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeBackendUnavailable, "bucket is not reachable").
			WithComponent("s3").
			WithOperation("head bucket").
			WithTarget(BackendName, b.bucket).
			WithCause(err)
	}
	return nil
}

// GetMetrics returns a snapshot of the backend's request metrics.
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.snapshot()
}

// Close releases idle connections.
func (b *Backend) Close() error {
	if b.http != nil {
		b.http.CloseIdleConnections()
	}
	return nil
}

func (b *Backend) translateError(err error, operation, key string, code errors.ErrorCode) error {
	switch {
	case isNotFound(err):
		code = errors.ErrCodeNotFound
	case isErrorType[*s3types.NoSuchBucket](err), apiErrorCode(err) == "AccessDenied", apiErrorCode(err) == "Forbidden":
		code = errors.ErrCodeBackendUnavailable
	}
	return errors.Newf(code, "%s failed", operation).
		WithComponent("s3").
		WithOperation(operation).
		WithTarget(BackendName, b.bucket).
		WithKey(key).
		WithCause(err)
}

func annotate(err error, bucket, key string) error {
	var re *errors.ResolverError
	if stderrors.As(err, &re) {
		return re.Clone().WithTarget(BackendName, bucket).WithKey(key)
	}
	return err
}

func isNotFound(err error) bool {
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}
	switch apiErrorCode(err) {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

// objectKey drops the leading slash identifiers carry.
func objectKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

func objectVersion(versionID, etag *string) string {
	if v := aws.ToString(versionID); v != "" && v != "null" {
		return v
	}
	return strings.Trim(aws.ToString(etag), `"`)
}
