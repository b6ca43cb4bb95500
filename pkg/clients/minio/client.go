// Package minio is the traced object storage client that archives metric
// snapshots. It satisfies metrics.ObjectPutter and exposes a health check.
package minio

import (
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-analytics/pkg/clients/minio"

// ObjectStore is the subset of *minio.Client the service uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client wraps an ObjectStore with tracing and error classification. It is
// safe for concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, builds a minio client and checks the server.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	// A successful BucketExists call, even returning false, proves the
	// server is reachable and the credentials are accepted.
	if _, err := mc.BucketExists(ctx, cfg.HealthBucket); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	return &Client{store: mc, config: &cfg, tracer: otel.Tracer(tracerName)}, nil
}

// NewFromStore wraps an existing store. cfg may be nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{store: store, config: cfg, tracer: otel.Tracer(tracerName)}
}

// Bucket returns the configured snapshot bucket.
func (c *Client) Bucket() string {
	if c.config.Bucket == "" {
		return DefaultBucket
	}
	return c.config.Bucket
}

// EnsureBucket creates bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucket, "BucketExists/MakeBucket "+bucket)
	ok, err := c.store.BucketExists(ctx, bucket)
	if err == nil && !ok {
		err = c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region})
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: failed to ensure bucket").WithDetail("bucket", bucket)
	}
	return nil
}

// PutObject uploads an object.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	ctx, span := c.startSpan(ctx, "PutObject", bucketName, "PutObject "+objectName)
	info, err := c.store.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
	finishSpan(span, err)
	if err != nil {
		return minio.UploadInfo{}, wrapError(err, "minio: put object failed").WithDetail("object", objectName)
	}
	return info, nil
}

// GetObject opens an object for reading. The caller closes it.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	ctx, span := c.startSpan(ctx, "GetObject", bucketName, "GetObject "+objectName)
	obj, err := c.store.GetObject(ctx, bucketName, objectName, opts)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: get object failed").WithDetail("object", objectName)
	}
	return obj, nil
}

// ListKeys returns the names of every object under prefix.
func (c *Client) ListKeys(ctx context.Context, bucketName, prefix string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "ListObjects", bucketName, "ListObjects "+prefix)
	var (
		keys []string
		err  error
	)
	for info := range c.store.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			err = info.Err
			break
		}
		keys = append(keys, info.Key)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: list objects failed").WithDetail("prefix", prefix)
	}
	return keys, nil
}

// Health checks the server with BucketExists, bounded by
// [DefaultHealthTimeout] when ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.HealthBucket
	if bucket == "" {
		bucket = DefaultHealthBucket
	}
	ctx, span := c.startSpan(ctx, "Health", bucket, "BucketExists "+bucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op, bucket, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
