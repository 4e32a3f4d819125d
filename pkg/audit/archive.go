package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const archivePageSize = maxSearchLimit

var archiveTracer = otel.Tracer("github.com/platinummonkey/accessgate/pkg/audit")

// ObjectPutter is the part of the S3 API the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveStore reads and deletes stored audit events. DBLogger implements it.
type ArchiveStore interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// S3Options configures NewS3Client. Empty keys use the default credential
// chain (IAM roles, env vars, etc.).
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client for the archive bucket.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// Archiver copies expiring events to S3 as JSON lines before deleting them.
// It satisfies the retention job's cleaner, so archiving replaces a plain
// DBLogger there.
type Archiver struct {
	store  ArchiveStore
	client ObjectPutter
	bucket string
	prefix string
	logger logrus.FieldLogger
}

// NewArchiver creates an Archiver writing to bucket under prefix.
func NewArchiver(store ArchiveStore, client ObjectPutter, bucket, prefix string, logger logrus.FieldLogger) *Archiver {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Archiver{
		store:  store,
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Cleanup archives every event older than cutoff and then deletes them. If
// the upload fails nothing is deleted.
func (a *Archiver) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	archived, err := a.Archive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	removed, err := a.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	a.logger.WithFields(logrus.Fields{"archived": archived, "deleted": removed}).Debug("Archived expired audit events")
	return removed, nil
}

// Archive uploads events older than cutoff as one object and returns how
// many it wrote. No object is written when there is nothing to archive.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	// EndTime is inclusive; Cleanup deletes strictly before cutoff.
	end := cutoff.Add(-time.Nanosecond)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for offset := 0; ; offset += archivePageSize {
		page, err := a.store.Search(ctx, SearchFilter{EndTime: &end, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("failed to read audit events for archive: %w", err)
		}
		for _, event := range page {
			if err := enc.Encode(event); err != nil {
				return 0, fmt.Errorf("failed to encode audit event: %w", err)
			}
		}
		count += len(page)
		if len(page) < archivePageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	key := a.ObjectKey(cutoff)
	if err := a.put(ctx, key, buf.Bytes()); err != nil {
		return 0, err
	}
	a.logger.WithFields(logrus.Fields{"key": key, "events": count}).Info("Archived audit events")
	return count, nil
}

// ObjectKey names the archive object for a cutoff.
func (a *Archiver) ObjectKey(cutoff time.Time) string {
	return a.prefix + "audit-before-" + cutoff.UTC().Format("20060102T150405Z") + ".jsonl"
}

func (a *Archiver) put(ctx context.Context, key string, data []byte) error {
	ctx, span := archiveTracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.Int("content.size", len(data)),
		),
	)
	defer span.End()

	hash := sha256.Sum256(data)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("failed to upload audit archive: %w", err)
	}
	return nil
}
