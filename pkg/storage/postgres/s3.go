package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/meterline/pkg/billing"
)

// S3Config holds object storage settings for the invoice archive
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3API is the subset of *s3.Client the archive uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// NewS3Client builds an S3 client. Static credentials are used when both keys
// are set, otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// InvoiceArchiver stores a JSON snapshot of every issued invoice in S3.
// It implements billing.Notifier.
type InvoiceArchiver struct {
	client S3API
	bucket string
}

// NewInvoiceArchiver creates an archiver writing to bucket
func NewInvoiceArchiver(client S3API, bucket string) *InvoiceArchiver {
	return &InvoiceArchiver{client: client, bucket: bucket}
}

var _ billing.Notifier = (*InvoiceArchiver)(nil)

// ArchiveKey returns the object key for an invoice snapshot
func ArchiveKey(inv *billing.Invoice) string {
	return fmt.Sprintf("invoices/%d/%s.json", inv.TenantID, inv.InvoiceNumber)
}

// EnsureBucket creates the archive bucket when it does not exist
func (a *InvoiceArchiver) EnsureBucket(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}

	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// InvoiceIssued uploads the invoice snapshot
func (a *InvoiceArchiver) InvoiceIssued(ctx context.Context, inv *billing.Invoice) error {
	key := ArchiveKey(inv)
	ctx, span := tracer.Start(ctx, "S3.ArchiveInvoice",
		trace.WithAttributes(
			attribute.String("s3.operation", "PutObject"),
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.Int64("invoice.id", inv.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode invoice")
		return fmt.Errorf("failed to encode invoice %d: %w", inv.ID, err)
	}

	hash := sha256.Sum256(data)
	span.SetAttributes(attribute.Int("content.size", len(data)))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
			"invoice-status":  string(inv.Status),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to archive invoice %s: %w", inv.InvoiceNumber, err)
	}

	span.SetStatus(codes.Ok, "invoice archived")
	return nil
}
