// Package s3sink adapts aws-sdk-go-v2 into an audit.Sink that archives
// each event as one JSON object under a time-partitioned key, grounded on
// the teacher's integration/storage/s3.New construction idiom (a narrow
// S3Client interface, config.LoadDefaultConfig with optional static
// credentials, With-option overrides for endpoint/path-style to support
// S3-compatible services like MinIO).
package s3sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/gifton/pipelinekit/core/audit"
)

// Client is the narrow subset of the S3 API the sink needs, mirroring the
// teacher's S3Client interface so a mock can be substituted in tests.
type Client interface {
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
}

// Config configures a Sink.
type Config struct {
	Bucket         string
	Region         string
	Prefix         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string
	ForcePathStyle bool
}

// Option customizes sink construction; only used to inject a pre-built
// Client (tests, mocks) in place of a real AWS client.
type Option func(*options)

type options struct {
	client Client
}

// WithClient substitutes a pre-configured Client, bypassing AWS config
// loading entirely.
func WithClient(client Client) Option {
	return func(o *options) { o.client = client }
}

// Sink archives audit events to S3, one JSON object per event and per
// object key.
type Sink struct {
	client Client
	bucket string
	prefix string
}

// New constructs a Sink, loading AWS config (with optional static
// credentials, falling back to the ambient provider chain) unless
// WithClient overrides it.
func New(ctx context.Context, cfg Config, opts ...Option) (*Sink, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("s3sink: Bucket and Region are required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		awsOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOpts = append(awsOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("s3sink: load AWS config: %w", err)
		}
		client = s3aws.NewFromConfig(awsCfg, func(o *s3aws.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Log implements audit.Sink: one PutObject per event, keyed by date and a
// random suffix so concurrent writers never collide.
func (s *Sink) Log(ctx context.Context, evt audit.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("s3sink: marshal event: %w", err)
	}

	key := s.objectKey(evt)
	_, err = s.client.PutObject(ctx, &s3aws.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3sink: put object: %w", err)
	}
	return nil
}

func (s *Sink) objectKey(evt audit.Event) string {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	datePath := ts.UTC().Format("2006/01/02")
	if s.prefix != "" {
		return fmt.Sprintf("%s/%s/%s-%s.json", s.prefix, datePath, evt.EventType, uuid.New().String())
	}
	return fmt.Sprintf("%s/%s-%s.json", datePath, evt.EventType, uuid.New().String())
}
