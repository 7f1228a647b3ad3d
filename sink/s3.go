package sink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/retry"
	"github.com/justapithecus/flume/types"
)

// S3 sink defaults.
const (
	DefaultS3BatchSize     = 500
	DefaultS3BatchInterval = 30 * time.Second
	DefaultS3MaxRetries    = 3
	DefaultS3RetryDelay    = time.Second
)

// S3Config configures the S3 archive sink.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
	// BatchSize is the number of events per object (default 500).
	BatchSize int
	// BatchInterval is the max wait before a partial batch uploads
	// (default 30s).
	BatchInterval time.Duration
	// MaxRetries is the retry count per upload; zero means a single
	// attempt, and a negative value takes the default 3.
	MaxRetries int
	// RetryDelay is the base backoff delay (default 1s).
	RetryDelay time.Duration
	// Collector, when set, receives batch-loss metrics for flushes
	// with no caller to surface the error to (timer, close).
	Collector *metrics.Collector
}

// s3API is the subset of the S3 client the sink needs; tests stub it.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 archives batches of events as newline-delimited JSON objects under
// date-partitioned keys: <prefix>/YYYY/MM/DD/<uuid>.ndjson.
type S3 struct {
	cfg    S3Config
	client s3API
	batch  *BatchManager
	now    func() time.Time
}

// NewS3 creates an S3 archive sink using the AWS SDK default credential
// chain (env vars, shared config, IAM role).
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, NewError(ErrConfiguration, "s3", "configure", fmt.Errorf("s3 bucket is required"))
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewError(ErrConfiguration, "s3", "configure", fmt.Errorf("load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return newS3WithClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// newS3WithClient wires the sink around any s3API; tests pass a stub.
func newS3WithClient(cfg S3Config, client s3API) *S3 {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultS3BatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultS3BatchInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultS3MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultS3RetryDelay
	}

	s := &S3{cfg: cfg, client: client, now: time.Now}
	s.batch = NewBatchManager(cfg.BatchSize, cfg.BatchInterval, s.upload, s.reportLostBatch)
	return s
}

// reportLostBatch counts a batch dropped by a timer or close flush.
func (s *S3) reportLostBatch(batchSize int, err error) {
	s.cfg.Collector.RecordSinkWrite(s.Name()+"_batch", 0, false, batchSize, err.Error())
}

// Name implements Sink.
func (s *S3) Name() string { return "s3" }

// Write adds the event to the current archive batch.
func (s *S3) Write(ctx context.Context, event types.Event) error {
	if err := s.batch.Add(ctx, event); err != nil {
		return WrapWriteError(err, s.Name(), event)
	}
	return nil
}

// Flush uploads any buffered events immediately.
func (s *S3) Flush(ctx context.Context) error {
	return s.batch.Flush(ctx)
}

// Close uploads remaining events and stops the batch timer. Idempotent.
func (s *S3) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.batch.Close(ctx)
}

// objectKey derives the date-partitioned key for a new archive object.
func (s *S3) objectKey() string {
	day := s.now().UTC().Format("2006/01/02")
	name := uuid.NewString() + ".ndjson"
	if s.cfg.Prefix != "" {
		return s.cfg.Prefix + "/" + day + "/" + name
	}
	return day + "/" + name
}

// upload writes one batch as a single NDJSON object, retrying with
// backoff on transient failures.
func (s *S3) upload(ctx context.Context, batch []types.Event) error {
	var buf bytes.Buffer
	for _, event := range batch {
		buf.Write(event.EncodeJSON())
		buf.WriteByte('\n')
	}
	key := s.objectKey()

	op := func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return NewError(Classify(err), s.Name(), "upload", err)
		}
		return nil
	}

	return retry.Do(ctx, op, retry.Options{
		MaxRetries: s.cfg.MaxRetries,
		BaseDelay:  s.cfg.RetryDelay,
		RetryIf:    Retryable,
	})
}

// Verify S3 implements Sink and Batcher.
var (
	_ Sink    = (*S3)(nil)
	_ Batcher = (*S3)(nil)
)
