package producer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesisv1 "github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/prometheus/client_golang/prometheus"
)

// Default configuration. Batch limits default to the API limits of the request kind.
const (
	defaultMaxRetries     = 3
	defaultChunkCount     = putRecordsMaxCount
	defaultChunkSize      = putRecordsMaxSize
	defaultFlushInterval  = 5 * time.Second
	defaultMaxConnections = 24
	defaultBacklogCount   = 2000
)

// NoRetries disables retries. A zero MaxRetries means the default.
const NoRetries = -1

// PutRecordsAPI is the part of the aws-sdk-go-v2 Kinesis client the producer uses.
type PutRecordsAPI interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// PutRecordBatchAPI is the part of the aws-sdk-go-v2 Firehose client the producer uses.
type PutRecordBatchAPI interface {
	PutRecordBatch(ctx context.Context, params *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

// LegacyPutRecordsAPI is the part of the aws-sdk-go (v1) Kinesis client the producer
// uses.
type LegacyPutRecordsAPI interface {
	PutRecords(input *kinesisv1.PutRecordsInput) (*kinesisv1.PutRecordsOutput, error)
}

// Config is the Producer configuration.
type Config struct {
	// RequestKind selects the batch API. Defaults to KindStreams.
	RequestKind RequestKind

	// StreamName is the Kinesis stream, required for the streams kinds.
	StreamName string

	// DeliveryStreamName is the Firehose delivery stream, required for KindFirehose.
	DeliveryStreamName string

	// Client is used for the streams kinds unless LegacyClient is set.
	Client PutRecordsAPI

	// LegacyClient is an aws-sdk-go v1 Kinesis client used for the streams kinds.
	LegacyClient LegacyPutRecordsAPI

	// FirehoseClient is used for KindFirehose.
	FirehoseClient PutRecordBatchAPI

	// MaxRetries is the number of resends of the failed entries of a batch.
	// Defaults to 3 when zero. Use NoRetries to disable retries.
	MaxRetries int

	// ResetBackoffIfSuccess resets the backoff whenever a retry round makes progress.
	ResetBackoffIfSuccess bool

	// DropFailedAfterRetriesExhausted drops and counts the entries still failing after
	// the last retry. Otherwise the batch fails and is retried as part of its chunk.
	DropFailedAfterRetriesExhausted bool

	// PriorityErrorCodes are reported first when retries are exhausted. Defaults to the
	// throttling error code of RequestKind.
	PriorityErrorCodes []string

	// MaxRetryWait caps the cumulative backoff of one batch. Zero means no cap.
	MaxRetryWait time.Duration

	// BatchCount is the max number of entries per request. Defaults to, and may not
	// exceed, the API limit of RequestKind.
	BatchCount int

	// BatchSize is the max bytes per request. Defaults to, and may not exceed, the API
	// limit of RequestKind.
	BatchSize int

	// ChunkCount and ChunkSize flush the buffered records once either is reached.
	ChunkCount int
	ChunkSize  int

	// FlushInterval is a regular interval for flushing the buffer. Defaults to 5s.
	FlushInterval time.Duration

	// ChunkRetries is the number of times a chunk whose delivery failed is resent
	// before its records are reported as failures.
	ChunkRetries int

	// ChunkRetryMin and ChunkRetryMax bound the backoff between chunk retries.
	ChunkRetryMin time.Duration
	ChunkRetryMax time.Duration

	// FixedPartitionKey is used for every aggregate of KindStreamsAggregated. A random
	// key is generated per aggregate when empty.
	FixedPartitionKey string

	// Compression of record data. Defaults to none.
	Compression Compression

	// MaxConnections is the number of concurrent chunk deliveries. Defaults to 24.
	MaxConnections int

	// BacklogCount is the capacity of the records and failures channels.
	BacklogCount int

	// LogTruncateMaxSize truncates records printed in logs. Zero disables truncation.
	LogTruncateMaxSize int

	// Verbose logs the result of every entry.
	Verbose bool

	// Logger is the logger used. Defaults to a standard logger on stdout.
	Logger Logger

	// Registerer receives the producer metrics. Defaults to none.
	Registerer prometheus.Registerer
}

// defaults for configuration
func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = &StdLogger{log.New(os.Stdout, "", log.LstdFlags)}
	}
	count, size, _ := c.RequestKind.limits()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PriorityErrorCodes == nil {
		c.PriorityErrorCodes = c.RequestKind.throttleCodes()
	}
	if c.BatchCount == 0 {
		c.BatchCount = count
	}
	if c.BatchSize == 0 {
		c.BatchSize = size
	}
	if c.ChunkCount == 0 {
		c.ChunkCount = defaultChunkCount
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.ChunkRetryMin == 0 {
		c.ChunkRetryMin = time.Second
	}
	if c.ChunkRetryMax == 0 {
		c.ChunkRetryMax = time.Minute
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.BacklogCount == 0 {
		c.BacklogCount = defaultBacklogCount
	}
}

// Validate reports configuration errors. It is called by New after defaults are
// applied.
func (c *Config) Validate() error {
	count, size, _ := c.RequestKind.limits()
	var errs []error
	switch c.RequestKind {
	case KindStreams, KindStreamsAggregated:
		if c.StreamName == "" {
			errs = append(errs, errors.New("StreamName is required"))
		}
		if c.Client == nil && c.LegacyClient == nil {
			errs = append(errs, errors.New("Client or LegacyClient is required"))
		}
	case KindFirehose:
		if c.DeliveryStreamName == "" {
			errs = append(errs, errors.New("DeliveryStreamName is required"))
		}
		if c.FirehoseClient == nil {
			errs = append(errs, errors.New("FirehoseClient is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown %s", c.RequestKind))
	}
	if c.BatchCount <= 0 || c.BatchCount > count {
		errs = append(errs, fmt.Errorf("BatchCount must be in (0, %d], got %d", count, c.BatchCount))
	}
	if c.BatchSize <= 0 || c.BatchSize > size {
		errs = append(errs, fmt.Errorf("BatchSize must be in (0, %d], got %d", size, c.BatchSize))
	}
	if c.ChunkCount <= 0 {
		errs = append(errs, fmt.Errorf("ChunkCount must be positive, got %d", c.ChunkCount))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ChunkSize must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkRetries < 0 {
		errs = append(errs, fmt.Errorf("ChunkRetries must not be negative, got %d", c.ChunkRetries))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("MaxConnections must be positive, got %d", c.MaxConnections))
	}
	if !c.Compression.valid() {
		errs = append(errs, fmt.Errorf("unknown compression %q", string(c.Compression)))
	}
	if c.RequestKind == KindStreamsAggregated {
		if l := len(c.FixedPartitionKey); l > 256 {
			errs = append(errs, ErrIllegalPartitionKey)
		}
	}
	return errors.Join(errs...)
}

// policy returns the retry policy of the configuration.
func (c *Config) policy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:                      c.MaxRetries,
		ResetBackoffIfSuccess:           c.ResetBackoffIfSuccess,
		DropFailedAfterRetriesExhausted: c.DropFailedAfterRetriesExhausted,
		PriorityErrorCodes:              c.PriorityErrorCodes,
		MaxRetryWait:                    c.MaxRetryWait,
	}
}
