package producer

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesisv1 "github.com/aws/aws-sdk-go/service/kinesis"
)

// Result is the outcome of one entry of a batch request. An empty ErrorCode means the
// entry was accepted.
type Result struct {
	ErrorCode    string
	ErrorMessage string
}

func (r Result) Failed() bool { return r.ErrorCode != "" }

// ResponseAdapter reads the failure count and the per-entry results out of a batch
// response of type R. Results must be in request order, one per entry.
type ResponseAdapter[R any] interface {
	FailedCount(R) int
	Results(R) []Result
}

// RequestKind identifies the batch API a producer delivers to.
type RequestKind int

const (
	// KindStreams sends one entry per record with Kinesis PutRecords.
	KindStreams RequestKind = iota
	// KindStreamsAggregated packs records into KPL aggregates sent with PutRecords.
	KindStreamsAggregated
	// KindFirehose sends one entry per record with Firehose PutRecordBatch.
	KindFirehose
)

// Hard per-request limits of the services.
const (
	putRecordsMaxCount     = 500
	putRecordsMaxSize      = 5 * 1024 * 1024
	putRecordBatchMaxCount = 500
	putRecordBatchMaxSize  = 4 * 1024 * 1024
	maxRecordSize          = 1024 * 1024
	firehoseMaxRecordSize  = 1000 * 1024
)

// Error codes that signal the service is shedding load.
const (
	ProvisionedThroughputExceeded = "ProvisionedThroughputExceededException"
	ServiceUnavailable            = "ServiceUnavailableException"
)

func (k RequestKind) String() string {
	switch k {
	case KindStreams:
		return "streams"
	case KindStreamsAggregated:
		return "streams_aggregated"
	case KindFirehose:
		return "firehose"
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// ParseRequestKind is the inverse of RequestKind.String.
func ParseRequestKind(s string) (RequestKind, error) {
	switch s {
	case "streams", "":
		return KindStreams, nil
	case "streams_aggregated":
		return KindStreamsAggregated, nil
	case "firehose":
		return KindFirehose, nil
	}
	return 0, fmt.Errorf("unknown request kind %q", s)
}

// limits returns the max entries and bytes per request and the max bytes per entry.
func (k RequestKind) limits() (count, size, record int) {
	switch k {
	case KindFirehose:
		return putRecordBatchMaxCount, putRecordBatchMaxSize, firehoseMaxRecordSize
	default:
		return putRecordsMaxCount, putRecordsMaxSize, maxRecordSize
	}
}

// throttleCodes returns the error codes that are reported in preference to others
// when retries are exhausted.
func (k RequestKind) throttleCodes() []string {
	switch k {
	case KindFirehose:
		return []string{ServiceUnavailable}
	default:
		return []string{ProvisionedThroughputExceeded}
	}
}

// StreamsResponses reads Kinesis PutRecords responses.
var StreamsResponses ResponseAdapter[*kinesis.PutRecordsOutput] = streamsResponses{}

type streamsResponses struct{}

func (streamsResponses) FailedCount(out *kinesis.PutRecordsOutput) int {
	if out == nil {
		return 0
	}
	return int(aws.ToInt32(out.FailedRecordCount))
}

func (streamsResponses) Results(out *kinesis.PutRecordsOutput) []Result {
	if out == nil {
		return nil
	}
	results := make([]Result, len(out.Records))
	for i, r := range out.Records {
		results[i] = Result{
			ErrorCode:    aws.ToString(r.ErrorCode),
			ErrorMessage: aws.ToString(r.ErrorMessage),
		}
	}
	return results
}

// FirehoseResponses reads Firehose PutRecordBatch responses.
var FirehoseResponses ResponseAdapter[*firehose.PutRecordBatchOutput] = firehoseResponses{}

type firehoseResponses struct{}

func (firehoseResponses) FailedCount(out *firehose.PutRecordBatchOutput) int {
	if out == nil {
		return 0
	}
	return int(aws.ToInt32(out.FailedPutCount))
}

func (firehoseResponses) Results(out *firehose.PutRecordBatchOutput) []Result {
	if out == nil {
		return nil
	}
	results := make([]Result, len(out.RequestResponses))
	for i, r := range out.RequestResponses {
		results[i] = Result{
			ErrorCode:    aws.ToString(r.ErrorCode),
			ErrorMessage: aws.ToString(r.ErrorMessage),
		}
	}
	return results
}

// LegacyStreamsResponses reads PutRecords responses of the v1 AWS SDK.
var LegacyStreamsResponses ResponseAdapter[*kinesisv1.PutRecordsOutput] = legacyStreamsResponses{}

type legacyStreamsResponses struct{}

func (legacyStreamsResponses) FailedCount(out *kinesisv1.PutRecordsOutput) int {
	if out == nil || out.FailedRecordCount == nil {
		return 0
	}
	return int(*out.FailedRecordCount)
}

func (legacyStreamsResponses) Results(out *kinesisv1.PutRecordsOutput) []Result {
	if out == nil {
		return nil
	}
	results := make([]Result, len(out.Records))
	for i, r := range out.Records {
		if r == nil {
			continue
		}
		if r.ErrorCode != nil {
			results[i].ErrorCode = *r.ErrorCode
		}
		if r.ErrorMessage != nil {
			results[i].ErrorMessage = *r.ErrorMessage
		}
	}
	return results
}
