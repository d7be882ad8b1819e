package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	ftypes "github.com/aws/aws-sdk-go-v2/service/firehose/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	awsv1 "github.com/aws/aws-sdk-go/aws"
	kinesisv1 "github.com/aws/aws-sdk-go/service/kinesis"
)

// deliverFunc delivers one batch of entries, retrying the failed ones.
type deliverFunc func(ctx context.Context, batch []*RecordRequest) error

// pendingError is returned by the producer's give-up function when retries are
// exhausted. It keeps the entries that are still failing so the chunk retry resends
// only those.
type pendingError struct {
	err     error
	pending []*RecordRequest
}

func (e *pendingError) Error() string { return e.err.Error() }

func (e *pendingError) Unwrap() error { return e.err }

// newDeliverer resolves the transport of the configured request kind once, at
// construction.
func (p *Producer) newDeliverer() deliverFunc {
	switch {
	case p.RequestKind == KindFirehose:
		return newController(p, p.putRecordBatch, FirehoseResponses).Deliver
	case p.LegacyClient != nil:
		return newController(p, p.putRecordsLegacy, LegacyStreamsResponses).Deliver
	default:
		return newController(p, p.putRecords, StreamsResponses).Deliver
	}
}

func newController[R any](p *Producer, send SendFunc[*RecordRequest, R], adapter ResponseAdapter[R]) *RetryController[*RecordRequest, R] {
	c := NewRetryController(send, adapter, p.policy(), p.Logger, p.metrics)
	c.Describe = p.describe
	c.LogTruncateMaxSize = p.LogTruncateMaxSize
	if p.DropFailedAfterRetriesExhausted {
		drop := DropFailures(p.Logger, p.metrics, c.describe)
		c.GiveUp = func(failures []Failure[*RecordRequest]) error {
			p.dispatchFailures(failures)
			return drop(failures)
		}
	} else {
		raise := RaiseFailures(p.Logger, p.metrics, c.describe, p.PriorityErrorCodes, p.MaxRetries)
		c.GiveUp = func(failures []Failure[*RecordRequest]) error {
			pending := make([]*RecordRequest, len(failures))
			for i, f := range failures {
				pending[i] = f.Original
			}
			return &pendingError{err: raise(failures), pending: pending}
		}
	}
	return c
}

func (p *Producer) putRecords(ctx context.Context, batch []*RecordRequest) (*kinesis.PutRecordsOutput, error) {
	entries := make([]types.PutRecordsRequestEntry, len(batch))
	for i, r := range batch {
		entries[i] = types.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: aws.String(r.PartitionKey),
		}
	}
	out, err := p.Client.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(p.StreamName),
		Records:    entries,
	})
	if err != nil {
		return nil, err
	}
	if p.Verbose {
		p.logResults(StreamsResponses.Results(out))
	}
	return out, nil
}

func (p *Producer) putRecordsLegacy(_ context.Context, batch []*RecordRequest) (*kinesisv1.PutRecordsOutput, error) {
	entries := make([]*kinesisv1.PutRecordsRequestEntry, len(batch))
	for i, r := range batch {
		entries[i] = &kinesisv1.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: awsv1.String(r.PartitionKey),
		}
	}
	out, err := p.LegacyClient.PutRecords(&kinesisv1.PutRecordsInput{
		StreamName: awsv1.String(p.StreamName),
		Records:    entries,
	})
	if err != nil {
		return nil, err
	}
	if p.Verbose {
		p.logResults(LegacyStreamsResponses.Results(out))
	}
	return out, nil
}

func (p *Producer) putRecordBatch(ctx context.Context, batch []*RecordRequest) (*firehose.PutRecordBatchOutput, error) {
	records := make([]ftypes.Record, len(batch))
	for i, r := range batch {
		records[i] = ftypes.Record{Data: r.Data}
	}
	out, err := p.FirehoseClient.PutRecordBatch(ctx, &firehose.PutRecordBatchInput{
		DeliveryStreamName: aws.String(p.DeliveryStreamName),
		Records:            records,
	})
	if err != nil {
		return nil, err
	}
	if p.Verbose {
		p.logResults(FirehoseResponses.Results(out))
	}
	return out, nil
}

func (p *Producer) logResults(results []Result) {
	for i, r := range results {
		if r.Failed() {
			p.Logger.Info(fmt.Sprintf("Result[%d]", i),
				LogValue{"ErrorCode", r.ErrorCode},
				LogValue{"ErrorMessage", r.ErrorMessage},
			)
		} else {
			p.Logger.Info(fmt.Sprintf("Result[%d]", i), LogValue{"Status", "ok"})
		}
	}
}

func (p *Producer) describe(r *RecordRequest) string {
	if IsAggregated(r.Data) {
		return fmt.Sprintf("aggregate of %d records, partition key %s", len(r.UserRecords), r.PartitionKey)
	}
	return string(r.Data)
}

// dispatchFailures pushes dropped entries into the failure channel
func (p *Producer) dispatchFailures(failures []Failure[*RecordRequest]) {
	failure, ok := p.failures()
	if !ok {
		return
	}
	for _, f := range failures {
		failure <- &FailureRecord{
			Err:          ErrRetriesExhausted,
			PartitionKey: f.Original.PartitionKey,
			ErrorCode:    f.ErrorCode,
			ErrorMessage: f.ErrorMessage,
			UserRecords:  f.Original.UserRecords,
		}
	}
}

// dispatchRequests pushes every entry of requests into the failure channel with err
func (p *Producer) dispatchRequests(requests []*RecordRequest, err error) {
	p.metrics.dropped(len(requests))
	failure, ok := p.failures()
	if !ok {
		return
	}
	var code, message string
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		code, message = exhausted.ErrorCode, exhausted.ErrorMessage
	}
	for _, r := range requests {
		failure <- &FailureRecord{
			Err:          err,
			PartitionKey: r.PartitionKey,
			ErrorCode:    code,
			ErrorMessage: message,
			UserRecords:  r.UserRecords,
		}
	}
}

// failures returns the failure channel if NotifyFailures was called
func (p *Producer) failures() (chan<- *FailureRecord, bool) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	return p.failure, p.notify
}
