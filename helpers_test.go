package producer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	ftypes "github.com/aws/aws-sdk-go-v2/service/firehose/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	awsv1 "github.com/aws/aws-sdk-go/aws"
	kinesisv1 "github.com/aws/aws-sdk-go/service/kinesis"
)

const throttled = ProvisionedThroughputExceeded

// fakeClock is a clock whose waits advance time instantly. Each entry of short makes
// one wait return after that much time instead of the requested duration.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	short []time.Duration
	waits []time.Duration
}

func newFakeClock(short ...time.Duration) *fakeClock {
	return &fakeClock{t: time.Unix(0, 0), short: short}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if len(c.short) > 0 {
		d, c.short = c.short[0], c.short[1:]
	}
	c.t = c.t.Add(d)
	return nil
}

func (c *fakeClock) elapsed() time.Duration {
	return c.now().Sub(time.Unix(0, 0))
}

func (c *fakeClock) sleeper(logger Logger, metrics *Metrics) *sleeper {
	return &sleeper{now: c.now, wait: c.wait, logger: logger, metrics: metrics}
}

// countingBackoff hands out a fixed duration and counts resets.
type countingBackoff struct {
	d      time.Duration
	calls  int
	resets int
}

func (b *countingBackoff) Duration() time.Duration {
	b.calls++
	return b.d
}

func (b *countingBackoff) Reset() { b.resets++ }

// recordingLogger keeps every message it is given.
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...LogValue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, _ error, _ ...LogValue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) count(msgs []string, msg string) (n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		if m == msg {
			n++
		}
	}
	return
}

// resultsAdapter reads plain result slices.
type resultsAdapter struct{}

func (resultsAdapter) FailedCount(results []Result) (n int) {
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return
}

func (resultsAdapter) Results(results []Result) []Result { return results }

// scriptedSend fails the last fails[n] entries of the n-th call with code and
// records the size of every call. Calls past the script succeed.
type scriptedSend struct {
	fails []int
	code  string
	sizes []int
	sent  [][]int
}

func (s *scriptedSend) send(_ context.Context, batch []int) ([]Result, error) {
	call := len(s.sizes)
	s.sizes = append(s.sizes, len(batch))
	s.sent = append(s.sent, append([]int(nil), batch...))
	fail := 0
	if call < len(s.fails) {
		fail = s.fails[call]
	}
	results := make([]Result, len(batch))
	for i := len(batch) - fail; i < len(batch); i++ {
		results[i] = Result{ErrorCode: s.code, ErrorMessage: "Rate exceeded for shard"}
	}
	return results, nil
}

func seq(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

// kinesisResponse is one scripted answer of clientMock. Failed lists the positions of
// the entries to reject.
type kinesisResponse struct {
	Failed []int
	Error  error
}

// clientMock is a Kinesis PutRecords client. Once responses run out every call
// succeeds.
type clientMock struct {
	mu        sync.Mutex
	responses []kinesisResponse
	calls     []*kinesis.PutRecordsInput
}

func (c *clientMock) PutRecords(_ context.Context, input *kinesis.PutRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.calls)
	c.calls = append(c.calls, input)
	var res kinesisResponse
	if call < len(c.responses) {
		res = c.responses[call]
	}
	if res.Error != nil {
		return nil, res.Error
	}
	out := &kinesis.PutRecordsOutput{
		FailedRecordCount: aws.Int32(int32(len(res.Failed))),
		Records:           make([]types.PutRecordsResultEntry, len(input.Records)),
	}
	for i := range out.Records {
		out.Records[i] = types.PutRecordsResultEntry{SequenceNumber: aws.String("1"), ShardId: aws.String("shardId-000000000000")}
	}
	for _, i := range res.Failed {
		out.Records[i] = types.PutRecordsResultEntry{
			ErrorCode:    aws.String(throttled),
			ErrorMessage: aws.String("Rate exceeded for shard"),
		}
	}
	return out, nil
}

// partitionKeys returns the partition keys sent in every call
func (c *clientMock) partitionKeys() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([][]string, len(c.calls))
	for i, input := range c.calls {
		for _, r := range input.Records {
			keys[i] = append(keys[i], aws.ToString(r.PartitionKey))
		}
	}
	return keys
}

// datas returns the record data sent in every call
func (c *clientMock) datas() [][][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	datas := make([][][]byte, len(c.calls))
	for i, input := range c.calls {
		for _, r := range input.Records {
			datas[i] = append(datas[i], r.Data)
		}
	}
	return datas
}

// firehoseMock is a Firehose PutRecordBatch client.
type firehoseMock struct {
	mu        sync.Mutex
	responses []kinesisResponse
	calls     []*firehose.PutRecordBatchInput
}

func (c *firehoseMock) PutRecordBatch(_ context.Context, input *firehose.PutRecordBatchInput, _ ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.calls)
	c.calls = append(c.calls, input)
	var res kinesisResponse
	if call < len(c.responses) {
		res = c.responses[call]
	}
	if res.Error != nil {
		return nil, res.Error
	}
	out := &firehose.PutRecordBatchOutput{
		FailedPutCount:   aws.Int32(int32(len(res.Failed))),
		RequestResponses: make([]ftypes.PutRecordBatchResponseEntry, len(input.Records)),
	}
	for i := range out.RequestResponses {
		out.RequestResponses[i] = ftypes.PutRecordBatchResponseEntry{RecordId: aws.String("id")}
	}
	for _, i := range res.Failed {
		out.RequestResponses[i] = ftypes.PutRecordBatchResponseEntry{
			ErrorCode:    aws.String(ServiceUnavailable),
			ErrorMessage: aws.String("Slow down."),
		}
	}
	return out, nil
}

// legacyClientMock is an aws-sdk-go v1 Kinesis client.
type legacyClientMock struct {
	mu        sync.Mutex
	responses []kinesisResponse
	calls     []*kinesisv1.PutRecordsInput
}

func (c *legacyClientMock) PutRecords(input *kinesisv1.PutRecordsInput) (*kinesisv1.PutRecordsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.calls)
	c.calls = append(c.calls, input)
	var res kinesisResponse
	if call < len(c.responses) {
		res = c.responses[call]
	}
	if res.Error != nil {
		return nil, res.Error
	}
	out := &kinesisv1.PutRecordsOutput{
		FailedRecordCount: awsv1.Int64(int64(len(res.Failed))),
		Records:           make([]*kinesisv1.PutRecordsResultEntry, len(input.Records)),
	}
	for i := range out.Records {
		out.Records[i] = &kinesisv1.PutRecordsResultEntry{SequenceNumber: awsv1.String("3"), ShardId: awsv1.String("1")}
	}
	for _, i := range res.Failed {
		out.Records[i] = &kinesisv1.PutRecordsResultEntry{ErrorCode: awsv1.String(throttled)}
	}
	return out, nil
}

func genBulk(n int, s string) (ret []string) {
	for i := 0; i < n; i++ {
		ret = append(ret, s)
	}
	return
}
