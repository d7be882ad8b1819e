// Amazon Kinesis shipper
// A batch producer for Amazon Kinesis Data Streams and Firehose built on top of the
// official Go AWS SDK. Records are split into batches that respect the request limits
// of the API, optionally packed with the KPL aggregation format, and the entries the
// service rejects are resent with exponential backoff.
package producer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

// randomKeyLength is the length of the random partition keys used for aggregates
const randomKeyLength = 32

// Producer batches records.
type Producer struct {
	sync.RWMutex
	*Config
	semaphore semaphore
	records   chan UserRecord
	failure   chan *FailureRecord
	done      chan struct{}
	deliver   deliverFunc
	metrics   *Metrics

	// aggregateSize is the byte budget for the records of one aggregate
	aggregateSize int
	sleeper       *sleeper

	// notifyMu guards notify and failure. It is separate from the RWMutex because
	// Put holds a read lock while it blocks on the records channel.
	notifyMu sync.Mutex
	// notify set to true after calling to `NotifyFailures`
	notify bool

	// Current state of the Producer
	// stopped set to true after `Stop`ing the Producer.
	// This will prevent from user to `Put` any new data.
	stopped bool
}

// New creates new producer with the given config.
func New(config *Config) (*Producer, error) {
	config.defaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Producer{
		Config:    config,
		done:      make(chan struct{}),
		records:   make(chan UserRecord, config.BacklogCount),
		semaphore: make(chan struct{}, config.MaxConnections),
		metrics:   NewMetrics(config.Registerer),
	}
	if config.RequestKind == KindStreamsAggregated {
		keyLen := randomKeyLength
		if config.FixedPartitionKey != "" {
			keyLen = len(config.FixedPartitionKey)
		}
		// the entry partition key counts against the record size limit as well
		p.aggregateSize = p.recordLimit() - AggregatedSizeOffset(strings.Repeat("k", keyLen)) - keyLen
		if p.aggregateSize <= RecordSizeOffset {
			return nil, fmt.Errorf("BatchSize %d is too small to hold an aggregate", config.BatchSize)
		}
	}
	p.sleeper = newSleeper(config.Logger, p.metrics)
	p.deliver = p.newDeliverer()
	return p, nil
}

// Put `data` using `partitionKey` asynchronously. This method is thread-safe.
//
// Under the covers, the Producer will automatically re-attempt puts in case of
// transient errors.
// When unrecoverable error has detected(e.g: trying to put to in a stream that
// doesn't exist), the message will returned by the Producer.
// Add a listener with `Producer.NotifyFailures` to handle undeliverable messages.
func (p *Producer) Put(data []byte, partitionKey string) error {
	return p.PutUserRecord(NewDataRecord(data, partitionKey))
}

// PutUserRecord validates userRecord and queues it for delivery. Records that can never
// fit in a request are rejected with ErrRecordSizeExceeded.
func (p *Producer) PutUserRecord(userRecord UserRecord) error {
	record, err := p.prepare(userRecord)
	if err != nil {
		return err
	}

	p.RLock()
	defer p.RUnlock()
	if p.stopped {
		return ErrStoppedProducer
	}
	p.records <- record
	return nil
}

// recordLimit is the max bytes of one entry: the record limit of the request kind,
// lowered to BatchSize so that every entry fits in a request.
func (p *Producer) recordLimit() int {
	_, _, record := p.RequestKind.limits()
	return min(record, p.BatchSize)
}

// prepare compresses the record data, assigns a partition key where one is needed and
// checks the record against the entry size limit.
func (p *Producer) prepare(userRecord UserRecord) (UserRecord, error) {
	data := userRecord.Data()
	partitionKey := userRecord.PartitionKey()
	if p.Compression != CompressionNone {
		compressed, err := p.Compression.Compress(data)
		if err != nil {
			return nil, err
		}
		data = compressed
	}

	switch p.RequestKind {
	case KindStreams:
		if partitionKey == "" {
			partitionKey = uuid.NewString()
		}
		if len(partitionKey) > 256 {
			return nil, ErrIllegalPartitionKey
		}
		if size, limit := len(data)+len(partitionKey), p.recordLimit(); size > limit {
			return nil, recordSizeError(size, limit)
		}
	case KindStreamsAggregated:
		// records of an aggregate share the aggregate's key
		partitionKey = ""
		if size := len(data) + RecordSizeOffset; size > p.aggregateSize {
			return nil, recordSizeError(size, p.aggregateSize)
		}
	case KindFirehose:
		partitionKey = ""
		if size, limit := len(data), p.recordLimit(); size > limit {
			return nil, recordSizeError(size, limit)
		}
	}

	if p.Compression == CompressionNone && partitionKey == userRecord.PartitionKey() {
		return userRecord, nil
	}
	return &queuedRecord{UserRecord: userRecord, data: data, partitionKey: partitionKey}, nil
}

// queuedRecord is a user record whose data or partition key was rewritten on the way
// in. Failure notifications carry the record the user put.
type queuedRecord struct {
	UserRecord
	data         []byte
	partitionKey string
}

func (r *queuedRecord) PartitionKey() string { return r.partitionKey }
func (r *queuedRecord) Data() []byte         { return r.data }
func (r *queuedRecord) Size() int            { return len(r.data) + len(r.partitionKey) }

func originals(records []UserRecord) []UserRecord {
	out := make([]UserRecord, len(records))
	for i, r := range records {
		if q, ok := r.(*queuedRecord); ok {
			r = q.UserRecord
		}
		out[i] = r
	}
	return out
}

// NotifyFailures registers and return listener to handle undeliverable messages.
// The incoming struct has a copy of the Data and the PartitionKey along with some
// error information about why the publishing failed.
func (p *Producer) NotifyFailures() <-chan *FailureRecord {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if !p.notify {
		p.notify = true
		p.failure = make(chan *FailureRecord, p.BacklogCount)
	}
	return p.failure
}

// NumErrors returns the number of entries given up on after their retries were
// exhausted, whether they were dropped or sent to the failure channel.
func (p *Producer) NumErrors() int64 {
	return p.metrics.NumErrors()
}

// Start the producer
func (p *Producer) Start() {
	p.Logger.Info("starting producer", LogValue{"kind", p.RequestKind}, LogValue{"stream", p.streamName()})
	go p.loop()
}

// Stop the producer gracefully. Flushes any in-flight data.
func (p *Producer) Stop() {
	p.Lock()
	p.stopped = true
	p.Unlock()
	p.Logger.Info("stopping producer", LogValue{"backlog", len(p.records)})

	// drain
	p.done <- struct{}{}
	close(p.records)

	// wait
	<-p.done
	p.semaphore.wait(p.MaxConnections)

	// close the failures channel if we notify
	p.notifyMu.Lock()
	if p.notify {
		close(p.failure)
	}
	p.notifyMu.Unlock()
	p.Logger.Info("stopped producer")
}

// loop and flush at the configured interval, or when the buffer is exceeded.
func (p *Producer) loop() {
	var (
		drain     = false
		size      = 0
		buf       = make([]UserRecord, 0, p.ChunkCount)
		flushTick = time.NewTicker(p.FlushInterval)
	)

	flush := func(msg string) {
		p.semaphore.acquire()
		go p.flush(buf, msg)
		size = 0
		buf = make([]UserRecord, 0, p.ChunkCount)
	}

	bufAppend := func(record UserRecord) {
		rsize := record.Size()
		if len(buf) > 0 && size+rsize > p.ChunkSize {
			flush("chunk size")
		}
		size += rsize
		buf = append(buf, record)
		if len(buf) >= p.ChunkCount {
			flush("chunk length")
		}
	}

	defer flushTick.Stop()
	defer close(p.done)

	for {
		select {
		case record, ok := <-p.records:
			if drain && !ok {
				if len(buf) > 0 {
					flush("drain")
				}
				p.Logger.Info("backlog drained")
				return
			}
			bufAppend(record)
		case <-flushTick.C:
			if len(buf) > 0 {
				flush("interval")
			}
		case <-p.done:
			drain = true
		}
	}
}

// flush converts a chunk of records into entries and writes them.
func (p *Producer) flush(records []UserRecord, reason string) {
	defer p.semaphore.release()
	p.Logger.Info("flushing records", LogValue{"reason", reason}, LogValue{"records", len(records)})
	p.write(context.Background(), p.requests(records))
}

// requests converts records into wire entries: one per record, or one per aggregate
// for KindStreamsAggregated.
func (p *Producer) requests(records []UserRecord) []*RecordRequest {
	if p.RequestKind != KindStreamsAggregated {
		requests := make([]*RecordRequest, len(records))
		for i, r := range records {
			requests[i] = NewRecordRequest(r.Data(), r.PartitionKey(), originals([]UserRecord{r}))
		}
		return requests
	}

	var requests []*RecordRequest
	aggregateSize := func(r UserRecord) int { return len(r.Data()) + RecordSizeOffset }
	SplitBatches(records, math.MaxInt, p.aggregateSize, aggregateSize, func(batch []UserRecord, _ int) {
		datas := make([][]byte, len(batch))
		for i, r := range batch {
			datas[i] = r.Data()
		}
		key := p.partitionKey()
		data, err := Aggregate(datas, key)
		if err != nil {
			p.Logger.Error("aggregate records", err, LogValue{"records", len(batch)})
			p.dispatchRequests([]*RecordRequest{NewRecordRequest(nil, key, originals(batch))}, err)
			return
		}
		requests = append(requests, NewRecordRequest(data, key, originals(batch)))
	})
	return requests
}

// write splits requests into batches and delivers them in order. A batch that fails
// is retried with backoff up to ChunkRetries times; after that the records of the
// batch and of every batch after it are reported as failures.
func (p *Producer) write(ctx context.Context, requests []*RecordRequest) {
	var (
		b = &backoff.Backoff{
			Min:    p.ChunkRetryMin,
			Max:    p.ChunkRetryMax,
			Jitter: true,
		}
		batches = Batches(requests, p.BatchCount, p.BatchSize, requestSize)
	)

	for i := 0; i < len(batches); {
		err := p.deliver(ctx, batches[i])
		if err == nil {
			i++
			continue
		}

		var pending *pendingError
		if errors.As(err, &pending) {
			// resend only what is still failing
			batches[i] = pending.pending
		}

		if int(b.Attempt()) < p.ChunkRetries {
			duration := b.Duration()
			p.Logger.Error("batch delivery failed, retrying chunk", err,
				LogValue{"remaining", len(batches) - i},
				LogValue{"backoff", duration.String()},
			)
			if serr := p.sleeper.sleep(ctx, duration); serr == nil {
				continue
			}
		}

		p.Logger.Error("batch delivery failed", err, LogValue{"batches", len(batches) - i})
		for _, batch := range batches[i:] {
			p.dispatchRequests(batch, err)
		}
		return
	}
}

// partitionKey returns the key of the next aggregate
func (p *Producer) partitionKey() string {
	if p.FixedPartitionKey != "" {
		return p.FixedPartitionKey
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (p *Producer) streamName() string {
	if p.RequestKind == KindFirehose {
		return p.DeliveryStreamName
	}
	return p.StreamName
}
