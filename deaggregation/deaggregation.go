// Package deaggregation decodes KPL aggregated records back into the user records
// they carry.
//
// An aggregated record is laid out as
//
//	magic number (4 bytes) | AggregatedRecord protobuf message | md5(message) (16 bytes)
//
// The magic number is always checked before the digest so that blobs which were never
// aggregated are rejected without hashing them.
package deaggregation

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"

	"github.com/zacharyestep/kinesis-shipper/pb"
)

// MagicNumber prefixes every aggregated record.
var MagicNumber = []byte{0xF3, 0x89, 0x9A, 0xC2}

// ErrInvalidEncoding is matched by every *InvalidEncodingError.
var ErrInvalidEncoding = errors.New("invalid aggregated record encoding")

// InvalidEncodingError reports a blob that cannot be decoded as an aggregated record.
// It is never retryable: the blob is corrupt or was not aggregated.
type InvalidEncodingError struct {
	Reason string
	Err    error
}

func (e *InvalidEncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidEncoding, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidEncoding, e.Reason)
}

func (e *InvalidEncodingError) Is(target error) bool { return target == ErrInvalidEncoding }

func (e *InvalidEncodingError) Unwrap() error { return e.Err }

// IsAggregatedRecord reports whether target starts with the aggregation magic number.
// The digest is not verified.
func IsAggregatedRecord(target []byte) bool {
	return bytes.HasPrefix(target, MagicNumber)
}

// Verify checks the magic number and the md5 digest of target and returns the
// serialized message in between.
func Verify(target []byte) ([]byte, error) {
	if !IsAggregatedRecord(target) {
		head := target
		if len(head) > len(MagicNumber) {
			head = head[:len(MagicNumber)]
		}
		return nil, &InvalidEncodingError{Reason: fmt.Sprintf("invalid magic number %x", head)}
	}
	if len(target) < len(MagicNumber)+md5.Size {
		return nil, &InvalidEncodingError{Reason: fmt.Sprintf("record too short (%d bytes)", len(target))}
	}

	message := target[len(MagicNumber) : len(target)-md5.Size]
	digest := target[len(target)-md5.Size:]
	checkSum := md5.Sum(message)
	if !bytes.Equal(checkSum[:], digest) {
		return nil, &InvalidEncodingError{Reason: fmt.Sprintf("digest mismatch %x", digest)}
	}
	return message, nil
}

// Unmarshal verifies target and decodes the AggregatedRecord it contains.
func Unmarshal(target []byte) (*pb.AggregatedRecord, error) {
	message, err := Verify(target)
	if err != nil {
		return nil, err
	}
	aggregated := new(pb.AggregatedRecord)
	if err := aggregated.Unmarshal(message); err != nil {
		return nil, &InvalidEncodingError{Reason: "malformed message", Err: err}
	}
	return aggregated, nil
}

// ExtractRecordDatas extracts Record.Data slice from Kinesis Aggregated Record.
func ExtractRecordDatas(target []byte) ([][]byte, error) {
	aggregated, err := Unmarshal(target)
	if err != nil {
		return nil, err
	}
	records := aggregated.GetRecords()
	datas := make([][]byte, len(records))
	for i, r := range records {
		datas[i] = r.GetData()
	}
	return datas, nil
}

// Deaggregate returns the records of target together with the shared partition key,
// which lives at index 1 of the partition key table.
func Deaggregate(target []byte) ([][]byte, string, error) {
	aggregated, err := Unmarshal(target)
	if err != nil {
		return nil, "", err
	}
	table := aggregated.GetPartitionKeyTable()
	if len(table) < 2 {
		return nil, "", &InvalidEncodingError{Reason: fmt.Sprintf("partition key table has %d entries", len(table))}
	}
	records := aggregated.GetRecords()
	datas := make([][]byte, len(records))
	for i, r := range records {
		datas[i] = r.GetData()
	}
	return datas, table[1], nil
}
