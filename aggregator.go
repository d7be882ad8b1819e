package producer

import (
	"crypto/md5"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zacharyestep/kinesis-shipper/deaggregation"
	"github.com/zacharyestep/kinesis-shipper/pb"
)

// partitionKeyIndex is the table index every aggregated record points to. Index 0 of
// the partition key table is an unused placeholder.
const partitionKeyIndex = 1

// RecordSizeOffset is the largest number of framing bytes a single record adds to an
// aggregate, for any record up to maxRecordSize. Callers charge it per record when
// packing records against an aggregate size budget.
var RecordSizeOffset = recordFraming(maxRecordSize)

// Aggregate packs records into one KPL aggregated record that is compatible with the
// KCL's deaggregation logic. All records share partitionKey.
//
// No size limit is enforced. Callers must keep the result within the transport's max
// record size, see AggregatedSizeOffset and RecordSizeOffset.
func Aggregate(records [][]byte, partitionKey string) ([]byte, error) {
	pbRecords := make([]*pb.Record, len(records))
	for i, data := range records {
		pbRecords[i] = &pb.Record{
			PartitionKeyIndex: partitionKeyIndex,
			Data:              data,
		}
	}
	data, err := (&pb.AggregatedRecord{
		PartitionKeyTable: []string{"", partitionKey},
		Records:           pbRecords,
	}).Marshal()
	if err != nil {
		return nil, err
	}

	checkSum := md5.Sum(data)
	aggData := make([]byte, 0, len(deaggregation.MagicNumber)+len(data)+md5.Size)
	aggData = append(aggData, deaggregation.MagicNumber...)
	aggData = append(aggData, data...)
	aggData = append(aggData, checkSum[:]...)
	return aggData, nil
}

// Deaggregate returns the records and partition key packed by Aggregate. It fails with
// a *deaggregation.InvalidEncodingError if the magic number or the digest do not match.
func Deaggregate(blob []byte) ([][]byte, string, error) {
	return deaggregation.Deaggregate(blob)
}

// IsAggregated reports whether blob carries the aggregation magic number. It is a
// cheap check that does not verify the digest.
func IsAggregated(blob []byte) bool {
	return deaggregation.IsAggregatedRecord(blob)
}

// AggregatedSizeOffset returns the framing bytes of an aggregate holding a single
// one-byte record under partitionKey: magic, digest, key table and the framing of
// that one record.
func AggregatedSizeOffset(partitionKey string) int {
	data := []byte("d")
	encoded, err := Aggregate([][]byte{data}, partitionKey)
	if err != nil {
		// Marshal only fails on nil records
		panic(err)
	}
	return len(encoded) - len(data)
}

// AggregateOverhead returns the fixed bytes paid once per aggregate under
// partitionKey, independent of how many records it holds.
func AggregateOverhead(partitionKey string) int {
	data := []byte("d")
	one, err := Aggregate([][]byte{data}, partitionKey)
	if err != nil {
		panic(err)
	}
	two, err := Aggregate([][]byte{data, data}, partitionKey)
	if err != nil {
		panic(err)
	}
	return 2*len(one) - len(two)
}

// recordFraming returns the bytes a record of dataLen bytes adds to an aggregate on
// top of its data.
func recordFraming(dataLen int) int {
	inner := protowire.SizeTag(1) + protowire.SizeVarint(partitionKeyIndex)
	inner += protowire.SizeTag(3) + protowire.SizeVarint(uint64(dataLen))
	return protowire.SizeTag(3) + protowire.SizeVarint(uint64(inner+dataLen)) + inner
}
