package producer

// UserRecord represents an individual record handed to the producer
type UserRecord interface {
	// PartitionKey returns the partition key of the record. May be empty for
	// transports that do not route by key.
	PartitionKey() string
	// The raw data payload of the record
	Data() []byte
	// Size is the number of bytes the record is charged against batch limits: the
	// data plus the partition key.
	Size() int
}

type DataRecord struct {
	partitionKey string
	data         []byte
}

func NewDataRecord(data []byte, partitionKey string) *DataRecord {
	return &DataRecord{
		partitionKey: partitionKey,
		data:         data,
	}
}

func (r *DataRecord) PartitionKey() string { return r.partitionKey }
func (r *DataRecord) Data() []byte         { return r.data }
func (r *DataRecord) Size() int            { return len(r.data) + len(r.partitionKey) }

// RecordRequest is one wire-level entry of a batch request. For aggregated delivery
// the entry carries many UserRecords; otherwise exactly one.
type RecordRequest struct {
	Data         []byte
	PartitionKey string
	// UserRecords that are contained in this entry. Provided for failure notifications.
	UserRecords []UserRecord
}

func NewRecordRequest(data []byte, partitionKey string, userRecords []UserRecord) *RecordRequest {
	return &RecordRequest{
		Data:         data,
		PartitionKey: partitionKey,
		UserRecords:  userRecords,
	}
}

// Size is the number of bytes the entry is charged against request limits.
func (r *RecordRequest) Size() int {
	return len(r.Data) + len(r.PartitionKey)
}

func requestSize(r *RecordRequest) int { return r.Size() }
