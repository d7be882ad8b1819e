// Package pb implements the protobuf wire encoding of the messages used by the KPL
// aggregation format:
//
//	message AggregatedRecord {
//	  repeated string partition_key_table     = 1;
//	  repeated string explicit_hash_key_table = 2;
//	  repeated Record records                 = 3;
//	}
//
//	message Tag {
//	  required string key   = 1;
//	  optional string value = 2;
//	}
//
//	message Record {
//	  required uint64 partition_key_index     = 1;
//	  optional uint64 explicit_hash_key_index = 2;
//	  required bytes  data                    = 3;
//	  repeated Tag    tags                    = 4;
//	}
//
// The messages are small and fixed, so they are encoded directly with protowire
// instead of going through generated descriptors.
package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMissingData is returned when a Record on the wire has no data field.
var ErrMissingData = errors.New("pb: record is missing required field data")

type AggregatedRecord struct {
	PartitionKeyTable    []string
	ExplicitHashKeyTable []string
	Records              []*Record
}

type Record struct {
	PartitionKeyIndex    uint64
	ExplicitHashKeyIndex *uint64
	Data                 []byte
	Tags                 []*Tag
}

type Tag struct {
	Key   string
	Value *string
}

func (m *AggregatedRecord) GetPartitionKeyTable() []string {
	if m == nil {
		return nil
	}
	return m.PartitionKeyTable
}

func (m *AggregatedRecord) GetRecords() []*Record {
	if m == nil {
		return nil
	}
	return m.Records
}

func (r *Record) GetPartitionKeyIndex() uint64 {
	if r == nil {
		return 0
	}
	return r.PartitionKeyIndex
}

func (r *Record) GetData() []byte {
	if r == nil {
		return nil
	}
	return r.Data
}

// Size returns the encoded size of the message in bytes.
func (m *AggregatedRecord) Size() (n int) {
	for _, k := range m.PartitionKeyTable {
		n += protowire.SizeTag(1) + protowire.SizeBytes(len(k))
	}
	for _, k := range m.ExplicitHashKeyTable {
		n += protowire.SizeTag(2) + protowire.SizeBytes(len(k))
	}
	for _, r := range m.Records {
		n += protowire.SizeTag(3) + protowire.SizeBytes(r.Size())
	}
	return n
}

// Marshal encodes the message in protobuf wire format.
func (m *AggregatedRecord) Marshal() ([]byte, error) {
	b := make([]byte, 0, m.Size())
	for _, k := range m.PartitionKeyTable {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, k := range m.ExplicitHashKeyTable {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, r := range m.Records {
		if r == nil {
			return nil, errors.New("pb: nil record")
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(r.Size()))
		b = r.appendTo(b)
	}
	return b, nil
}

// Unmarshal decodes b into m, replacing its contents. Unknown fields are skipped.
func (m *AggregatedRecord) Unmarshal(b []byte) error {
	*m = AggregatedRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.PartitionKeyTable = append(m.PartitionKeyTable, v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.ExplicitHashKeyTable = append(m.ExplicitHashKeyTable, v)
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r := new(Record)
			if err := r.unmarshal(v); err != nil {
				return fmt.Errorf("record %d: %w", len(m.Records), err)
			}
			m.Records = append(m.Records, r)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Size returns the encoded size of the record, without its own tag and length prefix.
func (r *Record) Size() (n int) {
	n += protowire.SizeTag(1) + protowire.SizeVarint(r.PartitionKeyIndex)
	if r.ExplicitHashKeyIndex != nil {
		n += protowire.SizeTag(2) + protowire.SizeVarint(*r.ExplicitHashKeyIndex)
	}
	n += protowire.SizeTag(3) + protowire.SizeBytes(len(r.Data))
	for _, t := range r.Tags {
		n += protowire.SizeTag(4) + protowire.SizeBytes(t.size())
	}
	return n
}

func (r *Record) appendTo(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.PartitionKeyIndex)
	if r.ExplicitHashKeyIndex != nil {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, *r.ExplicitHashKeyIndex)
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Data)
	for _, t := range r.Tags {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(t.size()))
		b = t.appendTo(b)
	}
	return b
}

func (r *Record) unmarshal(b []byte) error {
	var hasData bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.PartitionKeyIndex = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.ExplicitHashKeyIndex = &v
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			// copy so the record does not alias the caller's buffer
			r.Data = make([]byte, len(v))
			copy(r.Data, v)
			hasData = true
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			t := new(Tag)
			if err := t.unmarshal(v); err != nil {
				return err
			}
			r.Tags = append(r.Tags, t)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if !hasData {
		return ErrMissingData
	}
	return nil
}

func (t *Tag) size() (n int) {
	n += protowire.SizeTag(1) + protowire.SizeBytes(len(t.Key))
	if t.Value != nil {
		n += protowire.SizeTag(2) + protowire.SizeBytes(len(*t.Value))
	}
	return n
}

func (t *Tag) appendTo(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, t.Key)
	if t.Value != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, *t.Value)
	}
	return b
}

func (t *Tag) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			t.Key = v
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			t.Value = &v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
