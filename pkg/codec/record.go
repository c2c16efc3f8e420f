// Package codec defines the binary payload formats stored inside storage-log
// blobs: value records (this file) and B-tree node records (node.go).
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Record is the payload written for a value blob. It carries the original
// key alongside the value. Validate checks only the record's own CRC32: it
// catches damaged bytes, but an intact record written for a different key
// passes it.
type Record struct {
	CRC32     uint32 // CRC32 checksum over everything below
	KeySize   uint32
	ValueSize uint32
	Timestamp uint64 // Unix timestamp in nanoseconds
	Key       []byte
	Value     []byte
}

// RecordCodec serializes and deserializes Records.
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance.
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// Encode serializes key/value into a binary record.
// Format: [CRC32(4)][KeySize(4)][ValueSize(4)][Timestamp(8)][Key][Value]
func (c *RecordCodec) Encode(key, value []byte) ([]byte, error) {
	r := NewRecord(key, value)
	r.CRC32 = r.calculateCRC32()

	buf := bytes.NewBuffer(make([]byte, 0, r.Size()))
	if err := binary.Write(buf, binary.LittleEndian, r.CRC32); err != nil {
		return nil, fmt.Errorf("codec: write crc32: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, r.KeySize); err != nil {
		return nil, fmt.Errorf("codec: write key size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, r.ValueSize); err != nil {
		return nil, fmt.Errorf("codec: write value size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Timestamp); err != nil {
		return nil, fmt.Errorf("codec: write timestamp: %w", err)
	}
	buf.Write(r.Key)
	buf.Write(r.Value)
	return buf.Bytes(), nil
}

// Decode deserializes a binary record, validating its CRC32 in the process.
func (c *RecordCodec) Decode(data []byte) (*Record, error) {
	const headerSize = 20
	if len(data) < headerSize {
		return nil, fmt.Errorf("codec: record too short: %d bytes", len(data))
	}

	r := &Record{
		CRC32:     binary.LittleEndian.Uint32(data[0:4]),
		KeySize:   binary.LittleEndian.Uint32(data[4:8]),
		ValueSize: binary.LittleEndian.Uint32(data[8:12]),
		Timestamp: binary.LittleEndian.Uint64(data[12:20]),
	}

	want := headerSize + int(r.KeySize) + int(r.ValueSize)
	if len(data) != want {
		return nil, fmt.Errorf("codec: record length %d does not match header (want %d)", len(data), want)
	}

	r.Key = append([]byte(nil), data[headerSize:headerSize+int(r.KeySize)]...)
	r.Value = append([]byte(nil), data[headerSize+int(r.KeySize):]...)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate recomputes the CRC32 and compares it against the stored value.
func (r *Record) Validate() error {
	if got := r.calculateCRC32(); got != r.CRC32 {
		return fmt.Errorf("codec: crc32 mismatch: stored %08x, computed %08x", r.CRC32, got)
	}
	return nil
}

// Size returns the total encoded size of the record.
func (r *Record) Size() int {
	return 20 + len(r.Key) + len(r.Value)
}

// NewRecord creates a new record with the current timestamp.
func NewRecord(key, value []byte) *Record {
	return &Record{
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(value)),
		Timestamp: uint64(time.Now().UnixNano()),
		Key:       key,
		Value:     value,
	}
}

// calculateCRC32 computes the checksum over KeySize + ValueSize + Timestamp
// + Key + Value (i.e. everything but the stored CRC32 field itself).
func (r *Record) calculateCRC32() uint32 {
	crc := crc32.NewIEEE()
	binary.Write(crc, binary.LittleEndian, r.KeySize)
	binary.Write(crc, binary.LittleEndian, r.ValueSize)
	binary.Write(crc, binary.LittleEndian, r.Timestamp)
	crc.Write(r.Key)
	crc.Write(r.Value)
	return crc.Sum32()
}
