package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// NoChildAddress marks a "none" child slot in a serialized node record — a
// leaf position that has no child subtree.
const NoChildAddress int64 = -1

// NodeRecord is the on-disk shape of a B-tree node: its keys, the address
// of each key's value blob, and the address of each child node blob
// (NoChildAddress for a leaf slot). It never holds resident node or value
// objects — by the time a node is stored, every descendant it references
// already has an address (see pkg/btree's store-before-serialize
// invariant), so the record is address-only.
type NodeRecord struct {
	Keys       [][]byte
	ValueAddrs []int64
	ChildAddrs []int64 // len(ChildAddrs) == len(Keys)+1
}

// EncodeNode serializes a node record as a tagged binary layout:
//
//	[KeyCount(4)] { [KeyLen(4)][Key][ValueAddr(8)] }*KeyCount [ChildAddr(8)]*(KeyCount+1)
func EncodeNode(r *NodeRecord) ([]byte, error) {
	if len(r.ValueAddrs) != len(r.Keys) {
		return nil, fmt.Errorf("codec: node record has %d keys but %d value addresses", len(r.Keys), len(r.ValueAddrs))
	}
	if len(r.ChildAddrs) != len(r.Keys)+1 {
		return nil, fmt.Errorf("codec: node record has %d keys but %d child addresses", len(r.Keys), len(r.ChildAddrs))
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(r.Keys))); err != nil {
		return nil, fmt.Errorf("codec: write key count: %w", err)
	}
	for i, k := range r.Keys {
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(k))); err != nil {
			return nil, fmt.Errorf("codec: write key %d length: %w", i, err)
		}
		if _, err := buf.Write(k); err != nil {
			return nil, fmt.Errorf("codec: write key %d: %w", i, err)
		}
		if err := binary.Write(buf, binary.LittleEndian, r.ValueAddrs[i]); err != nil {
			return nil, fmt.Errorf("codec: write value address %d: %w", i, err)
		}
	}
	for i, addr := range r.ChildAddrs {
		if err := binary.Write(buf, binary.LittleEndian, addr); err != nil {
			return nil, fmt.Errorf("codec: write child address %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeNode parses the layout EncodeNode produces.
func DecodeNode(data []byte) (*NodeRecord, error) {
	buf := bytes.NewReader(data)

	var keyCount uint32
	if err := binary.Read(buf, binary.LittleEndian, &keyCount); err != nil {
		return nil, fmt.Errorf("codec: read key count: %w", err)
	}

	r := &NodeRecord{
		Keys:       make([][]byte, keyCount),
		ValueAddrs: make([]int64, keyCount),
	}
	for i := uint32(0); i < keyCount; i++ {
		var keyLen uint32
		if err := binary.Read(buf, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("codec: read key %d length: %w", i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(buf, key); err != nil {
			return nil, fmt.Errorf("codec: read key %d: %w", i, err)
		}
		r.Keys[i] = key

		var valueAddr int64
		if err := binary.Read(buf, binary.LittleEndian, &valueAddr); err != nil {
			return nil, fmt.Errorf("codec: read value address %d: %w", i, err)
		}
		r.ValueAddrs[i] = valueAddr
	}

	childCount := keyCount + 1
	r.ChildAddrs = make([]int64, childCount)
	for i := uint32(0); i < childCount; i++ {
		var addr int64
		if err := binary.Read(buf, binary.LittleEndian, &addr); err != nil {
			return nil, fmt.Errorf("codec: read child address %d: %w", i, err)
		}
		r.ChildAddrs[i] = addr
	}

	return r, nil
}
