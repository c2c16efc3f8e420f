// Package btree implements the copy-on-write B-tree engine: search,
// insert/split, delete/rotate/merge, and the node/value reference
// indirection that fuses lazy loading with deferred, address-assigning
// storage writeback.
package btree

import (
	"fmt"
	"sync"

	"github.com/ssargent/ambertree/pkg/codec"
	"github.com/ssargent/ambertree/pkg/log"
	"github.com/ssargent/ambertree/pkg/storelog"
)

// NoAddress marks a reference that has not yet been assigned a storage-log
// address — a freshly created or freshly mutated, dirty object.
const NoAddress int64 = -1

// NodeRef is the two-state handle described in the specification: an
// address-only reference, a resident-no-address reference (dirty, created
// or mutated in memory), or a resident-with-address reference (clean,
// cached after a read). It is never an inheritance hierarchy — just these
// two optional fields and the Follow/Store primitives that pattern-match
// which are populated.
type NodeRef struct {
	mu      sync.Mutex
	address int64
	node    *Node
}

// NewNodeRef wraps a freshly created or mutated node with no address yet.
func NewNodeRef(n *Node) *NodeRef {
	return &NodeRef{address: NoAddress, node: n}
}

// NodeRefFromAddress builds an address-only reference, as produced by
// deserializing a parent node's child list.
func NodeRefFromAddress(addr int64) *NodeRef {
	return &NodeRef{address: addr}
}

// Address reports the reference's assigned storage address, if any.
func (r *NodeRef) Address() (int64, bool) {
	if r.address == NoAddress {
		return 0, false
	}
	return r.address, true
}

// Follow returns the resident node, reading and deserializing it from the
// log on first access if necessary. The result is cached on the reference,
// guarded by a mutex since concurrent readers may resolve the same shared
// ref.
func (r *NodeRef) Follow(sl *storelog.Log) (*Node, error) {
	r.mu.Lock()
	if r.node != nil {
		n := r.node
		r.mu.Unlock()
		return n, nil
	}
	addr := r.address
	r.mu.Unlock()

	blob, err := sl.Read(addr)
	if err != nil {
		wrapped := fmt.Errorf("%w: reading node at %d: %v", ErrCorruptLog, addr, err)
		log.Errorf("btree: failed to read node", wrapped)
		return nil, wrapped
	}
	rec, err := codec.DecodeNode(blob)
	if err != nil {
		wrapped := fmt.Errorf("%w: decoding node at %d: %v", ErrCorruptLog, addr, err)
		log.Errorf("btree: failed to decode node", wrapped)
		return nil, wrapped
	}
	n := nodeFromRecord(rec)

	r.mu.Lock()
	if r.node == nil {
		r.node = n
	}
	cached := r.node
	r.mu.Unlock()
	return cached, nil
}

// Store is a no-op if the reference already has an address. Otherwise it
// recursively stores every child and value reference reachable from the
// resident node — so the serialized record below contains only valid
// addresses — then serializes and appends the node itself, assigning the
// returned address.
func (r *NodeRef) Store(sl *storelog.Log) error {
	if r.address != NoAddress {
		return nil
	}
	n := r.node

	for _, c := range n.Children {
		if c == nil {
			continue
		}
		if err := c.Store(sl); err != nil {
			return err
		}
	}
	for i, vr := range n.ValueRefs {
		if err := vr.store(sl, n.Keys[i]); err != nil {
			return err
		}
	}

	rec := &codec.NodeRecord{
		Keys:       n.Keys,
		ValueAddrs: make([]int64, len(n.ValueRefs)),
		ChildAddrs: make([]int64, len(n.Children)),
	}
	for i, vr := range n.ValueRefs {
		addr, _ := vr.Address()
		rec.ValueAddrs[i] = addr
	}
	for i, c := range n.Children {
		if c == nil {
			rec.ChildAddrs[i] = codec.NoChildAddress
			continue
		}
		addr, _ := c.Address()
		rec.ChildAddrs[i] = addr
	}

	blob, err := codec.EncodeNode(rec)
	if err != nil {
		return err
	}
	addr, err := sl.Append(blob)
	if err != nil {
		return err
	}
	r.address = addr
	return nil
}

// ValueRef is the value-specialized twin of NodeRef. Values are persisted
// independently of the node that references them, each wrapped in a
// codec.Record whose CRC32 is checked on decode, so a torn blob or an
// address that does not land on a whole record is reported as corruption.
// An address that lands on another key's intact value record is not
// detected.
type ValueRef struct {
	mu      sync.Mutex
	address int64
	value   []byte
}

// NewValueRef wraps an in-memory value with no address yet.
func NewValueRef(v []byte) *ValueRef {
	return &ValueRef{address: NoAddress, value: v}
}

// ValueRefFromAddress builds an address-only reference, as produced by
// deserializing a node's value-address list.
func ValueRefFromAddress(addr int64) *ValueRef {
	return &ValueRef{address: addr}
}

// Address reports the reference's assigned storage address, if any.
func (r *ValueRef) Address() (int64, bool) {
	if r.address == NoAddress {
		return 0, false
	}
	return r.address, true
}

// Follow returns the resident value bytes, reading and decoding the blob at
// Address on first access.
func (r *ValueRef) Follow(sl *storelog.Log) ([]byte, error) {
	r.mu.Lock()
	if r.value != nil {
		v := r.value
		r.mu.Unlock()
		return v, nil
	}
	addr := r.address
	r.mu.Unlock()

	blob, err := sl.Read(addr)
	if err != nil {
		wrapped := fmt.Errorf("%w: reading value at %d: %v", ErrCorruptLog, addr, err)
		log.Errorf("btree: failed to read value", wrapped)
		return nil, wrapped
	}
	rec, err := codec.NewRecordCodec().Decode(blob)
	if err != nil {
		wrapped := fmt.Errorf("%w: decoding value at %d: %v", ErrCorruptLog, addr, err)
		log.Errorf("btree: failed to decode value", wrapped)
		return nil, wrapped
	}

	r.mu.Lock()
	if r.value == nil {
		r.value = rec.Value
	}
	cached := r.value
	r.mu.Unlock()
	return cached, nil
}

// store is a no-op if the reference already has an address. key is the
// owning node's key at this position; the value blob carries it alongside
// the bytes, covered by the record's CRC32. Follow does not compare the
// stored key with the node's key.
func (r *ValueRef) store(sl *storelog.Log, key []byte) error {
	if r.address != NoAddress {
		return nil
	}
	blob, err := codec.NewRecordCodec().Encode(key, r.value)
	if err != nil {
		return err
	}
	addr, err := sl.Append(blob)
	if err != nil {
		return err
	}
	r.address = addr
	return nil
}
