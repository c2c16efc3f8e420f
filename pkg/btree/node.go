package btree

import "github.com/ssargent/ambertree/pkg/codec"

// Node is a B-tree node: N strictly-increasing keys, one value reference
// per key, and N+1 child references. A nil entry in Children marks a leaf
// position; the tree is uniformly leafed, so either every entry is nil
// (leaf) or none are (internal).
type Node struct {
	Keys      [][]byte
	ValueRefs []*ValueRef
	Children  []*NodeRef
}

// IsLeaf reports whether n has no real children.
func (n *Node) IsLeaf() bool {
	for _, c := range n.Children {
		if c != nil {
			return false
		}
	}
	return true
}

// copyNode returns a shallow copy of n with freshly allocated slices, so
// mutating the copy's Keys/ValueRefs/Children never touches n. Individual
// *ValueRef and *NodeRef elements are shared (they are immutable once
// addressed, and Follow/Store are safe to share), only the containing
// slices are duplicated.
//
// Every node on the path from a mutation up to the new root must be copied
// this way before any field is changed: store() no-ops once a reference has
// an address, so mutating an already-addressed node in place would never
// be re-persisted. See DESIGN.md for the full correctness argument.
func copyNode(n *Node) *Node {
	return &Node{
		Keys:      append([][]byte(nil), n.Keys...),
		ValueRefs: append([]*ValueRef(nil), n.ValueRefs...),
		Children:  append([]*NodeRef(nil), n.Children...),
	}
}

// nodeFromRecord restores a deserialized node record as address-only
// references; nothing is read from the log until Follow is called on the
// resulting child or value references.
func nodeFromRecord(rec *codec.NodeRecord) *Node {
	n := &Node{
		Keys:      rec.Keys,
		ValueRefs: make([]*ValueRef, len(rec.ValueAddrs)),
		Children:  make([]*NodeRef, len(rec.ChildAddrs)),
	}
	for i, addr := range rec.ValueAddrs {
		n.ValueRefs[i] = ValueRefFromAddress(addr)
	}
	for i, addr := range rec.ChildAddrs {
		if addr == codec.NoChildAddress {
			continue
		}
		n.Children[i] = NodeRefFromAddress(addr)
	}
	return n
}
