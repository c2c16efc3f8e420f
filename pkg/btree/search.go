package btree

import (
	"bytes"
	"fmt"
)

// frame records one step of a descent: the node visited and the index of
// the child that was followed next. A stack of frames from the true root
// down to (but excluding) the target node is exactly the "ancestor stack"
// the specification's algorithms thread through insert/delete — represented
// as (node, child_index) pairs per the specification's Design Notes
// recommendation (a), so no identity comparison is ever needed to locate a
// node within its parent's children.
type frame struct {
	node  *Node
	index int
}

// searchNode finds key's position within n's sorted keys via binary search,
// using unsigned-byte lexicographic comparison. If found, index is the
// matching position and found is true. Otherwise index is the lower-bound
// insertion position.
func searchNode(n *Node, key []byte) (index int, found bool) {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(n.Keys[mid], key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// searchFrom descends from root looking for key, returning whether it was
// found, the node it was found at (or the leaf where it would be inserted),
// its position within that node, and the ancestor stack from root down to
// (excluding) the returned node.
func (t *Tree) searchFrom(root *NodeRef, key []byte) (found bool, target *Node, pos int, stack []frame, err error) {
	ref := root
	for {
		n, ferr := ref.Follow(t.log)
		if ferr != nil {
			return false, nil, 0, nil, ferr
		}
		idx, exact := searchNode(n, key)
		if exact {
			return true, n, idx, stack, nil
		}
		if n.Children[idx] != nil {
			stack = append(stack, frame{node: n, index: idx})
			ref = n.Children[idx]
			continue
		}
		return false, n, idx, stack, nil
	}
}

// leftmostKey follows ref and then always its first child until a leaf is
// reached, returning the leaf's first key — the successor lookup from
// section 4.3: "the leftmost key in the right subtree".
func (t *Tree) leftmostKey(ref *NodeRef) ([]byte, error) {
	for {
		n, err := ref.Follow(t.log)
		if err != nil {
			return nil, err
		}
		if n.IsLeaf() {
			if len(n.Keys) == 0 {
				return nil, fmt.Errorf("%w: successor leaf has no keys", ErrInvariantViolation)
			}
			return n.Keys[0], nil
		}
		ref = n.Children[0]
	}
}
