package btree

import (
	"fmt"

	"github.com/ssargent/ambertree/pkg/log"
)

// Set inserts key/value into the tree if key is absent, or overwrites its
// value reference if present, then commits a new root. The whole operation
// is copy-on-write: every node on the path from the mutation up to the root
// is copied before any field of it changes (see copyNode), so untouched
// sibling subtrees keep their original, already-addressed references and
// Store correctly no-ops on them.
func (t *Tree) Set(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := append([]byte(nil), key...)
	valueRef := NewValueRef(append([]byte(nil), value...))

	var newRoot *NodeRef
	if t.root == nil {
		empty := &Node{Children: []*NodeRef{nil}}
		newRoot = insertAndSplit(t.order, empty, k, valueRef, nil, nil)
	} else {
		found, target, pos, stack, err := t.searchFrom(t.root, k)
		if err != nil {
			return err
		}
		if found {
			cp := copyNode(target)
			cp.ValueRefs[pos] = valueRef
			newRoot = bubbleUp(stack, cp)
		} else {
			newRoot = insertAndSplit(t.order, target, k, valueRef, nil, stack)
		}
	}

	return t.commitNewRoot(newRoot)
}

// insertAndSplit inserts (key, valueRef) into a fresh copy of target at its
// sorted position (or, when childPair is non-nil, replaces the single child
// slot at that position with the two halves of a split child), restoring
// Children's length to match. If the result does not overflow order, the
// mutated spine is bubbled up to the stack's root. Otherwise target is split
// at its midpoint and the promoted key/value is inserted into the parent
// (the top of stack, or a freshly synthesized empty parent that grows the
// tree by one level), recursing until some ancestor absorbs the promotion
// without overflowing.
func insertAndSplit(order int, target *Node, key []byte, valueRef *ValueRef, childPair []*NodeRef, stack []frame) *NodeRef {
	cp := copyNode(target)
	insertKeySorted(cp, key, valueRef, childPair)

	if len(cp.Children) <= order {
		return bubbleUp(stack, cp)
	}

	mid := len(cp.Keys) / 2
	log.Debug(fmt.Sprintf("btree: splitting node with %d keys at order %d", len(cp.Keys), order))
	left := NewNodeRef(&Node{
		Keys:      append([][]byte(nil), cp.Keys[:mid]...),
		ValueRefs: append([]*ValueRef(nil), cp.ValueRefs[:mid]...),
		Children:  append([]*NodeRef(nil), cp.Children[:mid+1]...),
	})
	right := NewNodeRef(&Node{
		Keys:      append([][]byte(nil), cp.Keys[mid+1:]...),
		ValueRefs: append([]*ValueRef(nil), cp.ValueRefs[mid+1:]...),
		Children:  append([]*NodeRef(nil), cp.Children[mid+1:]...),
	})
	promotedKey, promotedValue := cp.Keys[mid], cp.ValueRefs[mid]

	if len(stack) == 0 {
		parent := &Node{Children: []*NodeRef{nil}}
		return insertAndSplit(order, parent, promotedKey, promotedValue, []*NodeRef{left, right}, nil)
	}

	parentFrame := stack[len(stack)-1]
	return insertAndSplit(order, parentFrame.node, promotedKey, promotedValue, []*NodeRef{left, right}, stack[:len(stack)-1])
}

// insertKeySorted inserts key/valueRef into n's sorted position in place.
// When childPair is nil (a plain leaf insert), a sentinel nil child is
// appended to keep len(Children) == len(Keys)+1. When childPair is
// provided (absorbing a promoted key from a split child), it replaces the
// single child reference at the insertion position with its two halves.
func insertKeySorted(n *Node, key []byte, valueRef *ValueRef, childPair []*NodeRef) {
	pos, _ := searchNode(n, key)

	n.Keys = append(n.Keys, nil)
	copy(n.Keys[pos+1:], n.Keys[pos:])
	n.Keys[pos] = key

	n.ValueRefs = append(n.ValueRefs, nil)
	copy(n.ValueRefs[pos+1:], n.ValueRefs[pos:])
	n.ValueRefs[pos] = valueRef

	if childPair == nil {
		n.Children = append(n.Children, nil)
		return
	}

	children := make([]*NodeRef, 0, len(n.Children)+1)
	children = append(children, n.Children[:pos]...)
	children = append(children, childPair...)
	children = append(children, n.Children[pos+1:]...)
	n.Children = children
}

// bubbleUp wraps child in a fresh reference and splices it into copies of
// every ancestor in stack, from the bottom up, producing the new root
// reference. Untouched siblings of each copied ancestor keep their original
// (possibly already-addressed) references.
func bubbleUp(stack []frame, child *Node) *NodeRef {
	ref := NewNodeRef(child)
	for i := len(stack) - 1; i >= 0; i-- {
		parent := copyNode(stack[i].node)
		parent.Children[stack[i].index] = ref
		ref = NewNodeRef(parent)
	}
	return ref
}
