package btree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ssargent/ambertree/pkg/log"
	"github.com/ssargent/ambertree/pkg/storelog"
)

// DefaultOrder is the maximum number of children a node may have when no
// order is explicitly configured.
const DefaultOrder = 256

// ErrKeyNotFound is returned by Get/Delete when the key is absent from the
// tree. It is a normal, recoverable outcome, not a failure of the store.
var ErrKeyNotFound = errors.New("btree: key not found")

// ErrCorruptLog aliases storelog.ErrCorruptLog so that corruption detected
// either at the raw log level or while decoding a node/value record both
// satisfy the same errors.Is check.
var ErrCorruptLog = storelog.ErrCorruptLog

// ErrInvariantViolation indicates the tree's on-disk or in-memory structure
// violated an invariant the algorithms rely on — always a bug, never a
// recoverable condition.
var ErrInvariantViolation = errors.New("btree: invariant violation")

// Tree is a copy-on-write B-tree backed by a storelog.Log. It holds its own
// lock distinct from the log's: log.Append/Read are individually safe for
// concurrent use, but a single logical Set/Delete touches the log multiple
// times (storing nodes, then committing the root) and must not interleave
// with another writer's sequence of the same.
type Tree struct {
	mu    sync.RWMutex
	log   *storelog.Log
	order int
	root  *NodeRef
}

// Open constructs a Tree over log, reading whatever root is currently
// committed (or starting empty if none is). order must be at least 3; pass
// DefaultOrder when the caller has no specific requirement.
func Open(sl *storelog.Log, order int) (*Tree, error) {
	if order < 3 {
		return nil, fmt.Errorf("btree: order must be at least 3, got %d", order)
	}

	t := &Tree{log: sl, order: order}
	if addr, ok := sl.Root(); ok {
		t.root = NodeRefFromAddress(addr)
	}
	return t, nil
}

// Order reports the tree's configured maximum fan-out.
func (t *Tree) Order() int {
	return t.order
}

// Get returns the value stored for key, or ErrKeyNotFound if it is absent.
// Get may run concurrently with other Get calls and with a single writer,
// since it never mutates the tree's nodes — only Follow's lazy-load cache,
// which is independently synchronized.
func (t *Tree) Get(key []byte) ([]byte, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()

	if root == nil {
		return nil, ErrKeyNotFound
	}

	found, target, pos, _, err := t.searchFrom(root, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return target.ValueRefs[pos].Follow(t.log)
}

// commitNewRoot finalizes ref (collapsing an empty or single-child root),
// persists every dirty node and value reachable from it, publishes the
// resulting address via the log's superblock, and swaps it in as the
// tree's current root. Only after CommitRoot succeeds is t.root updated, so
// a failed commit leaves the tree's visible state unchanged.
func (t *Tree) commitNewRoot(ref *NodeRef) error {
	finalized, err := t.finalizeRoot(ref)
	if err != nil {
		return err
	}

	if finalized == nil {
		if err := t.log.CommitRoot(storelog.NoRoot); err != nil {
			return err
		}
		t.root = nil
		return nil
	}

	if err := finalized.Store(t.log); err != nil {
		return err
	}
	addr, ok := finalized.Address()
	if !ok {
		err := fmt.Errorf("%w: root has no address after Store", ErrInvariantViolation)
		log.Errorf("btree: invariant violation finalizing root", err)
		return err
	}
	if err := t.log.CommitRoot(addr); err != nil {
		return err
	}
	t.root = finalized
	log.Debug(fmt.Sprintf("btree: committed new root at address %d", addr))
	return nil
}

// finalizeRoot collapses a root that has shrunk below a useful shape: a
// leaf with zero keys means the tree is now empty (nil is returned); an
// internal node with zero keys has exactly one child, which becomes the new
// root, repeating until neither case applies.
func (t *Tree) finalizeRoot(ref *NodeRef) (*NodeRef, error) {
	for {
		n, err := ref.Follow(t.log)
		if err != nil {
			return nil, err
		}
		if len(n.Keys) > 0 {
			return ref, nil
		}
		if n.IsLeaf() {
			return nil, nil
		}
		if len(n.Children) != 1 {
			err := fmt.Errorf("%w: keyless internal root has %d children, want 1", ErrInvariantViolation, len(n.Children))
			log.Errorf("btree: invariant violation finalizing root", err)
			return nil, err
		}
		ref = n.Children[0]
	}
}

// Stats summarizes a tree's shape, as surfaced by the store's CLI stats
// command.
type Stats struct {
	KeyCount  int
	NodeCount int
	Depth     int
}

// Stats walks the entire tree to compute aggregate statistics. It is O(n)
// and intended for operational/diagnostic use, not the hot path.
func (t *Tree) Stats() (Stats, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()

	if root == nil {
		return Stats{}, nil
	}

	var s Stats
	depth, err := t.walkStats(root, 1, &s)
	if err != nil {
		return Stats{}, err
	}
	s.Depth = depth
	return s, nil
}

func (t *Tree) walkStats(ref *NodeRef, depth int, s *Stats) (int, error) {
	n, err := ref.Follow(t.log)
	if err != nil {
		return 0, err
	}
	s.NodeCount++
	s.KeyCount += len(n.Keys)

	if n.IsLeaf() {
		return depth, nil
	}

	maxDepth := depth
	for _, c := range n.Children {
		d, err := t.walkStats(c, depth+1, s)
		if err != nil {
			return 0, err
		}
		if d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth, nil
}
