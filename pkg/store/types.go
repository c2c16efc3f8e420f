package store

import "github.com/ssargent/ambertree/pkg/btree"

// Config holds configuration for opening a Store.
type Config struct {
	DataDir string // Directory for the store's log file
	Order   int    // B-tree node order (max children); 0 uses btree.DefaultOrder

	// FsyncOnCommit controls whether the underlying log fsyncs the data
	// region and superblock slot on every CommitRoot. config.DefaultConfig
	// sets this true; a zero-value Config (as built directly by tests that
	// don't care about crash durability) leaves it false.
	FsyncOnCommit bool
}

// StoreError represents a store-level error distinct from the underlying
// btree/storelog errors it may wrap.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

// Errors
var (
	// ErrNotOpen is returned by Get/Set/Delete/Stats when called before Open
	// or after Close.
	ErrNotOpen = &StoreError{"store is not open"}
	// ErrInvalidKey is returned when an empty key is passed to Set.
	ErrInvalidKey = &StoreError{"invalid key"}

	// ErrKeyNotFound re-exports btree.ErrKeyNotFound so callers depend only
	// on this package, not on pkg/btree directly.
	ErrKeyNotFound = btree.ErrKeyNotFound
)

// Stats summarizes a store's on-disk shape.
type Stats struct {
	KeyCount  int
	NodeCount int
	Depth     int
}
