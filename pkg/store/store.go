// Package store wires the storelog and btree packages into the single
// entry point the CLI (and any embedding application) uses: a key/value
// store over one data file, opened once and operated on for its lifetime.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ssargent/ambertree/pkg/btree"
	"github.com/ssargent/ambertree/pkg/log"
	"github.com/ssargent/ambertree/pkg/storelog"
)

const dataFileName = "ambertree.data"

// Store is a persistent key/value store backed by a copy-on-write B-tree
// over an append-only log. A single Store must not be shared across
// processes; within a process, all exported methods are safe for
// concurrent use.
type Store struct {
	config Config

	mutex  sync.Mutex
	log    *storelog.Log
	tree   *btree.Tree
	isOpen bool
}

// New constructs a Store for the given configuration. The data directory is
// created if it does not already exist; the data file itself is not opened
// until Open is called.
func New(config Config) (*Store, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("store: DataDir is required")
	}
	if config.Order == 0 {
		config.Order = btree.DefaultOrder
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	return &Store{config: config}, nil
}

// Open opens the store's data file, recovering whatever root the storage
// log's superblock currently points at. Calling Open on an already-open
// store is a no-op.
func (s *Store) Open() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isOpen {
		return nil
	}

	path := filepath.Join(s.config.DataDir, dataFileName)
	l, err := storelog.Open(path)
	if err != nil {
		return fmt.Errorf("store: open log: %w", err)
	}
	l.SetFsyncOnCommit(s.config.FsyncOnCommit)

	tree, err := btree.Open(l, s.config.Order)
	if err != nil {
		l.Close()
		return fmt.Errorf("store: open tree: %w", err)
	}

	s.log = l
	s.tree = tree
	s.isOpen = true
	log.Info(fmt.Sprintf("store: opened %s", path))
	return nil
}

// Get retrieves the value stored for key, or ErrKeyNotFound if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, ErrNotOpen
	}
	return s.tree.Get(key)
}

// Set stores value under key, overwriting any existing value.
func (s *Store) Set(key, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return ErrNotOpen
	}
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return s.tree.Set(key, value)
}

// Delete removes key, returning ErrKeyNotFound if it is absent.
func (s *Store) Delete(key []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return ErrNotOpen
	}
	return s.tree.Delete(key)
}

// Stats returns aggregate statistics about the store's tree shape.
func (s *Store) Stats() (Stats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return Stats{}, ErrNotOpen
	}
	st, err := s.tree.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{KeyCount: st.KeyCount, NodeCount: st.NodeCount, Depth: st.Depth}, nil
}

// Close flushes and closes the underlying log. Close on an already-closed
// store is a no-op.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil
	}
	err := s.log.Close()
	s.isOpen = false
	s.log = nil
	s.tree = nil
	return err
}
