package btree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ssargent/ambertree/pkg/storelog"
)

// Scenario 7: a commit followed by truncating the file by one byte must
// never silently lose a committed key on reopen — either the prior root is
// recovered (the other double-write slot still holds it) or the log is
// reported corrupt.
func TestTruncationAfterCommitNeverSilentlyLosesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")

	l, err := storelog.Open(path)
	if err != nil {
		t.Fatalf("storelog.Open: %v", err)
	}
	tr, err := Open(l, 4)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}

	if err := tr.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := tr.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Set b: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	l2, err := storelog.Open(path)
	if err != nil {
		t.Fatalf("reopen after truncation: %v", err)
	}
	defer l2.Close()

	tr2, err := Open(l2, 4)
	if err != nil {
		t.Fatalf("btree.Open after truncation: %v", err)
	}

	got, err := tr2.Get([]byte("a"))
	if err != nil {
		if !errors.Is(err, ErrCorruptLog) {
			t.Fatalf("Get a after truncation = %v, want nil or ErrCorruptLog", err)
		}
		return
	}
	if string(got) != "1" {
		t.Fatalf("Get a after truncation = %q, want %q", got, "1")
	}
}

// A file that has never been written to at all must behave like an empty
// tree, not an error.
func TestOpenBrandNewFileIsEmptyTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	l, err := storelog.Open(path)
	if err != nil {
		t.Fatalf("storelog.Open: %v", err)
	}
	defer l.Close()

	tr, err := Open(l, 4)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}

	stats, err := tr.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.KeyCount != 0 || stats.NodeCount != 0 {
		t.Fatalf("Stats on empty tree = %+v, want zero", stats)
	}
}
