package btree

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/ssargent/ambertree/pkg/storelog"
)

func openTestTree(t *testing.T, order int) (*Tree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.log")
	l, err := storelog.Open(path)
	if err != nil {
		t.Fatalf("storelog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	tr, err := Open(l, order)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	return tr, path
}

// Scenario 1: basic set/get.
func TestSetGetBasic(t *testing.T) {
	tr, _ := openTestTree(t, 4)

	if err := tr.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := tr.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	got, err := tr.Get([]byte("a"))
	if err != nil || string(got) != "1" {
		t.Fatalf("Get a = (%q, %v), want (1, nil)", got, err)
	}
	got, err = tr.Get([]byte("b"))
	if err != nil || string(got) != "2" {
		t.Fatalf("Get b = (%q, %v), want (2, nil)", got, err)
	}
}

// Scenario 2: sequential insert "000".."999" then a mid-range get.
func TestSetGetSequential(t *testing.T) {
	tr, _ := openTestTree(t, 8)

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("%03d", i))
		if err := tr.Set(key, key); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	got, err := tr.Get([]byte("500"))
	if err != nil || string(got) != "500" {
		t.Fatalf("Get 500 = (%q, %v), want (500, nil)", got, err)
	}

	assertInvariants(t, tr)
}

// Scenario 3: insert "000".."999", delete "000".."498", check survivors and
// deleted keys.
func TestDeleteRange(t *testing.T) {
	tr, _ := openTestTree(t, 8)

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("%03d", i))
		if err := tr.Set(key, key); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	for i := 0; i <= 498; i++ {
		key := []byte(fmt.Sprintf("%03d", i))
		if err := tr.Delete(key); err != nil {
			t.Fatalf("Delete %s: %v", key, err)
		}
	}

	got, err := tr.Get([]byte("499"))
	if err != nil || string(got) != "499" {
		t.Fatalf("Get 499 = (%q, %v), want (499, nil)", got, err)
	}

	_, err = tr.Get([]byte("250"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get 250 = %v, want ErrKeyNotFound", err)
	}

	assertInvariants(t, tr)
}

// Scenario 4: set overwrites an existing key's value.
func TestSetOverwrite(t *testing.T) {
	tr, _ := openTestTree(t, 4)

	if err := tr.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set v1: %v", err)
	}
	if err := tr.Set([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Set v2: %v", err)
	}

	got, err := tr.Get([]byte("k"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("Get k = (%q, %v), want (v2, nil)", got, err)
	}
}

// Scenario 5: 10,000 random distinct 16-byte keys, reopened, every key
// resolves.
func TestRandomKeysSurviveReopen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large randomized test in short mode")
	}

	path := filepath.Join(t.TempDir(), "data.log")
	l, err := storelog.Open(path)
	if err != nil {
		t.Fatalf("storelog.Open: %v", err)
	}

	tr, err := Open(l, 64)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	const n = 10000
	keys := make([][]byte, 0, n)
	values := make(map[string][]byte, n)
	seen := make(map[string]bool, n)

	for len(keys) < n {
		k := make([]byte, 16)
		rng.Read(k)
		if seen[string(k)] {
			continue
		}
		seen[string(k)] = true

		v := make([]byte, 16)
		rng.Read(v)

		if err := tr.Set(k, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
		keys = append(keys, k)
		values[string(k)] = v
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := storelog.Open(path)
	if err != nil {
		t.Fatalf("reopen storelog: %v", err)
	}
	defer l2.Close()

	tr2, err := Open(l2, 64)
	if err != nil {
		t.Fatalf("reopen btree: %v", err)
	}

	for _, k := range keys {
		got, err := tr2.Get(k)
		if err != nil {
			t.Fatalf("Get %x after reopen: %v", k, err)
		}
		want := values[string(k)]
		if string(got) != string(want) {
			t.Fatalf("Get %x = %x, want %x", k, got, want)
		}
	}
}

// Scenario 6: empty file, get returns KeyNotFound.
func TestGetOnEmptyTree(t *testing.T) {
	tr, _ := openTestTree(t, 4)

	_, err := tr.Get([]byte("x"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get x = %v, want ErrKeyNotFound", err)
	}
}

func TestDeleteMissingKey(t *testing.T) {
	tr, _ := openTestTree(t, 4)

	if err := tr.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := tr.Delete([]byte("does-not-exist"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Delete missing = %v, want ErrKeyNotFound", err)
	}
}

// Deleting every inserted key should leave the tree empty and every key
// absent.
func TestDeleteAllKeysEmptiesTree(t *testing.T) {
	tr, _ := openTestTree(t, 4)

	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		if err := tr.Set(k, k); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := tr.Delete(k); err != nil {
			t.Fatalf("Delete %s: %v", k, err)
		}
	}

	stats, err := tr.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.KeyCount != 0 {
		t.Fatalf("KeyCount = %d, want 0", stats.KeyCount)
	}

	_, err = tr.Get(keys[0])
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get after full delete = %v, want ErrKeyNotFound", err)
	}
}

// Property-style test: a random mixed op stream matched against a model map.
func TestRandomOperationStreamMatchesModel(t *testing.T) {
	tr, _ := openTestTree(t, 5)

	rng := rand.New(rand.NewSource(42))
	model := make(map[string][]byte)
	var universe []string

	for i := 0; i < 3000; i++ {
		op := rng.Intn(3)
		switch {
		case op == 0 || len(universe) == 0:
			key := fmt.Sprintf("key-%d", rng.Intn(300))
			value := []byte(fmt.Sprintf("v-%d-%d", i, rng.Int()))
			if err := tr.Set([]byte(key), value); err != nil {
				t.Fatalf("Set %s: %v", key, err)
			}
			if _, ok := model[key]; !ok {
				universe = append(universe, key)
			}
			model[key] = value

		case op == 1:
			key := universe[rng.Intn(len(universe))]
			err := tr.Delete([]byte(key))
			if _, ok := model[key]; ok {
				if err != nil {
					t.Fatalf("Delete %s: %v", key, err)
				}
				delete(model, key)
			} else if !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Delete missing %s = %v, want ErrKeyNotFound", key, err)
			}

		default:
			key := universe[rng.Intn(len(universe))]
			got, err := tr.Get([]byte(key))
			want, ok := model[key]
			if ok {
				if err != nil || string(got) != string(want) {
					t.Fatalf("Get %s = (%q, %v), want (%q, nil)", key, got, err, want)
				}
			} else if !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get deleted %s = %v, want ErrKeyNotFound", key, err)
			}
		}
	}

	for key, want := range model {
		got, err := tr.Get([]byte(key))
		if err != nil || string(got) != string(want) {
			t.Fatalf("final Get %s = (%q, %v), want (%q, nil)", key, got, err, want)
		}
	}

	assertInvariants(t, tr)
}

// assertInvariants walks the whole tree checking section 8's structural
// invariants: per-node key-count bounds, strictly increasing keys, and
// uniform leaf depth.
func assertInvariants(t *testing.T, tr *Tree) {
	t.Helper()
	if tr.root == nil {
		return
	}

	leafDepth := -1
	var walk func(ref *NodeRef, depth int, isRoot bool)
	walk = func(ref *NodeRef, depth int, isRoot bool) {
		n, err := ref.Follow(tr.log)
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}

		if !isRoot {
			min := minKeys(tr.order)
			max := tr.order - 1
			if len(n.Keys) < min || len(n.Keys) > max {
				t.Fatalf("node at depth %d has %d keys, want [%d, %d]", depth, len(n.Keys), min, max)
			}
		}
		if len(n.Children) != len(n.Keys)+1 {
			t.Fatalf("node at depth %d has %d children, want %d", depth, len(n.Children), len(n.Keys)+1)
		}
		for i := 1; i < len(n.Keys); i++ {
			if string(n.Keys[i-1]) >= string(n.Keys[i]) {
				t.Fatalf("keys not strictly increasing at depth %d: %q >= %q", depth, n.Keys[i-1], n.Keys[i])
			}
		}

		if n.IsLeaf() {
			if leafDepth == -1 {
				leafDepth = depth
			} else if leafDepth != depth {
				t.Fatalf("leaf at depth %d, want uniform depth %d", depth, leafDepth)
			}
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1, false)
		}
	}
	walk(tr.root, 0, true)
}
