package ctree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/ioblk"
)

func bytesCmp(a, b []byte) int { return bytes.Compare(a, b) }

func buildTree(t *testing.T, dev *ioblk.MemDevice, a *alloc.FileExtentAllocator, n int) (*Tree, []string) {
	t.Helper()
	b := NewBuilder(dev, a, bytesCmp)

	var keys []string
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%05d", i)
		keys = append(keys, k)
		if err := b.Append([]byte(k), []byte(fmt.Sprintf("val-%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	desc, err := b.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if n == 0 {
		if !desc.IsEmpty() {
			t.Fatalf("expected empty descriptor for zero entries")
		}
	} else if desc.IsEmpty() {
		t.Fatalf("expected non-empty descriptor for %d entries", n)
	}
	return Open(dev, desc, bytesCmp), keys
}

func TestBuildAndForwardIterationSmallTree(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, keys := buildTree(t, dev, a, 20)

	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if len(got) != len(keys) {
		t.Fatalf("got %d entries, want %d", len(got), len(keys))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("entry %d: got %q want %q", i, got[i], keys[i])
		}
	}
}

// TestBuildAndIterateMultiLevelTree forces a multi-level tree (leaves under
// at least one internal level) by using a tiny page size, exercising the
// cascading flush (spec.md §8 scenario S1).
func TestBuildAndIterateMultiLevelTree(t *testing.T) {
	dev := ioblk.NewMemDevice(512)
	a := alloc.NewFileExtentAllocator(0)
	tr, keys := buildTree(t, dev, a, 5000)

	desc := tr.Descriptor()
	if desc.Height < 2 {
		t.Fatalf("expected a multi-level tree for 5000 entries, got height %d", desc.Height)
	}

	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	count := 0
	prev := ""
	for it.Valid() {
		k := string(it.Key())
		if k <= prev && count > 0 {
			t.Fatalf("keys out of order: %q after %q", k, prev)
		}
		prev = k
		count++
		if err := it.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if count != len(keys) {
		t.Fatalf("forward traversal visited %d, want %d", count, len(keys))
	}
}

func TestBackwardIterationFromEnd(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, keys := buildTree(t, dev, a, 30)

	it := tr.End()
	var got []string
	for it.Prev() == nil {
		got = append(got, string(it.Key()))
	}
	if len(got) != len(keys) {
		t.Fatalf("got %d entries walking backward, want %d", len(got), len(keys))
	}
	for i := range keys {
		if got[i] != keys[len(keys)-1-i] {
			t.Fatalf("entry %d: got %q want %q", i, got[i], keys[len(keys)-1-i])
		}
	}
}

func TestPrevAtFirstReturnsNotFoundAndLeavesPositionUnchanged(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, _ := buildTree(t, dev, a, 10)

	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	firstKey := string(it.Key())
	if err := it.Prev(); err == nil {
		t.Fatalf("expected not-found stepping before the first entry")
	}
	if string(it.Key()) != firstKey {
		t.Fatalf("iterator position changed after a failed Prev")
	}
}

func TestLookupFindsExactKey(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, keys := buildTree(t, dev, a, 100)

	it, found, err := tr.Lookup([]byte(keys[42]))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found {
		t.Fatalf("expected to find %s", keys[42])
	}
	if string(it.Value()) != fmt.Sprintf("val-%d", 42) {
		t.Fatalf("got %q", it.Value())
	}
}

func TestLowerBoundAndUpperBoundBetweenKeys(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, keys := buildTree(t, dev, a, 50)

	// A key strictly between two existing entries.
	between := keys[10] + "a"
	lb, err := tr.LowerBound([]byte(between))
	if err != nil {
		t.Fatalf("lower_bound: %v", err)
	}
	if string(lb.Key()) != keys[11] {
		t.Fatalf("lower_bound(%q) = %q, want %q", between, lb.Key(), keys[11])
	}

	ub, err := tr.UpperBound([]byte(keys[10]))
	if err != nil {
		t.Fatalf("upper_bound: %v", err)
	}
	if string(ub.Key()) != keys[11] {
		t.Fatalf("upper_bound(%q) = %q, want %q", keys[10], ub.Key(), keys[11])
	}
}

func TestLowerBoundPastLastKeyIsInvalid(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, keys := buildTree(t, dev, a, 10)

	it, err := tr.LowerBound([]byte(keys[len(keys)-1] + "zzz"))
	if err != nil {
		t.Fatalf("lower_bound: %v", err)
	}
	if it.Valid() {
		t.Fatalf("expected invalid iterator past the last key")
	}
}

func TestEmptyTree(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, _ := buildTree(t, dev, a, 0)

	if !tr.IsEmpty() {
		t.Fatalf("expected empty tree")
	}
	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("begin on empty tree: %v", err)
	}
	if it.Valid() {
		t.Fatalf("expected invalid iterator on empty tree")
	}
}

// TestCorruptedNodeFailsIntegrityCheck exercises spec.md §8 scenario S6:
// flipping a byte in a written node must surface as an integrity error, not
// silently wrong data.
func TestCorruptedNodeFailsIntegrityCheck(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	tr, _ := buildTree(t, dev, a, 5)

	dev.CorruptByte(tr.Descriptor().Root.Offs, 20)

	_, err := tr.Begin()
	if err == nil {
		t.Fatalf("expected integrity error reading a corrupted node")
	}
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	b := NewBuilder(dev, a, bytesCmp)

	if err := b.Append([]byte("b"), []byte("1")); err != nil {
		t.Fatalf("append b: %v", err)
	}
	if err := b.Append([]byte("a"), []byte("2")); err == nil {
		t.Fatalf("expected error appending an out-of-order key")
	}
}

// TestCancelReturnsAllReservedPages checks that a cancelled builder leaves
// no outstanding reservation: every page it reserved is back on the
// allocator's free list (the frontier keeps its growth).
func TestCancelReturnsAllReservedPages(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	frontierBefore := a.Frontier()

	b := NewBuilder(dev, a, bytesCmp)
	for i := 0; i < 2000; i++ {
		if err := b.Append([]byte(fmt.Sprintf("k-%06d", i)), []byte("v")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := b.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if a.FreePages() != a.Frontier()-frontierBefore {
		t.Fatalf("expected every reserved page to be returned to the free list")
	}
	if a.ReservedPages() != 0 {
		t.Fatalf("expected no outstanding reservations after cancel")
	}
}
