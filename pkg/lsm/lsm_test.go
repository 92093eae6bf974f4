package lsm

import (
	"encoding/binary"
	"testing"

	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/ioblk"
)

// keyCmp orders the tests' 8-byte little-endian keys by integer value.
func keyCmp(a, b []byte) int {
	x, y := binary.LittleEndian.Uint64(a), binary.LittleEndian.Uint64(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func u64key(n uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return buf
}

func newTestLSM(t *testing.T) (*LSM, *ioblk.MemDevice) {
	t.Helper()
	dev := ioblk.NewMemDevice(512)
	a := alloc.NewFileExtentAllocator(0)
	return New(dev, a, keyCmp), dev
}

// TestSingleLayerRoundTrip exercises spec.md §8 scenario S1.
func TestSingleLayerRoundTrip(t *testing.T) {
	l, _ := newTestLSM(t)

	for _, k := range []uint64{0, 2, 4, 6, 8} {
		if err := l.Add(u64key(k), nil); err != nil {
			t.Fatalf("add %d: %v", k, err)
		}
	}
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	if err := l.Merge(2, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(2): %v", err)
	}

	it, err := l.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var got []uint64
	for it.Valid() {
		got = append(got, binary.LittleEndian.Uint64(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	want := []uint64{0, 2, 4, 6, 8}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %d want %d", i, got[i], want[i])
		}
	}

	if _, found, err := l.Lookup(u64key(4)); err != nil || !found {
		t.Fatalf("lookup(4): found=%v err=%v", found, err)
	}
	if _, found, err := l.Lookup(u64key(3)); err != nil || found {
		t.Fatalf("lookup(3): found=%v err=%v", found, err)
	}
	lb, err := l.LowerBound(u64key(3))
	if err != nil || binary.LittleEndian.Uint64(lb.Key()) != 4 {
		t.Fatalf("lower_bound(3): got %v err=%v", lb.Key(), err)
	}
	ub, err := l.UpperBound(u64key(4))
	if err != nil || binary.LittleEndian.Uint64(ub.Key()) != 6 {
		t.Fatalf("upper_bound(4): got %v err=%v", ub.Key(), err)
	}
}

// TestMultiLayerPrecedence exercises spec.md §8 scenario S3: a key present
// in both C0 and C1 is served from the newer, smaller-index layer.
func TestMultiLayerPrecedence(t *testing.T) {
	l, _ := newTestLSM(t)

	// Populate C1 first, then freeze it via merge(0) so subsequent adds
	// land in a fresh C0 while the old data stays put in C1.
	for _, kv := range []struct {
		k uint64
		v string
	}{{1, "A"}, {3, "A"}, {5, "A"}} {
		if err := l.Add(u64key(kv.k), []byte(kv.v)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	for _, kv := range []struct {
		k uint64
		v string
	}{{3, "B"}, {7, "B"}} {
		if err := l.Add(u64key(kv.k), []byte(kv.v)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	it, err := l.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	type pair struct {
		k uint64
		v string
	}
	var got []pair
	for it.Valid() {
		got = append(got, pair{binary.LittleEndian.Uint64(it.Key()), string(it.Value())})
		if err := it.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	want := []pair{{1, "A"}, {3, "B"}, {5, "A"}, {7, "B"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %v want %v", i, got[i], want[i])
		}
	}
}

// TestStagedCompaction exercises spec.md §8 scenario S4 at a reduced scale:
// interleaved merge(0)/merge(2)/merge(3) calls during bulk insertion must
// still leave every even key found and the odd keys 1..97 not-found, with
// forward and backward scans each visiting every key exactly once in order.
func TestStagedCompaction(t *testing.T) {
	l, _ := newTestLSM(t)

	const n = 20000
	for i := 0; i < n; i++ {
		if err := l.Add(u64key(uint64(2*i)), []byte("v")); err != nil {
			t.Fatalf("add: %v", err)
		}
		// merge(0) must fully drain through to an on-disk layer before it
		// can fire again (its precondition is an empty C1), so every
		// freeze is immediately cascaded into layer 2.
		if (i+1)%140 == 0 {
			if err := l.Merge(0, DefaultPolicy{}); err != nil {
				t.Fatalf("merge(0) at %d: %v", i, err)
			}
			if err := l.Merge(2, DefaultPolicy{}); err != nil {
				t.Fatalf("merge(2) at %d: %v", i, err)
			}
		}
		if (i+1)%6860 == 0 {
			if err := l.Merge(3, DefaultPolicy{}); err != nil {
				t.Fatalf("merge(3) at %d: %v", i, err)
			}
		}
	}
	// Drain the remaining in-memory layer into the on-disk stack so the
	// final scan walks a container consistent with a completed compaction
	// pass.
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("final merge(0): %v", err)
	}
	if err := l.Merge(2, DefaultPolicy{}); err != nil {
		t.Fatalf("final merge(2): %v", err)
	}

	it, err := l.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	count := 0
	for it.Valid() {
		want := uint64(2 * count)
		if got := binary.LittleEndian.Uint64(it.Key()); got != want {
			t.Fatalf("forward entry %d: got %d want %d", count, got, want)
		}
		count++
		if err := it.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if count != n {
		t.Fatalf("forward scan visited %d, want %d", count, n)
	}

	bit := l.End()
	count = 0
	for bit.Prev() == nil {
		want := uint64(2 * (n - 1 - count))
		if got := binary.LittleEndian.Uint64(bit.Key()); got != want {
			t.Fatalf("backward entry %d: got %d want %d", count, got, want)
		}
		count++
	}
	if count != n {
		t.Fatalf("backward scan visited %d, want %d", count, n)
	}

	for k := 0; k < n; k++ {
		_, found, err := l.Lookup(u64key(uint64(2 * k)))
		if err != nil || !found {
			t.Fatalf("lookup(%d): found=%v err=%v", 2*k, found, err)
		}
	}
	for k := 1; k < 50; k++ {
		_, found, err := l.Lookup(u64key(uint64(2*k - 1)))
		if err != nil || found {
			t.Fatalf("lookup(%d): expected not-found, found=%v err=%v", 2*k-1, found, err)
		}
	}
}

// TestMergeZeroRequiresC1Empty exercises the precondition on merge(0): a
// second freeze attempt while C1 already holds an unmerged run must fail
// rather than silently discarding data.
func TestMergeZeroRequiresC1Empty(t *testing.T) {
	l, _ := newTestLSM(t)
	if err := l.Add(u64key(1), []byte("a")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	if err := l.Add(u64key(2), []byte("b")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Merge(0, DefaultPolicy{}); err == nil {
		t.Fatalf("expected merge(0) to fail with C1 non-empty")
	}
}

// TestTombstoneDroppedWhenPermitted verifies that Del's tombstone, merged
// with TombstonePolicy while every layer outside the merged pair is empty,
// is dropped together with the older value it shadows.
func TestTombstoneDroppedWhenPermitted(t *testing.T) {
	l, _ := newTestLSM(t)
	if err := l.Add(u64key(1), []byte("a")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	if err := l.Merge(2, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(2): %v", err)
	}
	if err := l.Del(u64key(1)); err != nil {
		t.Fatalf("del: %v", err)
	}
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	// merge(2) here rebuilds [C1, C[0]]; C[1..7] are all still empty, so
	// drop_deleted is permitted and the tombstone can vanish for good.
	if err := l.Merge(2, TombstonePolicy{}); err != nil {
		t.Fatalf("merge(2): %v", err)
	}

	it, found, err := l.Lookup(u64key(1))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatalf("expected tombstoned key to be gone after deepest merge, got value %q", it.Value())
	}
}

// TestPrevFromEndSurfacesCtreeIntegrityError exercises spec.md §7: a CRC
// mismatch discovered while stepping an exhausted ctree layer's
// sub-iterator backward from End() must surface to the caller, not be
// swallowed as though it were the benign "no more entries" boundary
// signal.
func TestPrevFromEndSurfacesCtreeIntegrityError(t *testing.T) {
	l, dev := newTestLSM(t)

	for _, k := range []uint64{0, 2, 4} {
		if err := l.Add(u64key(k), []byte("v")); err != nil {
			t.Fatalf("add %d: %v", k, err)
		}
	}
	if err := l.Merge(0, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	if err := l.Merge(2, DefaultPolicy{}); err != nil {
		t.Fatalf("merge(2): %v", err)
	}

	root := l.ctrees[0].Root
	dev.CorruptByte(root.Offs, 8)

	it := l.End()
	if err := it.Prev(); err == nil {
		t.Fatalf("expected an integrity error stepping backward from End() over a corrupted ctree layer")
	}
}
