// Package mtree implements the balanced, ordered in-memory map over
// byte-string keys that backs an LSM container's C0/C1 layers (spec.md
// §4.3). It is a red-black tree, grounded directly in
// original_source/inc/rbtree.h and lib/mtree.c (krinkinmu/fuse_example's
// `mtree`/`rb_tree`), reworked into idiomatic Go: parent pointers and color
// bits on a node struct, a caller-supplied comparator, and an iterator that
// walks successor/predecessor links rather than re-descending from the
// root.
package mtree

import (
	"bytes"

	"github.com/nainya/aulsmfs/pkg/errs"
)

// Comparator is a total order over keys: negative if a < b, zero if equal,
// positive if a > b. It must be stable and panic-free (spec.md §6).
type Comparator func(a, b []byte) int

// BytesCompare is the default Comparator, ordering keys lexicographically by
// their raw bytes. cmd/aulsmfsd and cmd/aulsmfsctl use it for volumes opened
// without a domain-specific key ordering.
func BytesCompare(a, b []byte) int { return bytes.Compare(a, b) }

type color bool

const (
	red   color = false
	black color = true
)

// node owns a copy of its key and value bytes; it is the sole owner, so
// accessors can return zero-copy slices tied to the node's lifetime
// (spec.md §9 design note).
type node struct {
	key, val            []byte
	left, right, parent *node
	c                   color
}

func (n *node) isRed() bool { return n != nil && n.c == red }

// MTree is a balanced ordered map from key to value under a caller-supplied
// comparator. Duplicate keys on Insert replace the existing entry in place;
// no extra version is retained (spec.md §4.3). MTree is not thread-safe;
// callers serialize (spec.md §5).
type MTree struct {
	root  *node
	cmp   Comparator
	count int
	bytes uint64
}

// New creates an empty ordered map under cmp.
func New(cmp Comparator) *MTree {
	return &MTree{cmp: cmp}
}

// IsEmpty reports whether the map holds no entries.
func (t *MTree) IsEmpty() bool { return t.root == nil }

// BytesUsed reports the total key+value bytes currently held.
func (t *MTree) BytesUsed() uint64 { return t.bytes }

// Len reports the number of entries.
func (t *MTree) Len() int { return t.count }

// Reset frees all nodes, matching spec.md's reset().
func (t *MTree) Reset() {
	t.root = nil
	t.count = 0
	t.bytes = 0
}

// Swap exchanges the contents of t and other in place, matching
// lib/mtree.c's mtree_swap and spec.md's C0<->C1 swap design note: both
// trees are exclusively owned by their containers, so no external reference
// survives the swap.
func (t *MTree) Swap(other *MTree) {
	t.root, other.root = other.root, t.root
	t.count, other.count = other.count, t.count
	t.bytes, other.bytes = other.bytes, t.bytes
}

// Insert adds or, on a duplicate key, replaces the existing entry in place.
// The only documented failure mode is out-of-memory (spec.md §4.3); Go's
// allocator does not signal that synchronously, so this always returns nil,
// but the signature is kept explicit so callers handle the contract
// uniformly with the rest of the engine.
func (t *MTree) Insert(key, val []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), val...)

	if t.root == nil {
		t.root = &node{key: k, val: v, c: black}
		t.count++
		t.bytes += uint64(len(k) + len(v))
		return nil
	}

	cur := t.root
	for {
		cmp := t.cmp(cur.key, k)
		switch {
		case cmp == 0:
			t.bytes += uint64(len(v)) - uint64(len(cur.val))
			cur.val = v
			return nil
		case cmp < 0:
			if cur.right == nil {
				n := &node{key: k, val: v, parent: cur, c: red}
				cur.right = n
				t.insertFixup(n)
				t.count++
				t.bytes += uint64(len(k) + len(v))
				return nil
			}
			cur = cur.right
		default:
			if cur.left == nil {
				n := &node{key: k, val: v, parent: cur, c: red}
				cur.left = n
				t.insertFixup(n)
				t.count++
				t.bytes += uint64(len(k) + len(v))
				return nil
			}
			cur = cur.left
		}
	}
}

func (t *MTree) insertFixup(n *node) {
	for n.parent != nil && n.parent.isRed() {
		parent := n.parent
		grandparent := parent.parent
		if grandparent == nil {
			break
		}
		if parent == grandparent.left {
			uncle := grandparent.right
			if uncle.isRed() {
				parent.c = black
				uncle.c = black
				grandparent.c = red
				n = grandparent
				continue
			}
			if n == parent.right {
				n = parent
				t.rotateLeft(n)
				parent = n.parent
				grandparent = parent.parent
			}
			parent.c = black
			grandparent.c = red
			t.rotateRight(grandparent)
		} else {
			uncle := grandparent.left
			if uncle.isRed() {
				parent.c = black
				uncle.c = black
				grandparent.c = red
				n = grandparent
				continue
			}
			if n == parent.left {
				n = parent
				t.rotateRight(n)
				parent = n.parent
				grandparent = parent.parent
			}
			parent.c = black
			grandparent.c = red
			t.rotateLeft(grandparent)
		}
	}
	t.root.c = black
}

func (t *MTree) rotateLeft(x *node) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *MTree) rotateRight(x *node) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func leftmost(n *node) *node {
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

func rightmost(n *node) *node {
	if n == nil {
		return nil
	}
	for n.right != nil {
		n = n.right
	}
	return n
}

// successor returns the node's in-order successor, or nil if n is the last
// node, matching original_source/lib/rbtree.c's rb_next shape.
func successor(n *node) *node {
	if n.right != nil {
		return leftmost(n.right)
	}
	cur := n
	for cur.parent != nil && cur == cur.parent.right {
		cur = cur.parent
	}
	return cur.parent
}

// predecessor returns the node's in-order predecessor, or nil if n is the
// first node.
func predecessor(n *node) *node {
	if n.left != nil {
		return rightmost(n.left)
	}
	cur := n
	for cur.parent != nil && cur == cur.parent.left {
		cur = cur.parent
	}
	return cur.parent
}

// Iterator walks the map in key order. The zero value is not usable; obtain
// one via MTree.Begin/End/LowerBound/UpperBound/Lookup. A nil current node
// means "end" (just past the last entry), matching lib/mtree.c's
// `iter->node == NULL` end sentinel.
type Iterator struct {
	tree *MTree
	cur  *node
}

// Begin returns an iterator positioned at the first entry (or at end, if
// the map is empty).
func (t *MTree) Begin() *Iterator {
	return &Iterator{tree: t, cur: leftmost(t.root)}
}

// End returns an iterator positioned just past the last entry.
func (t *MTree) End() *Iterator {
	return &Iterator{tree: t, cur: nil}
}

// LowerBound returns an iterator at the first entry with key >= key, or at
// end if none exists.
func (t *MTree) LowerBound(key []byte) *Iterator {
	var lower *node
	cur := t.root
	for cur != nil {
		if t.cmp(cur.key, key) >= 0 {
			lower = cur
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return &Iterator{tree: t, cur: lower}
}

// UpperBound returns an iterator at the first entry with key > key, or at
// end if none exists.
func (t *MTree) UpperBound(key []byte) *Iterator {
	var upper *node
	cur := t.root
	for cur != nil {
		if t.cmp(cur.key, key) <= 0 {
			cur = cur.right
		} else {
			upper = cur
			cur = cur.left
		}
	}
	return &Iterator{tree: t, cur: upper}
}

// Lookup returns an iterator at key if present (found=true), or the
// LowerBound position otherwise, mirroring lib/mtree.c's mtree_lookup.
func (t *MTree) Lookup(key []byte) (it *Iterator, found bool) {
	it = t.LowerBound(key)
	if it.cur != nil && t.cmp(it.cur.key, key) == 0 {
		return it, true
	}
	return it, false
}

// Valid reports whether the iterator is positioned at an entry (as opposed
// to end).
func (it *Iterator) Valid() bool { return it.cur != nil }

// Next advances to the next entry; it returns errs.ErrNotFound once no more
// entries remain (spec.md §4.3: "'next'/'prev' returning 'no more' at the
// boundary").
func (it *Iterator) Next() error {
	if it.cur == nil {
		return errs.ErrNotFound
	}
	it.cur = successor(it.cur)
	return nil
}

// Prev steps back to the previous entry; from end it moves to the last
// entry, matching lib/mtree.c's mtree_prev.
func (it *Iterator) Prev() error {
	if it.cur == leftmost(it.tree.root) {
		return errs.ErrNotFound
	}
	if it.cur == nil {
		it.cur = rightmost(it.tree.root)
	} else {
		it.cur = predecessor(it.cur)
	}
	return nil
}

// Key returns the current key, or nil at end (zero-copy into the node's
// owned bytes).
func (it *Iterator) Key() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.key
}

// Value returns the current value, or nil at end.
func (it *Iterator) Value() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.val
}
