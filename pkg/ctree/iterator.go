package ctree

import (
	"fmt"

	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
	"github.com/nainya/aulsmfs/pkg/mtree"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// Tree is a read-only handle onto a previously-built, immutable C-tree run,
// identified by its descriptor. It is grounded in the teacher's
// pkg/btree.BIter, generalized from a copy-on-write in-memory tree to pages
// fetched through a Device and verified by CRC64 on every load (spec.md
// §4.4.2, §4.4.3).
type Tree struct {
	dev  ioblk.Device
	desc ondisk.TreeDescriptor
	cmp  mtree.Comparator
}

// Open wraps desc (as returned by Builder.Finish, or loaded from an LSM
// container's tree record) for reading through dev, ordered under cmp.
func Open(dev ioblk.Device, desc ondisk.TreeDescriptor, cmp mtree.Comparator) *Tree {
	return &Tree{dev: dev, desc: desc, cmp: cmp}
}

// IsEmpty reports whether the tree holds no entries.
func (t *Tree) IsEmpty() bool { return t.desc.IsEmpty() }

// Descriptor returns the tree's on-disk descriptor.
func (t *Tree) Descriptor() ondisk.TreeDescriptor { return t.desc }

// readNode loads, CRC-verifies, and parses the node at ptr, asserting it
// was written at the given B+ tree level (spec.md §4.4.3).
func (t *Tree) readNode(ptr ondisk.Pointer, level uint64) (*Node, error) {
	if ptr.IsNull() {
		return nil, errs.Wrap("ctree.Tree.readNode", errs.ErrIntegrity,
			fmt.Errorf("attempted to read a null pointer"))
	}
	pageSize := t.dev.PageSize()
	buf := make([]byte, ptr.Size*uint64(pageSize))
	if err := t.dev.Read(buf, int(ptr.Size), ptr.Offs); err != nil {
		return nil, errs.Wrap("ctree.Tree.readNode", errs.ErrIo, err)
	}
	if checksum(buf) != ptr.Csum {
		return nil, errs.Wrap("ctree.Tree.readNode", errs.ErrIntegrity,
			fmt.Errorf("checksum mismatch at page %d", ptr.Offs))
	}
	return ParseNode(buf, level)
}

func (t *Tree) readRoot() (*Node, error) {
	return t.readNode(t.desc.Root, uint64(t.desc.Height-1))
}

// childIndex finds the largest i such that node.Key(i) <= key (0 if none),
// the standard B+ tree descent rule given that each internal entry's key is
// the minimum key of the subtree it points to.
func childIndex(node *Node, key []byte, cmp mtree.Comparator) int {
	lo, hi := 0, node.NEntries()-1
	res := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp(node.Key(mid), key) <= 0 {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return res
}

// leafSearch finds the smallest index whose key is >= key (strictGreater
// false) or > key (strictGreater true), or NEntries() if none qualify.
func leafSearch(node *Node, key []byte, cmp mtree.Comparator, strictGreater bool) int {
	lo, hi := 0, node.NEntries()
	for lo < hi {
		mid := (lo + hi) / 2
		var pastTarget bool
		if strictGreater {
			pastTarget = cmp(node.Key(mid), key) > 0
		} else {
			pastTarget = cmp(node.Key(mid), key) >= 0
		}
		if pastTarget {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// frame is one level of an iterator's descent path: the node at that level
// and the index of the entry (leaf) or child (internal) currently selected.
type frame struct {
	node *Node
	idx  int
}

// fixForward repairs a stack whose top frame's idx may be out of bounds
// (>= NEntries()), popping up and advancing ancestors until it lands on a
// valid leaf entry, or empties the stack if the tree is exhausted.
func (t *Tree) fixForward(stack []frame) ([]frame, error) {
	for {
		if len(stack) == 0 {
			return stack, nil
		}
		top := stack[len(stack)-1]
		if top.idx < top.node.NEntries() {
			if top.node.IsLeaf() {
				return stack, nil
			}
			child, err := t.readNode(top.node.ChildPointer(top.idx), top.node.Level()-1)
			if err != nil {
				return nil, err
			}
			stack = append(stack, frame{node: child, idx: 0})
			continue
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return stack, nil
		}
		stack[len(stack)-1].idx++
	}
}

// fixBackward is fixForward's mirror image for Prev.
func (t *Tree) fixBackward(stack []frame) ([]frame, error) {
	for {
		if len(stack) == 0 {
			return stack, nil
		}
		top := stack[len(stack)-1]
		if top.idx >= 0 {
			if top.node.IsLeaf() {
				return stack, nil
			}
			child, err := t.readNode(top.node.ChildPointer(top.idx), top.node.Level()-1)
			if err != nil {
				return nil, err
			}
			stack = append(stack, frame{node: child, idx: child.NEntries() - 1})
			continue
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return stack, nil
		}
		stack[len(stack)-1].idx--
	}
}

func (t *Tree) descendLeftmostFromRoot() ([]frame, error) {
	node, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	var stack []frame
	for {
		stack = append(stack, frame{node: node, idx: 0})
		if node.IsLeaf() {
			return stack, nil
		}
		child, err := t.readNode(node.ChildPointer(0), node.Level()-1)
		if err != nil {
			return nil, err
		}
		node = child
	}
}

func (t *Tree) descendRightmostFromRoot() ([]frame, error) {
	node, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	var stack []frame
	for {
		idx := node.NEntries() - 1
		stack = append(stack, frame{node: node, idx: idx})
		if node.IsLeaf() {
			return stack, nil
		}
		child, err := t.readNode(node.ChildPointer(idx), node.Level()-1)
		if err != nil {
			return nil, err
		}
		node = child
	}
}

func (t *Tree) seek(key []byte, strictGreater bool) (*Iterator, error) {
	it := &Iterator{tree: t}
	if t.desc.IsEmpty() {
		return it, nil
	}
	node, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	var stack []frame
	for !node.IsLeaf() {
		idx := childIndex(node, key, t.cmp)
		stack = append(stack, frame{node: node, idx: idx})
		child, err := t.readNode(node.ChildPointer(idx), node.Level()-1)
		if err != nil {
			return nil, err
		}
		node = child
	}
	idx := leafSearch(node, key, t.cmp, strictGreater)
	stack = append(stack, frame{node: node, idx: idx})

	fixed, err := t.fixForward(stack)
	if err != nil {
		return nil, err
	}
	it.stack = fixed
	return it, nil
}

// Begin returns an iterator at the tree's first entry (invalid if empty).
func (t *Tree) Begin() (*Iterator, error) {
	it := &Iterator{tree: t}
	if t.desc.IsEmpty() {
		return it, nil
	}
	stack, err := t.descendLeftmostFromRoot()
	if err != nil {
		return nil, err
	}
	it.stack = stack
	return it, nil
}

// End returns an iterator positioned just past the last entry.
func (t *Tree) End() *Iterator {
	return &Iterator{tree: t}
}

// LowerBound returns an iterator at the first entry with key >= key.
func (t *Tree) LowerBound(key []byte) (*Iterator, error) {
	return t.seek(key, false)
}

// UpperBound returns an iterator at the first entry with key > key.
func (t *Tree) UpperBound(key []byte) (*Iterator, error) {
	return t.seek(key, true)
}

// Lookup returns an iterator at key (found=true) or at its LowerBound
// position (found=false).
func (t *Tree) Lookup(key []byte) (*Iterator, bool, error) {
	it, err := t.LowerBound(key)
	if err != nil {
		return nil, false, err
	}
	if it.Valid() && t.cmp(it.Key(), key) == 0 {
		return it, true, nil
	}
	return it, false, nil
}

// Iterator walks a C-tree's leaves in key order via a root-to-leaf stack of
// (node, index) frames, matching the teacher's pkg/btree/iterator.go shape.
// A nil/empty stack means "positioned at end".
type Iterator struct {
	tree  *Tree
	stack []frame
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return len(it.stack) > 0 }

// Key returns the current entry's key, or nil at end.
func (it *Iterator) Key() []byte {
	if len(it.stack) == 0 {
		return nil
	}
	f := it.stack[len(it.stack)-1]
	return f.node.Key(f.idx)
}

// Value returns the current entry's value, or nil at end.
func (it *Iterator) Value() []byte {
	if len(it.stack) == 0 {
		return nil
	}
	f := it.stack[len(it.stack)-1]
	return f.node.Val(f.idx)
}

func (it *Iterator) isAtFirst() bool {
	for _, f := range it.stack {
		if f.idx != 0 {
			return false
		}
	}
	return true
}

// Next advances to the next entry; it returns errs.ErrNotFound once already
// at end (spec.md §4.4.2's "'next'/'prev' return 'no more' at the
// boundary").
func (it *Iterator) Next() error {
	if len(it.stack) == 0 {
		return errs.ErrNotFound
	}
	it.stack[len(it.stack)-1].idx++
	stack, err := it.tree.fixForward(it.stack)
	if err != nil {
		return err
	}
	it.stack = stack
	return nil
}

// Prev steps back to the previous entry. From end it moves to the last
// entry; from the first entry it returns errs.ErrNotFound, leaving the
// iterator unchanged.
func (it *Iterator) Prev() error {
	if len(it.stack) == 0 {
		if it.tree.desc.IsEmpty() {
			return errs.ErrNotFound
		}
		stack, err := it.tree.descendRightmostFromRoot()
		if err != nil {
			return err
		}
		it.stack = stack
		return nil
	}
	if it.isAtFirst() {
		return errs.ErrNotFound
	}
	it.stack[len(it.stack)-1].idx--
	stack, err := it.tree.fixBackward(it.stack)
	if err != nil {
		return err
	}
	it.stack = stack
	return nil
}
