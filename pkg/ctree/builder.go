package ctree

import (
	"fmt"

	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
	"github.com/nainya/aulsmfs/pkg/mtree"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// reservation remembers one contiguous range obtained through one or more
// allocator.Reserve calls (see trackReservation) so Builder can later
// Commit (on Finish) or Cancel (on failure/Cancel) every page it touched.
type reservation struct {
	offset, size uint64
}

// Builder bulk-builds an immutable C-tree from entries appended in
// increasing key order, following spec.md §4.4.1's append-only,
// bottom-up fill algorithm. It is grounded in the teacher's pkg/btree
// split/merge machinery reworked from copy-on-write mutation into a single
// forward pass: entries accumulate in a level-0 buffer; once that buffer is
// full it is flushed to disk and a separator entry is pushed into level 1,
// cascading upward exactly like a classic bulk-loaded B+ tree.
type Builder struct {
	dev       ioblk.Device
	allocator alloc.Allocator
	cmp       mtree.Comparator
	pageSize  int

	levels       []*Node
	reservations []reservation
	pagesWritten uint64

	lastKey  []byte
	hasEntry bool
	finished bool
}

// NewBuilder creates a Builder writing pages through dev and allocating
// space through allocator, ordering entries under cmp (the same
// caller-supplied comparator the rest of the engine uses; spec.md §6).
func NewBuilder(dev ioblk.Device, allocator alloc.Allocator, cmp mtree.Comparator) *Builder {
	return &Builder{
		dev:       dev,
		allocator: allocator,
		cmp:       cmp,
		pageSize:  dev.PageSize(),
	}
}

// Append adds one entry to the tree under construction. Keys must be
// supplied in strictly increasing order (spec.md §4.4.1); Append returns an
// integrity error if that invariant is violated.
func (b *Builder) Append(key, val []byte) error {
	if b.finished {
		return errs.Wrap("ctree.Builder.Append", errs.ErrIntegrity,
			fmt.Errorf("append after Finish/Cancel"))
	}
	if b.hasEntry && b.cmp(b.lastKey, key) >= 0 {
		return errs.Wrap("ctree.Builder.Append", errs.ErrIntegrity,
			fmt.Errorf("keys not strictly increasing"))
	}
	b.lastKey = append([]byte(nil), key...)
	b.hasEntry = true
	return b.appendAtLevel(0, key, val)
}

func (b *Builder) appendAtLevel(level int, key, val []byte) error {
	for len(b.levels) <= level {
		b.levels = append(b.levels, NewNode(uint64(len(b.levels))))
	}
	n := b.levels[level]

	entrySize := EntrySize(key, val)
	if n.NEntries() >= ondisk.MinFanout && n.WouldSpanMorePages(entrySize, b.pageSize) {
		if err := b.flush(level); err != nil {
			return err
		}
		n = b.levels[level]
	}
	return n.Append(key, val)
}

// flush writes the in-progress node at level to disk and pushes a
// separator entry (first key, child pointer) into level+1, then resets
// level's buffer to a fresh empty node (spec.md §4.4.1).
func (b *Builder) flush(level int) error {
	n := b.levels[level]
	if n.NEntries() == 0 {
		return nil
	}
	firstKey := append([]byte(nil), n.Key(0)...)

	ptr, err := b.writeNode(n)
	if err != nil {
		return err
	}

	var valBuf [ondisk.PointerSize]byte
	ptr.Encode(valBuf[:])

	b.levels[level] = NewNode(uint64(level))
	return b.appendAtLevel(level+1, firstKey, valBuf[:])
}

// writeNode pages-aligns, checksums, reserves space for, and writes a
// single node. It does not commit the reservation; Finish commits every
// tracked reservation once the whole tree has been written successfully.
func (b *Builder) writeNode(n *Node) (ondisk.Pointer, error) {
	buf := n.Finalize(b.pageSize)
	pages := uint64(len(buf)) / uint64(b.pageSize)

	offset, err := b.allocator.Reserve(pages)
	if err != nil {
		return ondisk.Pointer{}, errs.Wrap("ctree.Builder.writeNode", errs.ErrOutOfSpace, err)
	}
	b.trackReservation(offset, pages)

	if err := b.dev.Write(buf, int(pages), offset); err != nil {
		return ondisk.Pointer{}, errs.Wrap("ctree.Builder.writeNode", errs.ErrIo, err)
	}
	b.pagesWritten += pages

	return ondisk.Pointer{
		Offs: offset,
		Size: pages,
		Csum: checksum(buf),
	}, nil
}

// Finish cascades a flush of every non-empty level below the top, writes
// the top-most non-empty node as the tree's root, commits every page the
// builder reserved, and returns the resulting descriptor. An empty builder
// (no entries ever appended) returns the zero (height-0, "empty") descriptor
// (spec.md §4.4.1).
func (b *Builder) Finish() (ondisk.TreeDescriptor, error) {
	if b.finished {
		return ondisk.TreeDescriptor{}, errs.Wrap("ctree.Builder.Finish", errs.ErrIntegrity,
			fmt.Errorf("Finish/Cancel called more than once"))
	}
	b.finished = true

	if !b.hasEntry {
		return ondisk.TreeDescriptor{}, nil
	}

	for {
		topIdx, topNonEmptyCount := -1, 0
		lowestNonEmpty := -1
		for i, lvl := range b.levels {
			if lvl.NEntries() > 0 {
				topNonEmptyCount++
				topIdx = i
				if lowestNonEmpty == -1 {
					lowestNonEmpty = i
				}
			}
		}
		if topNonEmptyCount <= 1 {
			root := b.levels[topIdx]
			ptr, err := b.writeNode(root)
			if err != nil {
				b.cancelAll()
				return ondisk.TreeDescriptor{}, err
			}
			if err := b.commitAll(); err != nil {
				return ondisk.TreeDescriptor{}, err
			}
			if err := b.dev.Sync(); err != nil {
				return ondisk.TreeDescriptor{}, errs.Wrap("ctree.Builder.Finish", errs.ErrIo, err)
			}
			return ondisk.TreeDescriptor{
				Root:   ptr,
				Pages:  uint32(b.pagesWritten),
				Height: uint32(topIdx + 1),
			}, nil
		}
		if err := b.flush(lowestNonEmpty); err != nil {
			b.cancelAll()
			return ondisk.TreeDescriptor{}, err
		}
	}
}

// Cancel aborts construction, returning every page the builder reserved
// back to the allocator (spec.md §8 invariant 7).
func (b *Builder) Cancel() error {
	if b.finished {
		return nil
	}
	b.finished = true
	return b.cancelAll()
}

// trackReservation remembers one allocator.Reserve call, merging it into the
// last tracked range when the two are contiguous so a long-running build
// doesn't accumulate one bookkeeping entry per flushed node (spec.md
// §4.4.1's "allocation coalescing").
func (b *Builder) trackReservation(offset, pages uint64) {
	if n := len(b.reservations); n > 0 {
		last := &b.reservations[n-1]
		if last.offset+last.size == offset {
			last.size += pages
			return
		}
	}
	b.reservations = append(b.reservations, reservation{offset: offset, size: pages})
}

func (b *Builder) cancelAll() error {
	var firstErr error
	for _, r := range b.reservations {
		if err := b.allocator.Cancel(r.offset, r.size); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.reservations = nil
	return firstErr
}

func (b *Builder) commitAll() error {
	for _, r := range b.reservations {
		if err := b.allocator.Commit(r.offset, r.size); err != nil {
			return errs.Wrap("ctree.Builder.commitAll", errs.ErrIo, err)
		}
	}
	b.reservations = nil
	return nil
}
