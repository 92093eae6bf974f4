// Package ctree implements the immutable, bulk-built, page-aligned,
// CRC-checked on-disk B+ tree run (spec.md §4.4), grounded in the teacher's
// pkg/btree package (BNode's byte-slice node, the header+entries layout, and
// the stack-of-(node,index) iterator in pkg/btree/iterator.go), adapted to
// the spec's exact on-disk layout: a {bytes_used, level} header followed by
// a packed sequence of {key_size, val_size} entries with no on-disk offset
// table. Per spec.md §9's design note, the in-memory Node keeps a parsed
// side-table of entry offsets alongside the owned byte buffer rather than
// the teacher's on-disk offset array.
package ctree

import (
	"fmt"

	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// entryPos records where one entry's key and value live within a Node's
// buffer. It exists only in memory; nothing like it is written to disk.
type entryPos struct {
	keyOff, keySize int
	valOff, valSize int
}

// Node is an owned byte buffer for one ctree node, plus a parsed side-table
// of entry offsets. The buffer is the sole owner of key/value bytes; entry
// accessors return slices borrowed from it (spec.md §9 design note).
type Node struct {
	buf     []byte // header (first NodeHeaderSize bytes) + packed entries
	level   uint64
	entries []entryPos
}

// NewNode creates an empty in-progress node at the given B+ tree level
// (0 = leaf), used by Builder while accumulating entries.
func NewNode(level uint64) *Node {
	return &Node{
		buf:   make([]byte, ondisk.NodeHeaderSize),
		level: level,
	}
}

// ParseNode decodes a node from a freshly-read, CRC-already-verified page
// buffer. expectedLevel must match the header's recorded level, matching
// spec.md §4.4.3: "level recorded in the header must match the level
// expected by the caller's descent, else data-integrity error."
func ParseNode(buf []byte, expectedLevel uint64) (*Node, error) {
	if len(buf) < ondisk.NodeHeaderSize {
		return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
			fmt.Errorf("buffer shorter than node header"))
	}
	header := ondisk.DecodeNodeHeader(buf)
	if header.Level != expectedLevel {
		return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
			fmt.Errorf("node level %d != expected %d", header.Level, expectedLevel))
	}
	if header.BytesUsed < uint64(ondisk.NodeHeaderSize) || header.BytesUsed > uint64(len(buf)) {
		return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
			fmt.Errorf("bytes_used %d out of bounds for buffer of %d bytes", header.BytesUsed, len(buf)))
	}

	n := &Node{buf: buf, level: header.Level}
	pos := ondisk.NodeHeaderSize
	used := int(header.BytesUsed)
	for pos < used {
		if pos+ondisk.NodeEntryHeaderSize > used {
			return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
				fmt.Errorf("entry header overruns node bounds at %d", pos))
		}
		eh := ondisk.DecodeNodeEntryHeader(buf[pos : pos+ondisk.NodeEntryHeaderSize])
		pos += ondisk.NodeEntryHeaderSize

		keyOff := pos
		pos += int(eh.KeySize)
		valOff := pos
		pos += int(eh.ValSize)
		if pos > used {
			return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
				fmt.Errorf("entry data overruns node bounds at %d", pos))
		}
		if header.Level > 0 && eh.ValSize != ondisk.PointerSize {
			return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
				fmt.Errorf("internal entry value size %d != %d", eh.ValSize, ondisk.PointerSize))
		}

		n.entries = append(n.entries, entryPos{
			keyOff: keyOff, keySize: int(eh.KeySize),
			valOff: valOff, valSize: int(eh.ValSize),
		})
	}
	if pos != used {
		return nil, errs.Wrap("ctree.ParseNode", errs.ErrIntegrity,
			fmt.Errorf("trailing %d bytes not consumed by entries", used-pos))
	}

	return n, nil
}

// Level reports the node's B+ tree level (0 = leaf).
func (n *Node) Level() uint64 { return n.level }

// IsLeaf reports whether this is a leaf node.
func (n *Node) IsLeaf() bool { return n.level == 0 }

// NEntries reports the number of entries currently in the node.
func (n *Node) NEntries() int { return len(n.entries) }

// NBytes reports the node's current raw size in bytes (header + entries),
// before any page-boundary padding.
func (n *Node) NBytes() int { return len(n.buf) }

// Key returns the key at idx (zero-copy into the node's owned buffer).
func (n *Node) Key(idx int) []byte {
	if idx < 0 || idx >= len(n.entries) {
		panic(fmt.Sprintf("ctree.Node.Key: index %d out of range [0,%d)", idx, len(n.entries)))
	}
	e := n.entries[idx]
	return n.buf[e.keyOff : e.keyOff+e.keySize]
}

// Val returns the value at idx (zero-copy into the node's owned buffer).
// For an internal node this is a 24-byte encoded child Pointer.
func (n *Node) Val(idx int) []byte {
	if idx < 0 || idx >= len(n.entries) {
		panic(fmt.Sprintf("ctree.Node.Val: index %d out of range [0,%d)", idx, len(n.entries)))
	}
	e := n.entries[idx]
	return n.buf[e.valOff : e.valOff+e.valSize]
}

// ChildPointer decodes the value at idx as a child Pointer. Callers must
// only call this on internal (level > 0) nodes; ParseNode already rejects
// internal entries whose value size isn't PointerSize.
func (n *Node) ChildPointer(idx int) ondisk.Pointer {
	return ondisk.DecodePointer(n.Val(idx))
}

// Append adds one entry to an in-progress (builder-owned) node. Key and
// value sizes must each fit in 16 bits (spec.md §3).
func (n *Node) Append(key, val []byte) error {
	if len(key) > 0xFFFF || len(val) > 0xFFFF {
		return errs.Wrap("ctree.Node.Append", errs.ErrIntegrity,
			fmt.Errorf("key/value size exceeds 65535 bytes"))
	}

	eh := ondisk.NodeEntryHeader{KeySize: uint16(len(key)), ValSize: uint16(len(val))}
	var hbuf [ondisk.NodeEntryHeaderSize]byte
	eh.Encode(hbuf[:])

	n.buf = append(n.buf, hbuf[:]...)
	keyOff := len(n.buf)
	n.buf = append(n.buf, key...)
	valOff := len(n.buf)
	n.buf = append(n.buf, val...)

	n.entries = append(n.entries, entryPos{
		keyOff: keyOff, keySize: len(key),
		valOff: valOff, valSize: len(val),
	})
	return nil
}

// PagesFor reports how many whole pages are needed to hold the node's
// current content at the given page size.
func (n *Node) PagesFor(pageSize int) int {
	return ceilDiv(len(n.buf), pageSize)
}

// WouldSpanMorePages reports whether appending extraBytes more raw content
// would push the node from its current page count to a higher one
// (spec.md §4.4.1's "appending the next entry would force it to cross a
// page boundary").
func (n *Node) WouldSpanMorePages(extraBytes, pageSize int) bool {
	return ceilDiv(len(n.buf)+extraBytes, pageSize) > n.PagesFor(pageSize)
}

// EntrySize computes the encoded size of a prospective entry, for fullness
// checks before it is actually appended.
func EntrySize(key, val []byte) int {
	return ondisk.NodeEntryHeaderSize + len(key) + len(val)
}

// Finalize returns a zero-padded, page-aligned copy of the node ready to be
// written and checksummed: bytes_used and level are stamped into the
// header, and the buffer is padded with zero bytes up to a whole number of
// pages (spec.md §3's "padding bytes are zero").
func (n *Node) Finalize(pageSize int) []byte {
	used := len(n.buf)
	pages := ceilDiv(used, pageSize)
	total := pages * pageSize

	out := make([]byte, total)
	copy(out, n.buf)

	header := ondisk.NodeHeader{BytesUsed: uint64(used), Level: n.level}
	header.Encode(out[:ondisk.NodeHeaderSize])
	return out
}

func ceilDiv(n, d int) int {
	if n == 0 {
		return 0
	}
	return (n + d - 1) / d
}
