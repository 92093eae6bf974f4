// Package ondisk holds the little-endian, packed on-disk encodings shared by
// the ctree, lsm, and txlog packages. All integer fields are little-endian
// regardless of host byte order, matching the teacher's
// encoding/binary.LittleEndian usage throughout pkg/storage and pkg/btree.
package ondisk

import "encoding/binary"

const (
	// PointerSize is the encoded size of a Pointer in bytes.
	PointerSize = 24

	// TreeDescriptorSize is the encoded size of a TreeDescriptor in bytes.
	TreeDescriptorSize = 32

	// NumTrees is the fixed number of on-disk C-tree descriptors an LSM
	// container carries (N in spec.md).
	NumTrees = 8

	// NodeHeaderSize is the encoded size of a ctree node header.
	NodeHeaderSize = 16

	// NodeEntryHeaderSize is the encoded size of a ctree node entry header.
	NodeEntryHeaderSize = 4

	// LogChunkEntryHeaderSize is the encoded size of a txlog item header.
	LogChunkEntryHeaderSize = 2

	// LogIndexHeaderSize is the encoded size of a txlog chunk-index header.
	LogIndexHeaderSize = 8

	// MinFanout is the minimum number of entries a ctree node holds before
	// it is allowed to close on a page boundary (spec.md §6).
	MinFanout = 100
)

// Pointer locates a page-aligned contiguous extent on disk. Offs == 0 &&
// Size == 0 means "null" (spec.md §3).
type Pointer struct {
	Offs uint64
	Size uint64
	Csum uint64
}

// IsNull reports whether the pointer is the null sentinel.
func (p Pointer) IsNull() bool {
	return p.Offs == 0 && p.Size == 0
}

// Encode writes the pointer into buf[:PointerSize].
func (p Pointer) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], p.Offs)
	binary.LittleEndian.PutUint64(buf[8:16], p.Size)
	binary.LittleEndian.PutUint64(buf[16:24], p.Csum)
}

// DecodePointer reads a Pointer from buf[:PointerSize].
func DecodePointer(buf []byte) Pointer {
	return Pointer{
		Offs: binary.LittleEndian.Uint64(buf[0:8]),
		Size: binary.LittleEndian.Uint64(buf[8:16]),
		Csum: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// TreeDescriptor is a C-tree's on-disk descriptor: a pointer to the root
// node, the tree's height, and the total pages it consumes. Height 0 means
// the tree is empty (spec.md §3).
type TreeDescriptor struct {
	Root   Pointer
	Pages  uint32
	Height uint32
}

// IsEmpty reports whether the descriptor refers to an empty tree.
func (d TreeDescriptor) IsEmpty() bool {
	return d.Height == 0
}

// Encode writes the descriptor into buf[:TreeDescriptorSize].
func (d TreeDescriptor) Encode(buf []byte) {
	d.Root.Encode(buf[0:PointerSize])
	binary.LittleEndian.PutUint32(buf[PointerSize:PointerSize+4], d.Pages)
	binary.LittleEndian.PutUint32(buf[PointerSize+4:PointerSize+8], d.Height)
}

// DecodeTreeDescriptor reads a TreeDescriptor from buf[:TreeDescriptorSize].
func DecodeTreeDescriptor(buf []byte) TreeDescriptor {
	return TreeDescriptor{
		Root:   DecodePointer(buf[0:PointerSize]),
		Pages:  binary.LittleEndian.Uint32(buf[PointerSize : PointerSize+4]),
		Height: binary.LittleEndian.Uint32(buf[PointerSize+4 : PointerSize+8]),
	}
}

// EncodeTreeRecord serializes the fixed-size array of NumTrees
// TreeDescriptors (the LSM container's on-disk C-tree descriptor block).
func EncodeTreeRecord(descs [NumTrees]TreeDescriptor) []byte {
	buf := make([]byte, NumTrees*TreeDescriptorSize)
	for i, d := range descs {
		d.Encode(buf[i*TreeDescriptorSize : (i+1)*TreeDescriptorSize])
	}
	return buf
}

// DecodeTreeRecord deserializes NumTrees TreeDescriptors from buf.
func DecodeTreeRecord(buf []byte) ([NumTrees]TreeDescriptor, bool) {
	var descs [NumTrees]TreeDescriptor
	if len(buf) < NumTrees*TreeDescriptorSize {
		return descs, false
	}
	for i := range descs {
		descs[i] = DecodeTreeDescriptor(buf[i*TreeDescriptorSize : (i+1)*TreeDescriptorSize])
	}
	return descs, true
}

// NodeHeader is the 16-byte header of an on-disk ctree node.
type NodeHeader struct {
	BytesUsed uint64
	Level     uint64
}

// Encode writes the header into buf[:NodeHeaderSize].
func (h NodeHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.BytesUsed)
	binary.LittleEndian.PutUint64(buf[8:16], h.Level)
}

// DecodeNodeHeader reads a NodeHeader from buf[:NodeHeaderSize].
func DecodeNodeHeader(buf []byte) NodeHeader {
	return NodeHeader{
		BytesUsed: binary.LittleEndian.Uint64(buf[0:8]),
		Level:     binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// NodeEntryHeader is the 4-byte per-entry header inside a ctree node.
type NodeEntryHeader struct {
	KeySize uint16
	ValSize uint16
}

// Encode writes the entry header into buf[:NodeEntryHeaderSize].
func (h NodeEntryHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], h.KeySize)
	binary.LittleEndian.PutUint16(buf[2:4], h.ValSize)
}

// DecodeNodeEntryHeader reads a NodeEntryHeader from buf[:NodeEntryHeaderSize].
func DecodeNodeEntryHeader(buf []byte) NodeEntryHeader {
	return NodeEntryHeader{
		KeySize: binary.LittleEndian.Uint16(buf[0:2]),
		ValSize: binary.LittleEndian.Uint16(buf[2:4]),
	}
}

// LogChunkEntryHeader is the 2-byte size header preceding an item inside a
// transaction-log chunk.
type LogChunkEntryHeader struct {
	Size uint16
}

// Encode writes the header into buf[:LogChunkEntryHeaderSize].
func (h LogChunkEntryHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], h.Size)
}

// DecodeLogChunkEntryHeader reads a LogChunkEntryHeader from buf.
func DecodeLogChunkEntryHeader(buf []byte) LogChunkEntryHeader {
	return LogChunkEntryHeader{Size: binary.LittleEndian.Uint16(buf[0:2])}
}

// LogIndexHeader precedes the array of chunk pointers written by
// txlog.Writer.Finish.
type LogIndexHeader struct {
	Chunks uint32
	Pages  uint32
}

// Encode writes the header into buf[:LogIndexHeaderSize].
func (h LogIndexHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Chunks)
	binary.LittleEndian.PutUint32(buf[4:8], h.Pages)
}

// DecodeLogIndexHeader reads a LogIndexHeader from buf.
func DecodeLogIndexHeader(buf []byte) LogIndexHeader {
	return LogIndexHeader{
		Chunks: binary.LittleEndian.Uint32(buf[0:4]),
		Pages:  binary.LittleEndian.Uint32(buf[4:8]),
	}
}
