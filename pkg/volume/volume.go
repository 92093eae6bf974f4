// Package volume ties ioblk, alloc, and lsm together behind a single
// on-disk file, reading and writing a minimal superblock so a container can
// be closed and reopened. It is grounded in
// original_source/inc/aulsmfs.h's `struct aulsmfs_super` (magic, version,
// page_size, and the blockmap/rootmap tree descriptors), stripped of the
// inode/directory-tree fields that belong to the out-of-scope filesystem
// front-end (spec.md's Non-goals) — what's left is exactly the header a
// bare LSM engine needs to find its allocator state and its tree record
// again on reopen.
package volume

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"

	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
	"github.com/nainya/aulsmfs/pkg/lsm"
	"github.com/nainya/aulsmfs/pkg/mtree"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// magic identifies an aulsmfs volume file, matching aulsmfs.h's role for
// `aulsmfs_super.magic` (value is this engine's own, not the original's).
const magic uint64 = 0x316d666c736c7561 // "aulslfm1" little-endian

const formatVersion uint64 = 1

// metaPage is the single page reserved for the superblock itself; the
// allocator's growth frontier starts immediately after it.
const metaPage uint64 = 1

// superblockSize is the fixed encoded size of a superblock: magic(8) +
// version(8) + page_size(8) + tree record (NumTrees * TreeDescriptorSize) +
// alloc state pointer (PointerSize) + csum(8).
const superblockSize = 8 + 8 + 8 + ondisk.NumTrees*ondisk.TreeDescriptorSize + ondisk.PointerSize + 8

var crcTable = crc64.MakeTable(crc64.ISO)

func checksum(buf []byte) uint64 { return crc64.Checksum(buf, crcTable) }

type superblock struct {
	pageSize   uint64
	trees      [ondisk.NumTrees]ondisk.TreeDescriptor
	allocState ondisk.Pointer
}

func (sb superblock) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], magic)
	binary.LittleEndian.PutUint64(buf[8:16], formatVersion)
	binary.LittleEndian.PutUint64(buf[16:24], sb.pageSize)
	off := 24
	treeBuf := ondisk.EncodeTreeRecord(sb.trees)
	copy(buf[off:off+len(treeBuf)], treeBuf)
	off += len(treeBuf)
	sb.allocState.Encode(buf[off : off+ondisk.PointerSize])
	off += ondisk.PointerSize
	binary.LittleEndian.PutUint64(buf[off:off+8], checksum(buf[:off]))
}

func decodeSuperblock(buf []byte) (superblock, error) {
	var sb superblock
	if len(buf) < superblockSize {
		return sb, errs.Wrap("volume.decodeSuperblock", errs.ErrIntegrity,
			fmt.Errorf("buffer shorter than a superblock"))
	}
	if binary.LittleEndian.Uint64(buf[0:8]) != magic {
		return sb, errs.Wrap("volume.decodeSuperblock", errs.ErrIntegrity,
			fmt.Errorf("bad magic"))
	}
	if version := binary.LittleEndian.Uint64(buf[8:16]); version != formatVersion {
		return sb, errs.Wrap("volume.decodeSuperblock", errs.ErrIntegrity,
			fmt.Errorf("unsupported volume format version %d", version))
	}
	sb.pageSize = binary.LittleEndian.Uint64(buf[16:24])
	off := 24
	treeBuf := buf[off : off+ondisk.NumTrees*ondisk.TreeDescriptorSize]
	trees, ok := ondisk.DecodeTreeRecord(treeBuf)
	if !ok {
		return sb, errs.Wrap("volume.decodeSuperblock", errs.ErrIntegrity,
			fmt.Errorf("truncated tree record"))
	}
	sb.trees = trees
	off += len(treeBuf)
	sb.allocState = ondisk.DecodePointer(buf[off : off+ondisk.PointerSize])
	off += ondisk.PointerSize

	want := binary.LittleEndian.Uint64(buf[off : off+8])
	if got := checksum(buf[:off]); got != want {
		return sb, errs.Wrap("volume.decodeSuperblock", errs.ErrIntegrity,
			fmt.Errorf("superblock checksum mismatch"))
	}
	return sb, nil
}

// Volume owns a single backing file, its allocator, and the LSM container
// built on top of them.
type Volume struct {
	dev        *ioblk.FileDevice
	allocator  *alloc.FileExtentAllocator
	cmp        mtree.Comparator
	pageSize   int
	allocState ondisk.Pointer

	LSM *lsm.LSM
}

// Format creates a fresh, empty volume at path.
func Format(path string, pageSize int, cmp mtree.Comparator) (*Volume, error) {
	if pageSize < superblockSize {
		return nil, errs.Wrap("volume.Format", errs.ErrIntegrity,
			fmt.Errorf("page size %d too small to hold a %d-byte superblock", pageSize, superblockSize))
	}
	dev, err := ioblk.OpenFileDevice(path, pageSize)
	if err != nil {
		return nil, err
	}
	if err := dev.Truncate(metaPage); err != nil {
		dev.Close()
		return nil, err
	}
	a := alloc.NewFileExtentAllocator(metaPage)
	v := &Volume{
		dev:       dev,
		allocator: a,
		cmp:       cmp,
		pageSize:  pageSize,
		LSM:       lsm.New(dev, a, cmp),
	}
	if err := v.Save(); err != nil {
		dev.Close()
		return nil, err
	}
	return v, nil
}

// Open loads an existing volume, restoring its allocator state and LSM tree
// record from the on-disk superblock.
func Open(path string, pageSize int, cmp mtree.Comparator) (*Volume, error) {
	dev, err := ioblk.OpenFileDevice(path, pageSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, pageSize)
	if err := dev.Read(buf, int(metaPage), 0); err != nil {
		dev.Close()
		return nil, err
	}
	sb, err := decodeSuperblock(buf)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if sb.pageSize != uint64(pageSize) {
		dev.Close()
		return nil, errs.Wrap("volume.Open", errs.ErrIntegrity,
			fmt.Errorf("volume page size %d does not match requested %d", sb.pageSize, pageSize))
	}

	stateBuf := make([]byte, sb.allocState.Size*uint64(pageSize))
	if err := dev.Read(stateBuf, int(sb.allocState.Size), sb.allocState.Offs); err != nil {
		dev.Close()
		return nil, err
	}
	if checksum(stateBuf) != sb.allocState.Csum {
		dev.Close()
		return nil, errs.Wrap("volume.Open", errs.ErrIntegrity,
			fmt.Errorf("allocator state checksum mismatch"))
	}
	a, err := alloc.DeserializeFileExtentAllocator(stateBuf)
	if err != nil {
		dev.Close()
		return nil, errs.Wrap("volume.Open", errs.ErrIntegrity, err)
	}

	l := lsm.New(dev, a, cmp)
	if err := l.Parse(ondisk.EncodeTreeRecord(sb.trees)); err != nil {
		dev.Close()
		return nil, err
	}

	return &Volume{
		dev:        dev,
		allocator:  a,
		cmp:        cmp,
		pageSize:   pageSize,
		allocState: sb.allocState,
		LSM:        l,
	}, nil
}

// Save persists the current allocator state and LSM tree record into a
// fresh allocator-state extent and rewrites the superblock to point at it.
// The previous allocator-state extent, if any, is freed.
func (v *Volume) Save() error {
	stateBuf := v.allocator.Serialize()
	pages := ceilDiv(len(stateBuf), v.pageSize)
	padded := make([]byte, pages*v.pageSize)
	copy(padded, stateBuf)

	offset, err := v.allocator.Reserve(uint64(pages))
	if err != nil {
		return err
	}
	if err := v.dev.Write(padded, pages, offset); err != nil {
		v.allocator.Cancel(offset, uint64(pages))
		return err
	}
	if err := v.allocator.Commit(offset, uint64(pages)); err != nil {
		return err
	}

	newState := ondisk.Pointer{Offs: offset, Size: uint64(pages), Csum: checksum(padded)}

	trees, ok := ondisk.DecodeTreeRecord(v.LSM.Dump())
	if !ok {
		return errs.Wrap("volume.Volume.Save", errs.ErrIntegrity,
			fmt.Errorf("LSM.Dump produced a malformed tree record"))
	}
	sb := superblock{pageSize: uint64(v.pageSize), trees: trees, allocState: newState}
	buf := make([]byte, v.pageSize)
	sb.encode(buf)

	if err := v.dev.Write(buf, int(metaPage), 0); err != nil {
		return err
	}
	if err := v.dev.Sync(); err != nil {
		return err
	}

	if !v.allocState.IsNull() {
		v.allocator.Free(v.allocState.Offs, v.allocState.Size)
	}
	v.allocState = newState
	return nil
}

// Close syncs and releases the backing file.
func (v *Volume) Close() error {
	syncErr := v.dev.Sync()
	closeErr := v.dev.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// AllocStats reports the volume's allocator occupancy, for
// internal/metrics' aulsmfs_alloc_reserved_pages/aulsmfs_alloc_committed_pages
// gauges: committed pages are those handed out by the frontier that are
// neither outstanding reservations nor back on the free list.
func (v *Volume) AllocStats() (reservedPages, committedPages uint64) {
	reservedPages = v.allocator.ReservedPages()
	committedPages = v.allocator.Frontier() - reservedPages - v.allocator.FreePages()
	return reservedPages, committedPages
}

// PageSize returns the volume's fixed page size in bytes.
func (v *Volume) PageSize() int { return v.pageSize }

func ceilDiv(n, d int) int {
	if n == 0 {
		return 1
	}
	return (n-1)/d + 1
}
