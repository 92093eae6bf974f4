package alloc

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/nainya/aulsmfs/pkg/errs"
)

// extent is a half-open page range [Offset, Offset+Size).
type extent struct {
	Offset uint64
	Size   uint64
}

func (e extent) end() uint64 { return e.Offset + e.Size }

func (e extent) overlaps(o extent) bool {
	return e.Offset < o.end() && o.Offset < e.end()
}

// FileExtentAllocator is a concrete Allocator tracking free and reserved
// page extents in memory, generalizing the teacher's pkg/storage/freelist.go
// (an unrolled linked list recycling single pages) to variable-length
// extents with an explicit reserve/commit split, per spec.md §4.2 and
// original_source/inc/lsm.h's two-phase lsm_alloc contract. Per spec.md §5
// ("no interior locking... callers serialize"), this type holds no mutex;
// callers must not call it concurrently.
type FileExtentAllocator struct {
	free     []extent // committed, currently-unused extents, sorted by offset
	reserved []extent // outstanding reservations, not yet committed or cancelled
	frontier uint64   // first never-allocated page
}

// NewFileExtentAllocator creates an allocator whose committed space begins
// at startPage (typically just past a superblock/meta region) and whose
// growth frontier also starts there.
func NewFileExtentAllocator(startPage uint64) *FileExtentAllocator {
	return &FileExtentAllocator{frontier: startPage}
}

// Reserve implements Allocator. It first tries a best-fit match within the
// committed free list; failing that, it grows the frontier.
func (a *FileExtentAllocator) Reserve(sizePages uint64) (uint64, error) {
	if sizePages == 0 {
		return 0, errs.Wrap("alloc.Reserve", errs.ErrOutOfSpace,
			fmt.Errorf("cannot reserve zero pages"))
	}

	if idx, ok := a.bestFit(sizePages); ok {
		ext := a.free[idx]
		a.free = append(a.free[:idx], a.free[idx+1:]...)

		offset := ext.Offset
		if ext.Size > sizePages {
			a.free = append(a.free, extent{Offset: ext.Offset + sizePages, Size: ext.Size - sizePages})
			a.sortFree()
		}
		a.reserved = append(a.reserved, extent{Offset: offset, Size: sizePages})
		return offset, nil
	}

	offset := a.frontier
	a.frontier += sizePages
	a.reserved = append(a.reserved, extent{Offset: offset, Size: sizePages})
	return offset, nil
}

// bestFit finds the smallest free extent that fits sizePages, minimizing
// fragmentation versus a plain first-fit.
func (a *FileExtentAllocator) bestFit(sizePages uint64) (int, bool) {
	best := -1
	for i, e := range a.free {
		if e.Size < sizePages {
			continue
		}
		if best == -1 || e.Size < a.free[best].Size {
			best = i
		}
	}
	return best, best != -1
}

// Commit implements Allocator. offsetPages/sizePages may cover exactly one
// outstanding reservation or a contiguous run of several — the ctree
// builder coalesces adjacent Reserve calls into single tracked ranges
// before committing them (spec.md §4.4.1's "allocation coalescing"), so
// Commit/Cancel must accept either shape.
func (a *FileExtentAllocator) Commit(offsetPages, sizePages uint64) error {
	idxs, err := a.takeReservations(offsetPages, sizePages)
	if err != nil {
		return errs.Wrap("alloc.Commit", errs.ErrIo, err)
	}
	a.removeReserved(idxs)
	return nil
}

// Cancel implements Allocator, returning the extent to the committed free
// list so it can be reused by a later Reserve.
func (a *FileExtentAllocator) Cancel(offsetPages, sizePages uint64) error {
	idxs, err := a.takeReservations(offsetPages, sizePages)
	if err != nil {
		return errs.Wrap("alloc.Cancel", errs.ErrIo, err)
	}
	a.removeReserved(idxs)
	a.releaseToFree(offsetPages, sizePages)
	return nil
}

// Free implements Allocator: releases a previously committed extent back to
// the free list.
func (a *FileExtentAllocator) Free(offsetPages, sizePages uint64) error {
	a.releaseToFree(offsetPages, sizePages)
	return nil
}

// takeReservations locates the set of outstanding reservations whose union
// is exactly [offsetPages, offsetPages+sizePages): either a single
// reservation made by one Reserve call, or a contiguous run of several that
// a caller coalesced into one tracked range before Commit/Cancel.
func (a *FileExtentAllocator) takeReservations(offsetPages, sizePages uint64) ([]int, error) {
	want := extent{Offset: offsetPages, Size: sizePages}
	var idxs []int
	cur := offsetPages
	for cur < want.end() {
		found := -1
		for i, e := range a.reserved {
			if e.Offset == cur {
				found = i
				break
			}
		}
		if found == -1 {
			return nil, fmt.Errorf("no matching reservation at offset %d size %d", offsetPages, sizePages)
		}
		idxs = append(idxs, found)
		cur = a.reserved[found].end()
	}
	if cur != want.end() {
		return nil, fmt.Errorf("reservations covering offset %d size %d overshoot the requested range", offsetPages, sizePages)
	}
	return idxs, nil
}

// removeReserved deletes the reservations at idxs (as returned by
// takeReservations) from a.reserved.
func (a *FileExtentAllocator) removeReserved(idxs []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(idxs)))
	for _, i := range idxs {
		a.reserved = append(a.reserved[:i], a.reserved[i+1:]...)
	}
}

// releaseToFree inserts the extent into the free list, coalescing with
// adjacent neighbors exactly the way the ctree builder coalesces its
// tracked reservation ranges (spec.md §4.4.1's "allocation coalescing").
func (a *FileExtentAllocator) releaseToFree(offsetPages, sizePages uint64) {
	e := extent{Offset: offsetPages, Size: sizePages}
	a.free = append(a.free, e)
	a.sortFree()
	a.coalesceFree()
}

func (a *FileExtentAllocator) sortFree() {
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Offset < a.free[j].Offset })
}

func (a *FileExtentAllocator) coalesceFree() {
	if len(a.free) < 2 {
		return
	}
	merged := a.free[:1]
	for _, e := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.end() == e.Offset {
			last.Size += e.Size
			continue
		}
		merged = append(merged, e)
	}
	a.free = merged
}

// FreePages reports the total number of committed-but-unused pages.
func (a *FileExtentAllocator) FreePages() uint64 {
	var total uint64
	for _, e := range a.free {
		total += e.Size
	}
	return total
}

// ReservedPages reports the total number of outstanding (not yet committed
// or cancelled) reserved pages.
func (a *FileExtentAllocator) ReservedPages() uint64 {
	var total uint64
	for _, e := range a.reserved {
		total += e.Size
	}
	return total
}

// Frontier reports the first never-allocated page, i.e. the current size of
// the volume in pages.
func (a *FileExtentAllocator) Frontier() uint64 {
	return a.frontier
}

// Serialize encodes the committed free list and growth frontier, matching
// the shape of pkg/storage/freelist.go's Serialize/Deserialize pair so a
// volume's superblock can persist allocator state across a reopen.
// Outstanding reservations are deliberately not persisted: spec.md's
// reserve/commit contract only promises persistence after Commit, so a
// crash between Reserve and Commit is expected to lose the reservation.
func (a *FileExtentAllocator) Serialize() []byte {
	buf := make([]byte, 8+4+len(a.free)*16)
	binary.LittleEndian.PutUint64(buf[0:8], a.frontier)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(a.free)))
	for i, e := range a.free {
		off := 12 + i*16
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Offset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Size)
	}
	return buf
}

// DeserializeFileExtentAllocator decodes an allocator previously written by
// Serialize.
func DeserializeFileExtentAllocator(buf []byte) (*FileExtentAllocator, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("alloc.Deserialize: buffer too short")
	}
	a := &FileExtentAllocator{frontier: binary.LittleEndian.Uint64(buf[0:8])}
	count := binary.LittleEndian.Uint32(buf[8:12])
	if len(buf) < 12+int(count)*16 {
		return nil, fmt.Errorf("alloc.Deserialize: truncated free list")
	}
	a.free = make([]extent, count)
	for i := range a.free {
		off := 12 + i*16
		a.free[i] = extent{
			Offset: binary.LittleEndian.Uint64(buf[off : off+8]),
			Size:   binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
	}
	return a, nil
}
