package ioblk

import "fmt"

// MemDevice is an in-memory Device used by tests across the engine's
// packages, matching the in-memory page-map style of the teacher's
// pkg/btree/btree_test.go TestContext (a map standing in for a real device).
type MemDevice struct {
	pageSize int
	pages    [][]byte
	synced   int // number of pages the device held at the last Sync
}

// NewMemDevice creates an empty in-memory device with the given page size.
func NewMemDevice(pageSize int) *MemDevice {
	return &MemDevice{pageSize: pageSize}
}

func (d *MemDevice) PageSize() int { return d.pageSize }

func (d *MemDevice) ensure(pages uint64) {
	for uint64(len(d.pages)) < pages {
		d.pages = append(d.pages, make([]byte, d.pageSize))
	}
}

func (d *MemDevice) Read(buf []byte, pages int, pageOffset uint64) error {
	if len(buf) != pages*d.pageSize {
		return fmt.Errorf("ioblk.MemDevice.Read: bad buffer size")
	}
	for i := 0; i < pages; i++ {
		idx := pageOffset + uint64(i)
		if idx >= uint64(len(d.pages)) {
			return fmt.Errorf("ioblk.MemDevice.Read: page %d out of range", idx)
		}
		copy(buf[i*d.pageSize:(i+1)*d.pageSize], d.pages[idx])
	}
	return nil
}

func (d *MemDevice) Write(buf []byte, pages int, pageOffset uint64) error {
	if len(buf) != pages*d.pageSize {
		return fmt.Errorf("ioblk.MemDevice.Write: bad buffer size")
	}
	d.ensure(pageOffset + uint64(pages))
	for i := 0; i < pages; i++ {
		idx := pageOffset + uint64(i)
		copy(d.pages[idx], buf[i*d.pageSize:(i+1)*d.pageSize])
	}
	return nil
}

func (d *MemDevice) Sync() error {
	d.synced = len(d.pages)
	return nil
}

// CorruptByte flips a single byte at the given page/offset, used by
// integrity tests (spec.md §8 scenario S6).
func (d *MemDevice) CorruptByte(pageOffset uint64, byteOffset int) {
	d.pages[pageOffset][byteOffset] ^= 0xFF
}

// TotalPages reports the device's current size in pages.
func (d *MemDevice) TotalPages() uint64 { return uint64(len(d.pages)) }
