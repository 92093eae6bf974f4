// Package txlog implements the transaction log framer (spec.md §4.6): a
// writer that packs a transaction's items into CRC64-checked, page-aligned
// chunks, and a reader that replays them back in order. It is grounded in
// the teacher's pkg/wal package, reworked from an append-only file WAL with
// LSN-keyed entries and file rotation into a page-addressed, two-phase
// reserve/commit record built through the same ioblk.Device/alloc.Allocator
// capabilities the rest of the engine uses (spec.md §9 design note:
// "allocator and I/O as capabilities").
package txlog

import (
	"fmt"
	"hash/crc64"

	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// MaxChunkBytes bounds a chunk's accumulated item bytes before padding
// (spec.md §4.6).
const MaxChunkBytes = 128 * 1024

var crcTable = crc64.MakeTable(crc64.ISO)

func checksum(buf []byte) uint64 { return crc64.Checksum(buf, crcTable) }

type reservation struct {
	offset, size uint64
}

// Writer accumulates a transaction's items into chunks and frames them into
// a single log record on Finish. A Writer is single-use: call either Finish
// or Cancel exactly once.
type Writer struct {
	dev       ioblk.Device
	allocator alloc.Allocator
	pageSize  int

	cur    []byte
	chunks []ondisk.Pointer

	reservations []reservation
	failed       bool
	finished     bool
}

// NewWriter creates a Writer that frames items through dev, reserving space
// through allocator.
func NewWriter(dev ioblk.Device, allocator alloc.Allocator) *Writer {
	return &Writer{dev: dev, allocator: allocator, pageSize: dev.PageSize()}
}

// AppendItem adds one application-defined item to the transaction, flushing
// the current chunk first if the item would push it past MaxChunkBytes
// (spec.md §4.6: items are a `{size: u16}` header followed by raw bytes).
func (w *Writer) AppendItem(data []byte) error {
	if w.finished {
		return errs.Wrap("txlog.Writer.AppendItem", errs.ErrIntegrity,
			fmt.Errorf("append after Finish/Cancel"))
	}
	if w.failed {
		return errs.Wrap("txlog.Writer.AppendItem", errs.ErrIntegrity,
			fmt.Errorf("writer is in a failed state; call Cancel"))
	}
	if len(data) > 0xffff {
		return errs.Wrap("txlog.Writer.AppendItem", errs.ErrIntegrity,
			fmt.Errorf("item of %d bytes exceeds the 65535-byte header limit", len(data)))
	}
	if len(data) == 0 {
		return errs.Wrap("txlog.Writer.AppendItem", errs.ErrIntegrity,
			fmt.Errorf("empty item: a zero-length header marks end-of-chunk"))
	}

	var hdr [ondisk.LogChunkEntryHeaderSize]byte
	ondisk.LogChunkEntryHeader{Size: uint16(len(data))}.Encode(hdr[:])

	if len(w.cur)+len(hdr)+len(data) > MaxChunkBytes {
		if err := w.flushChunk(); err != nil {
			return err
		}
	}
	w.cur = append(w.cur, hdr[:]...)
	w.cur = append(w.cur, data...)
	return nil
}

// flushChunk pads the accumulated chunk to a whole page, reserves and
// writes it, and records its pointer. A trailing zero-length item header
// (which zero padding naturally produces) is the reader's end-of-chunk
// sentinel, so no extra length field is needed.
func (w *Writer) flushChunk() error {
	if len(w.cur) == 0 {
		return nil
	}
	pages := ceilDiv(len(w.cur), w.pageSize)
	buf := make([]byte, pages*w.pageSize)
	copy(buf, w.cur)
	w.cur = w.cur[:0]

	offset, err := w.allocator.Reserve(uint64(pages))
	if err != nil {
		return errs.Wrap("txlog.Writer.flushChunk", errs.ErrOutOfSpace, err)
	}

	if err := w.dev.Write(buf, pages, offset); err != nil {
		if cancelErr := w.allocator.Cancel(offset, uint64(pages)); cancelErr != nil {
			err = fmt.Errorf("%w (cancel also failed: %v)", err, cancelErr)
		}
		w.failed = true
		return errs.Wrap("txlog.Writer.flushChunk", errs.ErrIo, err)
	}

	w.reservations = append(w.reservations, reservation{offset: offset, size: uint64(pages)})
	w.chunks = append(w.chunks, ondisk.Pointer{Offs: offset, Size: uint64(pages), Csum: checksum(buf)})
	return nil
}

// Finish flushes any partial chunk, writes the chunk index (spec.md §4.6:
// `{chunk_count: u32, total_pages: u32}` followed by the pointer array) into
// a freshly reserved extent, commits every reservation the record touched,
// and returns a single pointer describing the whole log record.
func (w *Writer) Finish() (ondisk.Pointer, error) {
	if w.finished {
		return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrIntegrity,
			fmt.Errorf("Finish/Cancel called more than once"))
	}
	if w.failed {
		return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrIntegrity,
			fmt.Errorf("writer is in a failed state; call Cancel"))
	}
	w.finished = true

	if err := w.flushChunk(); err != nil {
		return ondisk.Pointer{}, err
	}

	totalPages := uint32(0)
	for _, c := range w.chunks {
		totalPages += uint32(c.Size)
	}

	indexBuf := make([]byte, ondisk.LogIndexHeaderSize+len(w.chunks)*ondisk.PointerSize)
	ondisk.LogIndexHeader{Chunks: uint32(len(w.chunks)), Pages: totalPages}.Encode(indexBuf[:ondisk.LogIndexHeaderSize])
	for i, c := range w.chunks {
		off := ondisk.LogIndexHeaderSize + i*ondisk.PointerSize
		c.Encode(indexBuf[off : off+ondisk.PointerSize])
	}

	pages := ceilDiv(len(indexBuf), w.pageSize)
	padded := make([]byte, pages*w.pageSize)
	copy(padded, indexBuf)

	indexOffset, err := w.allocator.Reserve(uint64(pages))
	if err != nil {
		w.cancelAll()
		return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrOutOfSpace, err)
	}
	if err := w.dev.Write(padded, pages, indexOffset); err != nil {
		w.allocator.Cancel(indexOffset, uint64(pages))
		w.cancelAll()
		return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrIo, err)
	}

	for _, r := range w.reservations {
		if err := w.allocator.Commit(r.offset, r.size); err != nil {
			return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrIo, err)
		}
	}
	if err := w.allocator.Commit(indexOffset, uint64(pages)); err != nil {
		return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrIo, err)
	}
	if err := w.dev.Sync(); err != nil {
		return ondisk.Pointer{}, errs.Wrap("txlog.Writer.Finish", errs.ErrIo, err)
	}

	return ondisk.Pointer{
		Offs: indexOffset,
		Size: uint64(pages),
		Csum: checksum(padded),
	}, nil
}

// Cancel aborts the transaction, cancelling every chunk reservation made so
// far. The index, never having been written while outstanding, needs no
// separate cancellation (spec.md §4.6).
func (w *Writer) Cancel() error {
	if w.finished {
		return nil
	}
	w.finished = true
	return w.cancelAll()
}

func (w *Writer) cancelAll() error {
	var firstErr error
	for _, r := range w.reservations {
		if err := w.allocator.Cancel(r.offset, r.size); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.reservations = nil
	return firstErr
}

func ceilDiv(n, d int) int {
	if n == 0 {
		return 0
	}
	return (n-1)/d + 1
}
